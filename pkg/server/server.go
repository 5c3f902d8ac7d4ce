package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/metrics"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/query"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/timeseries"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the player-count API plus health checks and metrics
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	queries    *query.Service
	readiness  Pinger
}

// New creates a server exposing only health checks and metrics, for
// processes without an API surface such as the scraper.
func New(addr string, l *logger.Logger) *Server {
	return newServer(addr, l, nil, nil)
}

// NewAPI creates a server exposing the query endpoints on top of the
// health checks and metrics
func NewAPI(addr string, l *logger.Logger, q *query.Service, readiness Pinger) *Server {
	return newServer(addr, l, q, readiness)
}

func newServer(addr string, l *logger.Logger, q *query.Service, readiness Pinger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    l,
		queries:   q,
		readiness: readiness,
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	if q != nil {
		mux.HandleFunc("GET /api/player-count", s.instrument("player-count", s.handlePlayerCount))
		mux.HandleFunc("GET /api/player-count/combined", s.instrument("combined", s.handleCombined))
		mux.HandleFunc("GET /api/player-count/by-type", s.instrument("by-type", s.handleByType))
		mux.HandleFunc("GET /api/player-count/by-region", s.instrument("by-region", s.handleByRegion))
		mux.HandleFunc("GET /api/player-count/by-activity", s.instrument("by-activity", s.handleByActivity))
		mux.HandleFunc("GET /api/player-count/world/{id}", s.instrument("by-world", s.handleByWorld))
		mux.HandleFunc("GET /api/worlds/latest", s.instrument("latest", s.handleLatest))
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		if err := s.readiness.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handlePlayerCount(w http.ResponseWriter, r *http.Request) {
	game := r.URL.Query().Get("game")
	if game == "" {
		game = string(store.GameOSRS)
	}

	params, err := parseParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	series, err := s.queries.PlayerCount(r.Context(), store.Game(game), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) handleCombined(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	series, err := s.queries.Combined(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) handleByType(w http.ResponseWriter, r *http.Request) {
	s.handleGrouped(w, r, s.queries.ByType)
}

func (s *Server) handleByRegion(w http.ResponseWriter, r *http.Request) {
	s.handleGrouped(w, r, s.queries.ByRegion)
}

func (s *Server) handleByActivity(w http.ResponseWriter, r *http.Request) {
	s.handleGrouped(w, r, s.queries.ByActivity)
}

func (s *Server) handleGrouped(w http.ResponseWriter, r *http.Request, fn func(context.Context, query.Params) ([]query.LabeledSeries, error)) {
	params, err := parseParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	series, err := fn(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) handleByWorld(w http.ResponseWriter, r *http.Request) {
	worldID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "world id must be an integer", http.StatusBadRequest)
		return
	}

	params, err := parseParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	series, err := s.queries.ByWorld(r.Context(), worldID, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, series)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.queries.LatestSnapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, snaps)
}

// parseParams reads the common time-series query parameters. Timestamps are
// RFC3339; anything else is a caller error.
func parseParams(r *http.Request) (query.Params, error) {
	q := r.URL.Query()
	params := query.Params{
		Granularity: q.Get("granularity"),
		Aggregation: q.Get("agg"),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, errBadTimestamp("start", v)
		}
		params.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, errBadTimestamp("end", v)
		}
		params.End = t
	}
	return params, nil
}

// badParamError marks caller input errors detected before the query layer
type badParamError string

func (e badParamError) Error() string { return string(e) }

func errBadTimestamp(name, value string) error {
	return badParamError(name + " must be RFC3339, got " + strconv.Quote(value))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto status codes: caller input errors
// are 400, unknown selectors and an empty store are 404, the rest 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var badParam badParamError

	switch {
	case errors.Is(err, timeseries.ErrInvalidRange),
		errors.Is(err, timeseries.ErrInvalidGranularity),
		errors.Is(err, timeseries.ErrInvalidAggregation),
		errors.Is(err, store.ErrInvalidGame),
		errors.As(err, &badParam):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrWorldNotFound), errors.Is(err, store.ErrEmptyStore):
		status = http.StatusNotFound
	default:
		s.logger.Error("query failed", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// instrument wraps a handler with request counting and latency observation
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start runs the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
