package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/cache"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/timeseries"
)

// defaultWindow is the time range applied when the caller omits start/end
const defaultWindow = 24 * time.Hour

// ReadStore is the snapshot read interface the service queries. All series
// methods must return observations sorted by timestamp ascending,
// deduplicated per the per-run uniqueness rules.
type ReadStore interface {
	TotalObservations(ctx context.Context, game store.Game, start, end time.Time) ([]timeseries.Observation, error)
	CombinedObservations(ctx context.Context, start, end time.Time) ([]timeseries.Observation, error)
	WorldObservations(ctx context.Context, worldID int, start, end time.Time) ([]timeseries.Observation, error)
	WorldSeen(ctx context.Context, worldID int) (bool, error)
	GroupedObservations(ctx context.Context, group store.GroupColumn, start, end time.Time) (map[string][]timeseries.Observation, error)
	LatestWorldSnapshots(ctx context.Context) ([]store.WorldSnapshot, error)
}

// Params are the common time-series query parameters. Zero times default to
// the last 24 hours; empty tokens default to hourly averages.
type Params struct {
	Start       time.Time
	End         time.Time
	Granularity string
	Aggregation string
}

// Series is one bucketed time series
type Series struct {
	Buckets []timeseries.Bucket `json:"buckets"`
}

// LabeledSeries is one bucketed time series for one group value
type LabeledSeries struct {
	Label   string              `json:"label"`
	Buckets []timeseries.Bucket `json:"buckets"`
}

// Service exposes the aggregation engine over the snapshot store, one
// method per API view. Each call is a single read-only pass; nothing is
// shared between requests.
type Service struct {
	logger *logger.Logger
	store  ReadStore
	cache  cache.SnapshotCache
	now    func() time.Time
}

// New creates a query Service
func New(l *logger.Logger, s ReadStore, c cache.SnapshotCache) *Service {
	return &Service{
		logger: l,
		store:  s,
		cache:  c,
		now:    time.Now,
	}
}

// PlayerCount returns the bucketed total-count series for one game
func (s *Service) PlayerCount(ctx context.Context, game store.Game, p Params) (Series, error) {
	game, err := store.ParseGame(string(game))
	if err != nil {
		return Series{}, err
	}

	start, end, g, mode, err := s.normalize(p)
	if err != nil {
		return Series{}, err
	}

	obs, err := s.store.TotalObservations(ctx, game, start, end)
	if err != nil {
		return Series{}, err
	}
	return bucketize(obs, start, end, g, mode)
}

// Combined returns the bucketed RS3+OSRS series. Runs missing one side are
// excluded by the store query, so the sum never counts a partial pair.
func (s *Service) Combined(ctx context.Context, p Params) (Series, error) {
	start, end, g, mode, err := s.normalize(p)
	if err != nil {
		return Series{}, err
	}

	obs, err := s.store.CombinedObservations(ctx, start, end)
	if err != nil {
		return Series{}, err
	}
	return bucketize(obs, start, end, g, mode)
}

// ByType returns one series per world type (F2P / Members)
func (s *Service) ByType(ctx context.Context, p Params) ([]LabeledSeries, error) {
	return s.grouped(ctx, store.GroupByType, p)
}

// ByRegion returns one series per world region
func (s *Service) ByRegion(ctx context.Context, p Params) ([]LabeledSeries, error) {
	return s.grouped(ctx, store.GroupByRegion, p)
}

// ByActivity returns one series per activity label. The empty label is a
// group of its own, not dropped.
func (s *Service) ByActivity(ctx context.Context, p Params) ([]LabeledSeries, error) {
	return s.grouped(ctx, store.GroupByActivity, p)
}

// ByWorld returns the bucketed population series for one world. A world id
// never observed in any range fails with store.ErrWorldNotFound.
func (s *Service) ByWorld(ctx context.Context, worldID int, p Params) (Series, error) {
	start, end, g, mode, err := s.normalize(p)
	if err != nil {
		return Series{}, err
	}

	seen, err := s.store.WorldSeen(ctx, worldID)
	if err != nil {
		return Series{}, err
	}
	if !seen {
		return Series{}, fmt.Errorf("%w: world %d", store.ErrWorldNotFound, worldID)
	}

	obs, err := s.store.WorldObservations(ctx, worldID, start, end)
	if err != nil {
		return Series{}, err
	}
	return bucketize(obs, start, end, g, mode)
}

// LatestSnapshot returns one row per world as of the most recent collection
// run, reading through the snapshot cache. An empty store fails with
// store.ErrEmptyStore.
func (s *Service) LatestSnapshot(ctx context.Context) ([]store.WorldSnapshot, error) {
	if s.cache != nil {
		snaps, err := s.cache.Load(ctx)
		if err != nil {
			s.logger.Warn("snapshot cache load failed", zap.Error(err))
		} else if len(snaps) > 0 {
			return snaps, nil
		}
	}
	return s.store.LatestWorldSnapshots(ctx)
}

// grouped is the shared group-then-bucket shape behind ByType, ByRegion and
// ByActivity: the store sums per (run, group value), then each group's
// series is bucketed independently. Groups with no observations in the
// whole range are omitted; series are sorted by label so identical queries
// serialize identically.
func (s *Service) grouped(ctx context.Context, group store.GroupColumn, p Params) ([]LabeledSeries, error) {
	start, end, g, mode, err := s.normalize(p)
	if err != nil {
		return nil, err
	}

	byLabel, err := s.store.GroupedObservations(ctx, group, start, end)
	if err != nil {
		return nil, err
	}

	series := make([]LabeledSeries, 0, len(byLabel))
	for label, obs := range byLabel {
		buckets, err := timeseries.Aggregate(obs, start, end, g, mode)
		if err != nil {
			return nil, err
		}
		series = append(series, LabeledSeries{Label: label, Buckets: buckets})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Label < series[j].Label })
	return series, nil
}

// normalize applies defaults and validates the common parameters. Invalid
// input is never coerced: a reversed range errors instead of being swapped.
func (s *Service) normalize(p Params) (start, end time.Time, g timeseries.Granularity, mode timeseries.Mode, err error) {
	now := s.now().UTC()
	start, end = p.Start.UTC(), p.End.UTC()
	if p.Start.IsZero() {
		start = now.Add(-defaultWindow)
	}
	if p.End.IsZero() {
		end = now
	}
	if !start.Before(end) {
		err = fmt.Errorf("%w: start %s is not before end %s", timeseries.ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
		return
	}

	g = timeseries.Hourly
	if p.Granularity != "" {
		if g, err = timeseries.ParseGranularity(p.Granularity); err != nil {
			return
		}
	}

	mode = timeseries.Average
	if p.Aggregation != "" {
		if mode, err = timeseries.ParseMode(p.Aggregation); err != nil {
			return
		}
	}
	return
}

func bucketize(obs []timeseries.Observation, start, end time.Time, g timeseries.Granularity, mode timeseries.Mode) (Series, error) {
	buckets, err := timeseries.Aggregate(obs, start, end, g, mode)
	if err != nil {
		return Series{}, err
	}
	return Series{Buckets: buckets}, nil
}
