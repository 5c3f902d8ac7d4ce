package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/cache"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/metrics"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/retry"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/scrape"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
)

// Ingestor accepts collection runs for writing
type Ingestor interface {
	Submit(ctx context.Context, run store.CollectionRun) error
}

// Service runs the collection loop: fetch both public sources, derive the
// RS3 total, and hand the run to the ingest pool
type Service struct {
	logger    *logger.Logger
	fetcher   scrape.Fetcher
	ingestor  Ingestor
	cache     cache.SnapshotCache
	interval  time.Duration
	retryOpts retry.Options
	now       func() time.Time
}

// NewService creates a new collection service instance
func NewService(
	l *logger.Logger,
	f scrape.Fetcher,
	ing Ingestor,
	c cache.SnapshotCache,
	interval time.Duration,
) *Service {
	return &Service{
		logger:    l,
		fetcher:   f,
		ingestor:  ing,
		cache:     c,
		interval:  interval,
		retryOpts: retry.FetchOptions(),
		now:       time.Now,
	}
}

// Start runs one collection immediately and then one per interval until the
// context is cancelled
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting collection loop", zap.Duration("interval", s.interval))

	if err := s.collect(ctx); err != nil {
		s.logger.Error("collection run failed", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.collect(ctx); err != nil {
				s.logger.Error("collection run failed", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// collect performs one collection run. Either source may fail without
// sinking the run: world rows are kept whenever the world fetch succeeded,
// and the totals pair is kept only when both sources answered, since RS3
// cannot be derived from the combined figure alone.
func (s *Service) collect(ctx context.Context) error {
	metrics.ScrapeRunsTotal.Inc()

	// One timestamp for every row of the run; the combined query pairs the
	// two totals by equality on it.
	ts := s.now().UTC().Truncate(time.Second)

	var combined int
	combinedOK := true
	err := retry.Do(ctx, func() error {
		var ferr error
		combined, ferr = s.fetcher.CombinedCount(ctx)
		return ferr
	}, s.retryOpts)
	if err != nil {
		combinedOK = false
		metrics.ScrapeFetchErrorsTotal.WithLabelValues("player_count").Inc()
		s.logger.Warn("combined count fetch failed", zap.Error(err))
	}

	var (
		osrs   int
		worlds []scrape.World
	)
	worldsOK := true
	err = retry.Do(ctx, func() error {
		var ferr error
		osrs, worlds, ferr = s.fetcher.Worlds(ctx)
		return ferr
	}, s.retryOpts)
	if err != nil {
		worldsOK = false
		metrics.ScrapeFetchErrorsTotal.WithLabelValues("worlds").Inc()
		s.logger.Warn("world list fetch failed", zap.Error(err))
	}

	run := s.buildRun(ts, combined, combinedOK, osrs, worlds, worldsOK)
	if len(run.Totals) == 0 && len(run.Worlds) == 0 {
		return fmt.Errorf("collection run at %s produced no data", ts.Format(time.RFC3339))
	}

	if err := s.ingestor.Submit(ctx, run); err != nil {
		return fmt.Errorf("failed to submit run: %w", err)
	}
	metrics.ScrapeWorldRowsTotal.Add(float64(len(run.Worlds)))

	if s.cache != nil && len(run.Worlds) > 0 {
		if err := s.cache.Save(ctx, run.Worlds); err != nil {
			s.logger.Warn("failed to update snapshot cache", zap.Error(err))
		}
	}

	s.logger.Info("collection run complete",
		zap.Time("collected_at", ts),
		zap.Int("totals", len(run.Totals)),
		zap.Int("worlds", len(run.Worlds)))
	return nil
}

// buildRun assembles the snapshot rows for one run. The player-count
// endpoint reports RS3+OSRS together, so the stored RS3 figure is the
// subtraction, computed here and never re-derived at query time.
func (s *Service) buildRun(ts time.Time, combined int, combinedOK bool, osrs int, worlds []scrape.World, worldsOK bool) store.CollectionRun {
	run := store.CollectionRun{Timestamp: ts}

	if worldsOK {
		run.Totals = append(run.Totals, store.Snapshot{
			Game:        store.GameOSRS,
			PlayerCount: osrs,
			CollectedAt: ts,
		})
		for _, w := range worlds {
			run.Worlds = append(run.Worlds, store.WorldSnapshot{
				WorldID:     w.ID,
				Region:      w.Region,
				Type:        w.Type,
				Activity:    w.Activity,
				PlayerCount: w.Players,
				CollectedAt: ts,
			})
		}
	}

	if combinedOK && worldsOK {
		rs3 := combined - osrs
		if rs3 >= 0 {
			run.Totals = append(run.Totals, store.Snapshot{
				Game:        store.GameRS3,
				PlayerCount: rs3,
				CollectedAt: ts,
			})
		} else {
			s.logger.Warn("combined count below OSRS count, skipping RS3 total",
				zap.Int("combined", combined),
				zap.Int("osrs", osrs))
		}
	}

	return run
}
