package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/timeseries"
)

var (
	// ErrEmptyStore is returned when no world data has been collected yet.
	// Distinct from a valid-but-empty range, which yields all-empty buckets.
	ErrEmptyStore = errors.New("no snapshots collected yet")

	// ErrWorldNotFound is returned for a world id that was never observed
	ErrWorldNotFound = errors.New("world not found")

	// ErrInvalidGame is returned for an unrecognized game token
	ErrInvalidGame = errors.New("invalid game")
)

const schema = `
CREATE TABLE IF NOT EXISTS player_counts (
	id            BIGSERIAL PRIMARY KEY,
	game          TEXT        NOT NULL,
	player_count  INTEGER     NOT NULL,
	collected_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (game, collected_at)
);
CREATE INDEX IF NOT EXISTS player_counts_collected_at_idx ON player_counts (collected_at);

CREATE TABLE IF NOT EXISTS world_counts (
	id            BIGSERIAL PRIMARY KEY,
	world_id      INTEGER     NOT NULL,
	region        TEXT        NOT NULL,
	world_type    TEXT        NOT NULL,
	activity      TEXT        NOT NULL DEFAULT '',
	player_count  INTEGER     NOT NULL,
	collected_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (world_id, collected_at)
);
CREATE INDEX IF NOT EXISTS world_counts_collected_at_idx ON world_counts (collected_at);
`

// copyThreshold is the world-row count above which a run is written with
// the COPY protocol instead of per-row inserts.
const copyThreshold = 100

// Store reads and writes snapshots in PostgreSQL via pgxpool
type Store struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// Config holds database connection settings
type Config struct {
	URI             string
	MinConns        int32
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// New creates a Store and verifies the connection
func New(ctx context.Context, cfg Config, l *logger.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if poolCfg.MaxConnLifetime <= 0 {
		poolCfg.MaxConnLifetime = 30 * time.Minute
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, logger: l}, nil
}

// EnsureSchema creates the snapshot tables if they do not exist yet
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WriteRun persists one collection run atomically: both totals and all
// world rows commit together or not at all. Inserts are idempotent under
// the (game, collected_at) and (world_id, collected_at) uniqueness rules,
// so replaying a run is harmless.
func (s *Store) WriteRun(ctx context.Context, run CollectionRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const totalQuery = `
		INSERT INTO player_counts (game, player_count, collected_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (game, collected_at) DO NOTHING
	`
	for _, t := range run.Totals {
		if _, err := tx.Exec(ctx, totalQuery, t.Game, t.PlayerCount, t.CollectedAt); err != nil {
			return fmt.Errorf("failed to insert total for %s: %w", t.Game, err)
		}
	}

	if s.ShouldUseCopy(run.Worlds) {
		err = s.writeWorldsCopy(ctx, tx, run.Worlds)
	} else {
		err = s.writeWorldsInsert(ctx, tx, run.Worlds)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug("run written",
		zap.Time("collected_at", run.Timestamp),
		zap.Int("totals", len(run.Totals)),
		zap.Int("worlds", len(run.Worlds)))
	return nil
}

func (s *Store) writeWorldsInsert(ctx context.Context, tx pgx.Tx, worlds []WorldSnapshot) error {
	const query = `
		INSERT INTO world_counts (world_id, region, world_type, activity, player_count, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (world_id, collected_at) DO NOTHING
	`
	for _, w := range worlds {
		if _, err := tx.Exec(ctx, query, w.WorldID, w.Region, w.Type, w.Activity, w.PlayerCount, w.CollectedAt); err != nil {
			return fmt.Errorf("failed to insert world %d: %w", w.WorldID, err)
		}
	}
	return nil
}

// writeWorldsCopy stages the rows with the COPY protocol and merges them in,
// keeping the conflict handling of the insert path.
func (s *Store) writeWorldsCopy(ctx context.Context, tx pgx.Tx, worlds []WorldSnapshot) error {
	_, err := tx.Exec(ctx, "CREATE TEMP TABLE world_counts_temp (LIKE world_counts INCLUDING DEFAULTS) ON COMMIT DROP")
	if err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}

	rows := make([][]interface{}, len(worlds))
	for i, w := range worlds {
		rows[i] = []interface{}{w.WorldID, w.Region, w.Type, w.Activity, w.PlayerCount, w.CollectedAt}
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"world_counts_temp"},
		[]string{"world_id", "region", "world_type", "activity", "player_count", "collected_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy from failed: %w", err)
	}

	const mergeQuery = `
		INSERT INTO world_counts (world_id, region, world_type, activity, player_count, collected_at)
		SELECT world_id, region, world_type, activity, player_count, collected_at
		FROM world_counts_temp
		ON CONFLICT (world_id, collected_at) DO NOTHING
	`
	if _, err := tx.Exec(ctx, mergeQuery); err != nil {
		return fmt.Errorf("merge from temp table failed: %w", err)
	}
	return nil
}

// ShouldUseCopy reports whether the world batch is large enough for COPY.
// Exported for testing protocol selection.
func (s *Store) ShouldUseCopy(worlds []WorldSnapshot) bool {
	return len(worlds) >= copyThreshold
}

// TotalObservations returns the total-count series for one game within
// [start, end), sorted by timestamp ascending.
func (s *Store) TotalObservations(ctx context.Context, game Game, start, end time.Time) ([]timeseries.Observation, error) {
	const query = `
		SELECT collected_at, player_count
		FROM player_counts
		WHERE game = $1 AND collected_at >= $2 AND collected_at < $3
		ORDER BY collected_at
	`
	rows, err := s.pool.Query(ctx, query, game, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// CombinedObservations returns the per-run RS3+OSRS sums within [start, end).
// Runs where one game is missing are excluded: a partial pair cannot be
// summed. Both totals of one run share a timestamp, so "same run" is an
// equality match.
func (s *Store) CombinedObservations(ctx context.Context, start, end time.Time) ([]timeseries.Observation, error) {
	const query = `
		SELECT collected_at, SUM(player_count)
		FROM player_counts
		WHERE collected_at >= $1 AND collected_at < $2
		GROUP BY collected_at
		HAVING COUNT(DISTINCT game) = 2
		ORDER BY collected_at
	`
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query combined totals: %w", err)
	}
	defer rows.Close()

	return scanSummedObservations(rows)
}

// WorldObservations returns the population series for one world within
// [start, end), sorted by timestamp ascending.
func (s *Store) WorldObservations(ctx context.Context, worldID int, start, end time.Time) ([]timeseries.Observation, error) {
	const query = `
		SELECT collected_at, player_count
		FROM world_counts
		WHERE world_id = $1 AND collected_at >= $2 AND collected_at < $3
		ORDER BY collected_at
	`
	rows, err := s.pool.Query(ctx, query, worldID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query world %d: %w", worldID, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// WorldSeen reports whether the world was ever observed, in any range
func (s *Store) WorldSeen(ctx context.Context, worldID int) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM world_counts WHERE world_id = $1)", worldID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check world %d: %w", worldID, err)
	}
	return seen, nil
}

// GroupedObservations sums world populations per (timestamp, group value)
// within [start, end) and returns one ordered series per group value
// present in the range.
func (s *Store) GroupedObservations(ctx context.Context, group GroupColumn, start, end time.Time) (map[string][]timeseries.Observation, error) {
	query := fmt.Sprintf(`
		SELECT collected_at, %s, SUM(player_count)
		FROM world_counts
		WHERE collected_at >= $1 AND collected_at < $2
		GROUP BY collected_at, %s
		ORDER BY collected_at
	`, group, group)

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped by %s: %w", group, err)
	}
	defer rows.Close()

	series := make(map[string][]timeseries.Observation)
	for rows.Next() {
		var (
			ts    time.Time
			label string
			sum   int64
		)
		if err := rows.Scan(&ts, &label, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan grouped row: %w", err)
		}
		series[label] = append(series[label], timeseries.Observation{Timestamp: ts.UTC(), Value: float64(sum)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grouped query failed: %w", err)
	}
	return series, nil
}

// LatestWorldSnapshots returns one row per world as of the most recent
// collection run, ordered by population descending. Returns ErrEmptyStore
// when nothing has been collected.
func (s *Store) LatestWorldSnapshots(ctx context.Context) ([]WorldSnapshot, error) {
	const query = `
		SELECT world_id, region, world_type, activity, player_count, collected_at
		FROM world_counts
		WHERE collected_at = (SELECT MAX(collected_at) FROM world_counts)
		ORDER BY player_count DESC, world_id
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	defer rows.Close()

	var snaps []WorldSnapshot
	for rows.Next() {
		var w WorldSnapshot
		if err := rows.Scan(&w.WorldID, &w.Region, &w.Type, &w.Activity, &w.PlayerCount, &w.CollectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan world row: %w", err)
		}
		w.CollectedAt = w.CollectedAt.UTC()
		snaps = append(snaps, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("latest snapshot query failed: %w", err)
	}
	if len(snaps) == 0 {
		return nil, ErrEmptyStore
	}
	return snaps, nil
}

func scanObservations(rows pgx.Rows) ([]timeseries.Observation, error) {
	var obs []timeseries.Observation
	for rows.Next() {
		var (
			ts    time.Time
			count int
		)
		if err := rows.Scan(&ts, &count); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs = append(obs, timeseries.Observation{Timestamp: ts.UTC(), Value: float64(count)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("observation query failed: %w", err)
	}
	return obs, nil
}

func scanSummedObservations(rows pgx.Rows) ([]timeseries.Observation, error) {
	var obs []timeseries.Observation
	for rows.Next() {
		var (
			ts  time.Time
			sum int64
		)
		if err := rows.Scan(&ts, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs = append(obs, timeseries.Observation{Timestamp: ts.UTC(), Value: float64(sum)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("observation query failed: %w", err)
	}
	return obs, nil
}
