package store

import (
	"fmt"
	"strings"
	"time"
)

// Game identifies which variant a total-count observation belongs to
type Game string

const (
	GameRS3  Game = "RS3"
	GameOSRS Game = "OSRS"
)

// ParseGame validates a game token from the API, case-insensitively
func ParseGame(s string) (Game, error) {
	switch g := Game(strings.ToUpper(s)); g {
	case GameRS3, GameOSRS:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGame, s)
}

// Snapshot is one total-player-count observation for one game. Rows are
// immutable once written.
type Snapshot struct {
	Game        Game      `db:"game" json:"game"`
	PlayerCount int       `db:"player_count" json:"player_count"`
	CollectedAt time.Time `db:"collected_at" json:"collected_at"`
}

// WorldSnapshot is one per-world population observation. One row per world
// per collection run.
type WorldSnapshot struct {
	WorldID     int       `db:"world_id" json:"world_id"`
	Region      string    `db:"region" json:"region"`
	Type        string    `db:"world_type" json:"type"`
	Activity    string    `db:"activity" json:"activity"`
	PlayerCount int       `db:"player_count" json:"player_count"`
	CollectedAt time.Time `db:"collected_at" json:"collected_at"`
}

// CollectionRun is everything one scraper pass produced. All rows carry the
// same timestamp, taken once at the start of the run; the combined query
// relies on that to pair the two totals.
type CollectionRun struct {
	Timestamp time.Time
	Totals    []Snapshot
	Worlds    []WorldSnapshot
}

// GroupColumn names a world attribute the grouped queries aggregate over.
// Values are fixed constants so they can be interpolated into SQL safely.
type GroupColumn string

const (
	GroupByType     GroupColumn = "world_type"
	GroupByRegion   GroupColumn = "region"
	GroupByActivity GroupColumn = "activity"
)
