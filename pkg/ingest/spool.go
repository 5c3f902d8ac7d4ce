package ingest

import (
	"sync"
	"time"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
)

// Spool buffers collection runs that could not be written, so a store
// outage does not lose scraped data outright. Capacity is bounded; when the
// spool is full the oldest run is dropped.
type Spool struct {
	mu        sync.Mutex
	runs      []store.CollectionRun
	capacity  int
	lastDrain time.Time
}

// NewSpool creates a Spool holding at most capacity runs
func NewSpool(capacity int) *Spool {
	return &Spool{
		runs:      make([]store.CollectionRun, 0, capacity),
		capacity:  capacity,
		lastDrain: time.Now(),
	}
}

// Add buffers a run. Returns true if an older run was dropped to make room.
func (s *Spool) Add(run store.CollectionRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := false
	if len(s.runs) >= s.capacity {
		s.runs = s.runs[1:]
		dropped = true
	}
	s.runs = append(s.runs, run)
	return dropped
}

// Drain returns all buffered runs in arrival order and clears the spool
func (s *Spool) Drain() []store.CollectionRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.runs
	s.runs = make([]store.CollectionRun, 0, s.capacity)
	s.lastDrain = time.Now()
	return batch
}

// Size returns the current number of buffered runs
func (s *Spool) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// ShouldDrain returns true if the spool is non-empty and the interval has
// passed since the last drain
func (s *Spool) ShouldDrain(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.runs) == 0 {
		return false
	}
	return time.Since(s.lastDrain) >= interval
}
