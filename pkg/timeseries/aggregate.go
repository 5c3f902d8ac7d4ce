package timeseries

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidRange is returned when start is not strictly before end.
	// Reversed ranges are never swapped silently.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrInvalidGranularity is returned for an unrecognized granularity token
	ErrInvalidGranularity = errors.New("invalid granularity")

	// ErrInvalidAggregation is returned for an unrecognized aggregation token
	ErrInvalidAggregation = errors.New("invalid aggregation mode")
)

// Mode is the reducer applied to the samples within one bucket.
type Mode string

const (
	// Average is the arithmetic mean, rounded half away from zero to two
	// decimal places.
	Average Mode = "average"

	// Peak is the maximum sample value in the bucket.
	Peak Mode = "peak"
)

// ParseMode validates an aggregation token from the API
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Average, Peak:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAggregation, s)
}

// Observation is a single raw (timestamp, value) sample. Callers pre-filter
// observations to the entity being queried and pass them sorted by
// timestamp ascending.
type Observation struct {
	Timestamp time.Time
	Value     float64
}

// Bucket is one unit of the aggregated series. Value is nil when the bucket
// holds no samples; empty buckets stay in the sequence so charting clients
// get a uniform time axis.
type Bucket struct {
	Start time.Time `json:"bucket_start"`
	End   time.Time `json:"bucket_end"`
	Value *float64  `json:"value"`
	Count int       `json:"sample_count"`
}

// Aggregate partitions [start, end) into contiguous buckets of the given
// granularity, aligned to natural UTC boundaries, and reduces the
// observations falling into each bucket with the given mode. An observation
// belongs to the bucket whose start <= ts < end (half-open rule), so a
// sample exactly on a boundary counts toward the bucket it starts.
//
// The returned sequence covers every granularity unit spanning the range in
// chronological order, with no gaps and no duplicates.
func Aggregate(obs []Observation, start, end time.Time, g Granularity, mode Mode) ([]Bucket, error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if !g.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
	if mode != Average && mode != Peak {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAggregation, mode)
	}

	buckets := makeBuckets(start, end, g)

	i := 0
	for b := range buckets {
		// Skip anything before the first bucket; callers should not send
		// observations outside [start, end) but stay safe if they do.
		for i < len(obs) && obs[i].Timestamp.Before(buckets[b].Start) {
			i++
		}

		var sum, max float64
		count := 0
		for i < len(obs) && obs[i].Timestamp.Before(buckets[b].End) {
			v := obs[i].Value
			sum += v
			if count == 0 || v > max {
				max = v
			}
			count++
			i++
		}

		if count == 0 {
			continue
		}
		buckets[b].Count = count
		var value float64
		if mode == Peak {
			value = max
		} else {
			value = round2(sum / float64(count))
		}
		buckets[b].Value = &value
	}

	return buckets, nil
}

// makeBuckets generates the aligned bucket sequence covering [start, end).
// The first bucket may begin before start and the last may end after end;
// both still count as units spanning the range.
func makeBuckets(start, end time.Time, g Granularity) []Bucket {
	var buckets []Bucket
	for cur := g.Truncate(start); cur.Before(end); {
		next := g.Next(cur)
		buckets = append(buckets, Bucket{Start: cur, End: next})
		cur = next
	}
	return buckets
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
