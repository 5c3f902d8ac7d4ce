package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateAlignment(t *testing.T) {
	ts := time.Date(2024, time.March, 13, 14, 37, 22, 0, time.UTC) // a Wednesday

	tests := []struct {
		granularity Granularity
		want        time.Time
	}{
		{FiveMin, utc(2024, time.March, 13, 14, 35)},
		{FifteenMin, utc(2024, time.March, 13, 14, 30)},
		{ThirtyMin, utc(2024, time.March, 13, 14, 30)},
		{Hourly, utc(2024, time.March, 13, 14, 0)},
		{Daily, utc(2024, time.March, 13, 0, 0)},
		{Weekly, utc(2024, time.March, 11, 0, 0)}, // previous Monday
		{Monthly, utc(2024, time.March, 1, 0, 0)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.granularity.Truncate(ts), "granularity %s", tc.granularity)
	}
}

func TestWeeklyTruncateOnSunday(t *testing.T) {
	// Sunday belongs to the week that started the previous Monday.
	sunday := utc(2024, time.March, 17, 23, 59)
	assert.Equal(t, utc(2024, time.March, 11, 0, 0), Weekly.Truncate(sunday))

	monday := utc(2024, time.March, 11, 0, 0)
	assert.Equal(t, monday, Weekly.Truncate(monday))
}

func TestMonthlyBucketsVaryInLength(t *testing.T) {
	// Calendar months between 28 and 31 days, leap February included.
	buckets, err := Aggregate(nil, utc(2024, time.January, 15, 0, 0), utc(2024, time.May, 1, 0, 0), Monthly, Average)
	require.NoError(t, err)
	require.Len(t, buckets, 4)

	assert.Equal(t, utc(2024, time.January, 1, 0, 0), buckets[0].Start)
	assert.Equal(t, utc(2024, time.February, 1, 0, 0), buckets[0].End)
	assert.Equal(t, 29*24*time.Hour, buckets[1].End.Sub(buckets[1].Start)) // leap February
	assert.Equal(t, 31*24*time.Hour, buckets[2].End.Sub(buckets[2].Start))
	assert.Equal(t, 30*24*time.Hour, buckets[3].End.Sub(buckets[3].Start))
}

func TestNonLeapFebruary(t *testing.T) {
	feb := Monthly.Truncate(utc(2023, time.February, 14, 12, 0))
	assert.Equal(t, utc(2023, time.February, 1, 0, 0), feb)
	assert.Equal(t, utc(2023, time.March, 1, 0, 0), Monthly.Next(feb))
	assert.Equal(t, 28*24*time.Hour, Monthly.Next(feb).Sub(feb))
}
