package query

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/timeseries"
)

// Mocks
type MockStore struct{ mock.Mock }

func (m *MockStore) TotalObservations(ctx context.Context, game store.Game, start, end time.Time) ([]timeseries.Observation, error) {
	args := m.Called(ctx, game, start, end)
	return args.Get(0).([]timeseries.Observation), args.Error(1)
}
func (m *MockStore) CombinedObservations(ctx context.Context, start, end time.Time) ([]timeseries.Observation, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).([]timeseries.Observation), args.Error(1)
}
func (m *MockStore) WorldObservations(ctx context.Context, worldID int, start, end time.Time) ([]timeseries.Observation, error) {
	args := m.Called(ctx, worldID, start, end)
	return args.Get(0).([]timeseries.Observation), args.Error(1)
}
func (m *MockStore) WorldSeen(ctx context.Context, worldID int) (bool, error) {
	args := m.Called(ctx, worldID)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) GroupedObservations(ctx context.Context, group store.GroupColumn, start, end time.Time) (map[string][]timeseries.Observation, error) {
	args := m.Called(ctx, group, start, end)
	return args.Get(0).(map[string][]timeseries.Observation), args.Error(1)
}
func (m *MockStore) LatestWorldSnapshots(ctx context.Context) ([]store.WorldSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).([]store.WorldSnapshot), args.Error(1)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) Save(ctx context.Context, snaps []store.WorldSnapshot) error {
	return m.Called(ctx, snaps).Error(0)
}
func (m *MockCache) Load(ctx context.Context) ([]store.WorldSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).([]store.WorldSnapshot), args.Error(1)
}

func newService(ms ReadStore) *Service {
	l, _ := logger.New(logger.Config{Level: "error", ServiceName: "test"})
	svc := New(l, ms, nil)
	svc.now = func() time.Time { return time.Date(2024, time.June, 11, 12, 0, 0, 0, time.UTC) }
	return svc
}

func hour(h, m int) time.Time {
	return time.Date(2024, time.June, 10, h, m, 0, 0, time.UTC)
}

func TestPlayerCountDelegatesToEngine(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	p := Params{Start: hour(10, 0), End: hour(11, 0), Granularity: "30min", Aggregation: "average"}
	obs := []timeseries.Observation{
		{Timestamp: hour(10, 0), Value: 100},
		{Timestamp: hour(10, 20), Value: 150},
	}
	ms.On("TotalObservations", mock.Anything, store.GameOSRS, p.Start, p.End).Return(obs, nil)

	series, err := svc.PlayerCount(context.Background(), store.GameOSRS, p)
	require.NoError(t, err)
	require.Len(t, series.Buckets, 2)
	require.NotNil(t, series.Buckets[0].Value)
	assert.Equal(t, 125.0, *series.Buckets[0].Value)
	assert.Equal(t, 2, series.Buckets[0].Count)
	assert.Nil(t, series.Buckets[1].Value)
}

func TestPlayerCountRejectsUnknownGame(t *testing.T) {
	svc := newService(new(MockStore))

	_, err := svc.PlayerCount(context.Background(), store.Game("RS1"), Params{})
	assert.ErrorIs(t, err, store.ErrInvalidGame)
}

func TestDefaultsApplyLast24Hours(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	wantStart := time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, time.June, 11, 12, 0, 0, 0, time.UTC)
	ms.On("TotalObservations", mock.Anything, store.GameRS3, wantStart, wantEnd).
		Return([]timeseries.Observation{}, nil)

	series, err := svc.PlayerCount(context.Background(), store.GameRS3, Params{})
	require.NoError(t, err)

	// 24 hourly buckets, default granularity.
	assert.Len(t, series.Buckets, 24)
	ms.AssertExpectations(t)
}

func TestInvalidParamsAreNeverCoerced(t *testing.T) {
	svc := newService(new(MockStore))

	_, err := svc.Combined(context.Background(), Params{Start: hour(11, 0), End: hour(10, 0)})
	assert.ErrorIs(t, err, timeseries.ErrInvalidRange)

	_, err = svc.Combined(context.Background(), Params{Granularity: "yearly"})
	assert.ErrorIs(t, err, timeseries.ErrInvalidGranularity)

	_, err = svc.Combined(context.Background(), Params{Aggregation: "median"})
	assert.ErrorIs(t, err, timeseries.ErrInvalidAggregation)
}

func TestCombinedNeverDoubleCounts(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	p := Params{Start: hour(10, 0), End: hour(12, 0), Granularity: "hourly", Aggregation: "average"}

	// The store returns one summed observation per complete run; the run at
	// 11:00 had only one game reporting and is excluded.
	obs := []timeseries.Observation{
		{Timestamp: hour(10, 0), Value: 150000},
		{Timestamp: hour(10, 30), Value: 150200},
	}
	ms.On("CombinedObservations", mock.Anything, p.Start, p.End).Return(obs, nil)

	series, err := svc.Combined(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, series.Buckets, 2)

	var total float64
	for _, b := range series.Buckets {
		if b.Value != nil {
			total += *b.Value * float64(b.Count)
		}
	}
	assert.Equal(t, 300200.0, total)
	assert.Equal(t, 0, series.Buckets[1].Count)
}

func TestByWorldUnknownWorld(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	ms.On("WorldSeen", mock.Anything, 999).Return(false, nil)

	_, err := svc.ByWorld(context.Background(), 999, Params{Start: hour(10, 0), End: hour(11, 0)})
	assert.ErrorIs(t, err, store.ErrWorldNotFound)
	ms.AssertNotCalled(t, "WorldObservations", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestByWorldSeenButQuietRange(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	// Seen in some other range: valid query, all-empty buckets.
	ms.On("WorldSeen", mock.Anything, 330).Return(true, nil)
	ms.On("WorldObservations", mock.Anything, 330, hour(10, 0), hour(12, 0)).
		Return([]timeseries.Observation{}, nil)

	series, err := svc.ByWorld(context.Background(), 330, Params{Start: hour(10, 0), End: hour(12, 0)})
	require.NoError(t, err)
	require.Len(t, series.Buckets, 2)
	for _, b := range series.Buckets {
		assert.Nil(t, b.Value)
		assert.Equal(t, 0, b.Count)
	}
}

func TestGroupedSeriesOmitAbsentGroupsAndSortByLabel(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	p := Params{Start: hour(10, 0), End: hour(11, 0), Granularity: "hourly"}
	byLabel := map[string][]timeseries.Observation{
		"Members": {{Timestamp: hour(10, 0), Value: 60000}},
		"F2P":     {{Timestamp: hour(10, 0), Value: 20000}},
	}
	ms.On("GroupedObservations", mock.Anything, store.GroupByType, p.Start, p.End).Return(byLabel, nil)

	series, err := svc.ByType(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "F2P", series[0].Label)
	assert.Equal(t, "Members", series[1].Label)
}

func TestByActivityKeepsEmptyLabel(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	p := Params{Start: hour(10, 0), End: hour(11, 0)}
	byLabel := map[string][]timeseries.Observation{
		"":             {{Timestamp: hour(10, 0), Value: 4000}},
		"Trade - Free": {{Timestamp: hour(10, 0), Value: 900}},
	}
	ms.On("GroupedObservations", mock.Anything, store.GroupByActivity, p.Start, p.End).Return(byLabel, nil)

	series, err := svc.ByActivity(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "", series[0].Label)
}

func TestLatestSnapshotPrefersCache(t *testing.T) {
	ms := new(MockStore)
	mc := new(MockCache)
	l, _ := logger.New(logger.Config{Level: "error", ServiceName: "test"})
	svc := New(l, ms, mc)

	cached := []store.WorldSnapshot{{WorldID: 301, PlayerCount: 1200, CollectedAt: hour(10, 0)}}
	mc.On("Load", mock.Anything).Return(cached, nil)

	snaps, err := svc.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, snaps)
	ms.AssertNotCalled(t, "LatestWorldSnapshots", mock.Anything)
}

func TestLatestSnapshotFallsBackToStore(t *testing.T) {
	ms := new(MockStore)
	mc := new(MockCache)
	l, _ := logger.New(logger.Config{Level: "error", ServiceName: "test"})
	svc := New(l, ms, mc)

	stored := []store.WorldSnapshot{{WorldID: 302, PlayerCount: 800, CollectedAt: hour(10, 0)}}
	mc.On("Load", mock.Anything).Return([]store.WorldSnapshot(nil), nil)
	ms.On("LatestWorldSnapshots", mock.Anything).Return(stored, nil)

	snaps, err := svc.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, snaps)
}

func TestLatestSnapshotEmptyStore(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	ms.On("LatestWorldSnapshots", mock.Anything).Return([]store.WorldSnapshot(nil), store.ErrEmptyStore)

	_, err := svc.LatestSnapshot(context.Background())
	assert.ErrorIs(t, err, store.ErrEmptyStore)
}

func TestIdenticalQueriesSerializeIdentically(t *testing.T) {
	ms := new(MockStore)
	svc := newService(ms)

	p := Params{Start: hour(10, 0), End: hour(12, 0), Granularity: "hourly"}
	byLabel := map[string][]timeseries.Observation{
		"Germany":        {{Timestamp: hour(10, 0), Value: 30000}},
		"United States":  {{Timestamp: hour(10, 0), Value: 45000}},
		"United Kingdom": {{Timestamp: hour(11, 0), Value: 28000}},
	}
	ms.On("GroupedObservations", mock.Anything, store.GroupByRegion, p.Start, p.End).Return(byLabel, nil)

	first, err := svc.ByRegion(context.Background(), p)
	require.NoError(t, err)
	second, err := svc.ByRegion(context.Background(), p)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
