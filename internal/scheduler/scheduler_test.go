package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"tubevault/internal/config"
)

func newTestState(t *testing.T) *StateStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "main.db")+"?_pragma=busy_timeout(30000)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	state, err := NewStateStore(db)
	require.NoError(t, err)
	return state
}

func TestStateStoreRoundTrip(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	got, err := state.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.LastRun)
	assert.Empty(t, got.NextRun)

	require.NoError(t, state.SetLastRun(ctx, "2026-08-25T10:00:00Z"))
	require.NoError(t, state.SetNextRun(ctx, "2026-08-25T16:00:00Z"))
	got, err = state.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-25T10:00:00Z", got.LastRun)
	assert.Equal(t, "2026-08-25T16:00:00Z", got.NextRun)

	// Empty clears the key.
	require.NoError(t, state.SetNextRun(ctx, ""))
	got, err = state.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.NextRun)
	assert.Equal(t, "2026-08-25T10:00:00Z", got.LastRun)
}

func TestParseHHMM(t *testing.T) {
	hour, minute, ok := parseHHMM("23:45")
	require.True(t, ok)
	assert.Equal(t, 23, hour)
	assert.Equal(t, 45, minute)

	for _, bad := range []string{"", "24:00", "12:60", "noon", "12", "-1:30"} {
		_, _, ok := parseHHMM(bad)
		assert.False(t, ok, bad)
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 25, hour, minute, 0, 0, time.UTC)
}

func TestInDowntimeSameDayWindow(t *testing.T) {
	in, until := inDowntime(at(3, 0), "02:00", "06:00")
	assert.True(t, in)
	assert.Equal(t, at(6, 0), until)

	in, _ = inDowntime(at(7, 0), "02:00", "06:00")
	assert.False(t, in)

	// Start is inclusive, end exclusive.
	in, _ = inDowntime(at(2, 0), "02:00", "06:00")
	assert.True(t, in)
	in, _ = inDowntime(at(6, 0), "02:00", "06:00")
	assert.False(t, in)
}

func TestInDowntimeWrapsMidnight(t *testing.T) {
	// 22:00 → 06:00 next day.
	in, until := inDowntime(at(23, 0), "22:00", "06:00")
	assert.True(t, in)
	assert.Equal(t, at(6, 0).AddDate(0, 0, 1), until)

	in, until = inDowntime(at(4, 0), "22:00", "06:00")
	assert.True(t, in)
	assert.Equal(t, at(6, 0), until)

	in, _ = inDowntime(at(12, 0), "22:00", "06:00")
	assert.False(t, in)
}

func TestInDowntimeInvalidWindow(t *testing.T) {
	in, _ := inDowntime(at(3, 0), "garbage", "06:00")
	assert.False(t, in)
}

func TestDowntimeDeferralDisabled(t *testing.T) {
	in, _ := DowntimeDeferral(nil, at(3, 0))
	assert.False(t, in)
	in, _ = DowntimeDeferral(&config.Downtime{Start: "02:00", End: "06:00"}, at(3, 0))
	assert.False(t, in)
	in, _ = DowntimeDeferral(&config.Downtime{Enabled: true, Start: "02:00", End: "06:00"}, at(3, 0))
	assert.True(t, in)
}

func TestApplyPersistsNextRun(t *testing.T) {
	state := newTestState(t)
	s := New(state, func(ctx context.Context) bool { return true }, nil, nil)
	defer s.Stop()

	s.Apply(config.Schedule{Enabled: true, Mode: "interval", IntervalHours: 6})
	next := s.NextRun()
	assert.InDelta(t, 6*time.Hour, time.Until(next), float64(time.Minute))

	persisted, err := state.Read(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, persisted.NextRun)

	// Disabling clears it.
	s.Apply(config.Schedule{Enabled: false})
	assert.True(t, s.NextRun().IsZero())
	persisted, err = state.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted.NextRun)
}

func TestFireRunsAndReschedules(t *testing.T) {
	state := newTestState(t)
	var runs atomic.Int32
	s := New(state, func(ctx context.Context) bool {
		runs.Add(1)
		return true
	}, nil, nil)
	defer s.Stop()

	s.Apply(config.Schedule{Enabled: true, IntervalHours: 1})
	s.fire()

	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, s.NextRun().IsZero())
	persisted, err := state.Read(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, persisted.LastRun)
}

func TestFireSkippedRunStillReschedules(t *testing.T) {
	state := newTestState(t)
	s := New(state, func(ctx context.Context) bool { return false }, nil, nil)
	defer s.Stop()

	s.Apply(config.Schedule{Enabled: true, IntervalHours: 2})
	s.fire()

	assert.False(t, s.NextRun().IsZero())
	persisted, err := state.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted.LastRun)
}

func TestFireDefersThroughDowntime(t *testing.T) {
	var runs atomic.Int32
	window := &config.Downtime{Enabled: true, Start: "00:00", End: "23:59", Timezone: "UTC"}
	s := New(nil, func(ctx context.Context) bool {
		runs.Add(1)
		return true
	}, func() *config.Downtime { return window }, nil)
	defer s.Stop()
	s.now = func() time.Time { return at(12, 0) }

	s.Apply(config.Schedule{Enabled: true, IntervalHours: 1})
	s.fire()

	assert.Equal(t, int32(0), runs.Load())
	// Rescheduled to the window end instead of running.
	assert.False(t, s.NextRun().IsZero())
}
