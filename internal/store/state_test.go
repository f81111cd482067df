package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/state"
	"focusd/internal/store"
	"focusd/internal/store/sqlite"
)

func setupStateStore(t *testing.T) *store.StateStore {
	t.Helper()
	kv := sqlite.NewSQLiteKV(filepath.Join(t.TempDir(), "state_test.db"))
	require.NoError(t, kv.Init(context.Background()))
	t.Cleanup(func() { kv.Close() })
	return store.NewStateStore(kv)
}

func TestSessionRoundTrip(t *testing.T) {
	s := setupStateStore(t)
	ctx := context.Background()

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active, "missing session reads as inactive")

	start := time.Now().UTC().Truncate(time.Second)
	want := state.Session{
		Active:                 true,
		StartTime:              start,
		EndTime:                start.Add(25 * time.Minute),
		PlannedDurationSeconds: 1500,
		Passcode:               "1234",
	}
	require.NoError(t, s.SetSession(ctx, want))

	got, err := s.Session(ctx)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, want.PlannedDurationSeconds, got.PlannedDurationSeconds)
	assert.Equal(t, want.Passcode, got.Passcode)
	assert.True(t, got.EndTime.After(got.StartTime))

	require.NoError(t, s.ClearSession(ctx))
	got, err = s.Session(ctx)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestProfileDefaultsToLevelOne(t *testing.T) {
	s := setupStateStore(t)
	p, err := s.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Level)
	assert.Zero(t, p.Points)
}

func TestAppendHistoryPrunesRetentionWindow(t *testing.T) {
	s := setupStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, "2025-01-01", 30))
	require.NoError(t, s.AppendHistory(ctx, "2025-01-01", 15))
	require.NoError(t, s.AppendHistory(ctx, "2025-06-01", 60))

	h, err := s.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, h["2025-06-01"])
	_, stale := h["2025-01-01"]
	assert.False(t, stale, "entries beyond the retention window are pruned")
}

func TestClearCredentialsPreservesDeviceID(t *testing.T) {
	s := setupStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetAuth(ctx, state.Auth{Token: "tok", UserID: "u1", DeviceID: "dev-1"}))
	require.NoError(t, s.ClearCredentials(ctx))

	a, err := s.Auth(ctx)
	require.NoError(t, err)
	assert.Empty(t, a.Token)
	assert.Empty(t, a.UserID)
	assert.Equal(t, "dev-1", a.DeviceID)
}

func TestWriteCritical(t *testing.T) {
	s := setupStateStore(t)
	ctx := context.Background()

	st := state.Stats{TotalFocusTimeMinutes: 120, SessionsCompleted: 4}
	p := state.Profile{Points: 250, Level: 2, Badges: []string{"first_session"}}
	require.NoError(t, s.WriteCritical(ctx, st, p))

	gotStats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, gotStats)

	gotProfile, err := s.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, gotProfile)
}
