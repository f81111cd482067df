package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/alarm"
	"focusd/internal/state"
	"focusd/internal/store"
	"focusd/internal/store/sqlite"
)

type fixture struct {
	m     *Manager
	store *store.StateStore
	clock *time.Time
	notes []string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	kv := sqlite.NewSQLiteKV(filepath.Join(t.TempDir(), "session_test.db"))
	require.NoError(t, kv.Init(context.Background()))
	t.Cleanup(func() { kv.Close() })

	st := store.NewStateStore(kv)
	alarms := alarm.NewScheduler()
	t.Cleanup(alarms.Stop)

	f := &fixture{store: st}
	f.m = NewManager(st, alarms, func(title, message string) {
		f.notes = append(f.notes, title+": "+message)
	})

	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	f.clock = &now
	f.m.now = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func TestStartPersistsPlannedDuration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 25, "", "pomodoro"))

	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.Equal(t, 1500, sess.PlannedDurationSeconds)
	assert.Equal(t, 25*time.Minute, sess.EndTime.Sub(sess.StartTime))
	assert.True(t, f.m.alarms.Pending(AlarmSessionEnd))
}

func TestStartRejectsSecondSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 25, "", ""))
	assert.ErrorIs(t, f.m.Start(ctx, 30, "", ""), ErrSessionActive)
}

func TestStartRejectsShortDuration(t *testing.T) {
	f := setup(t)
	assert.ErrorIs(t, f.m.Start(context.Background(), 10, "", ""), ErrDurationTooLow)
}

func TestVersionGateBlocksStart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetVersionGate(ctx, state.VersionGate{Blocked: true, Message: "update required"}))

	assert.ErrorIs(t, f.m.Start(ctx, 25, "", ""), ErrVersionBlocked)
}

func TestEarlyEndForfeitsRewards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 25, "", ""))
	require.NoError(t, f.m.End(ctx, ""))

	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SessionsCompleted, "early end credits nothing")
	assert.False(t, f.m.alarms.Pending(AlarmSessionEnd))
}

func TestPasscodeProtectsEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 25, "4321", ""))
	assert.ErrorIs(t, f.m.End(ctx, "1111"), ErrWrongPasscode)
	assert.NoError(t, f.m.End(ctx, "4321"))

	// Ending an inactive session needs no passcode.
	assert.NoError(t, f.m.End(ctx, ""))
}

func TestSessionEndCreditsPlannedDurationOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 30, "", ""))
	f.advance(30 * time.Minute)

	require.NoError(t, f.m.HandleAlarm(ctx, AlarmSessionEnd))
	// Duplicate alarm delivery must be a no-op.
	require.NoError(t, f.m.HandleAlarm(ctx, AlarmSessionEnd))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SessionsCompleted)
	assert.Equal(t, 30, stats.TotalFocusTimeMinutes)

	p, err := f.store.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, p.Points, "clean 30-minute session earns 30 points")
	assert.Contains(t, p.Badges, "first_session")

	h, err := f.store.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, h["2025-04-02"])
}

func TestSessionEndEntersAutoBreak(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 25, "", ""))
	f.advance(25 * time.Minute)
	require.NoError(t, f.m.HandleAlarm(ctx, AlarmSessionEnd))

	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active)
	assert.True(t, sess.OnBreak)
	assert.True(t, f.m.alarms.Pending(AlarmAutoBreakEnd))

	require.NoError(t, f.m.HandleAlarm(ctx, AlarmAutoBreakEnd))
	sess, err = f.store.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.OnBreak)
}

func TestStaleSessionEndFireReArms(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 30, "", ""))
	f.advance(5 * time.Minute)
	require.NoError(t, f.m.HandleAlarm(ctx, AlarmSessionEnd))

	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Active, "early fire must not complete the session")

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SessionsCompleted)
}

func TestEmergencyBreakShiftsEndTimeAndIsSingleUse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 30, "", ""))
	sessBefore, err := f.store.Session(ctx)
	require.NoError(t, err)

	require.NoError(t, f.m.EmergencyBreak(ctx))
	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.True(t, sess.OnBreak)
	assert.True(t, sess.EmergencyUsed)
	assert.Equal(t, EmergencyBreakDuration, sess.EndTime.Sub(sessBefore.EndTime), "remaining focus time preserved")

	// Still on break.
	assert.ErrorIs(t, f.m.EmergencyBreak(ctx), ErrOnBreak)

	f.advance(EmergencyBreakDuration)
	require.NoError(t, f.m.HandleAlarm(ctx, AlarmBreakEnd))
	sess, err = f.store.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.OnBreak)

	assert.ErrorIs(t, f.m.EmergencyBreak(ctx), ErrEmergencyUsed)
}

func TestEmergencyBreakRequiresActiveSession(t *testing.T) {
	f := setup(t)
	assert.ErrorIs(t, f.m.EmergencyBreak(context.Background()), ErrNoActiveSession)
}

func TestRecoverExpiredSessionCreditsPlannedDuration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Session from a previous run whose end time passed while the
	// process (or the machine) was down.
	start := f.clock.Add(-3 * time.Hour)
	require.NoError(t, f.store.SetSession(ctx, state.Session{
		Active:                 true,
		StartTime:              start,
		EndTime:                start.Add(45 * time.Minute),
		PlannedDurationSeconds: 45 * 60,
	}))

	require.NoError(t, f.m.Recover(ctx))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 45, stats.TotalFocusTimeMinutes, "planned duration credited, not wall-clock elapsed")
	assert.Equal(t, 1, stats.SessionsCompleted)

	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active)
}

func TestRecoverInterruptedSessionDiscards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	start := f.clock.Add(-10 * time.Minute)
	require.NoError(t, f.store.SetSession(ctx, state.Session{
		Active:                 true,
		StartTime:              start,
		EndTime:                start.Add(60 * time.Minute),
		PlannedDurationSeconds: 60 * 60,
	}))

	require.NoError(t, f.m.Recover(ctx))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SessionsCompleted)

	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.False(t, sess.Active)
}

func TestCreditedDurationFallbackRoundsToFiveMinutes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Planned duration lost; elapsed 23 minutes rounds to 25.
	start := f.clock.Add(-23 * time.Minute)
	require.NoError(t, f.store.SetSession(ctx, state.Session{
		Active:    true,
		StartTime: start,
		EndTime:   *f.clock,
	}))

	require.NoError(t, f.m.HandleAlarm(ctx, AlarmSessionEnd))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.TotalFocusTimeMinutes)
}

func TestBlockedCountFeedsFocusScore(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 20, "", ""))
	for i := 0; i < 5; i++ {
		require.NoError(t, f.m.RecordBlocked(ctx))
	}
	f.advance(20 * time.Minute)
	require.NoError(t, f.m.HandleAlarm(ctx, AlarmSessionEnd))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.BlockedCount)

	p, err := f.store.Profile(ctx)
	require.NoError(t, err)
	// score = 100 - 5/(20*0.5)*100 = 50; floor(20 * 0.65) = 13.
	assert.Equal(t, 13, p.Points)
}

func TestRecordBlockedOutsideSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.RecordBlocked(ctx))
	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BlockedCount)
}

func TestMarkSuspendWritesMarker(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx, 25, "", ""))
	f.m.MarkSuspend(ctx)

	// The marker is diagnostic only; session math is untouched.
	sess, err := f.store.Session(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Active)
}
