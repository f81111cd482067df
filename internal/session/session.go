// Package session drives the focus-session lifecycle: start, end, emergency
// break, auto break, timer expiry and browser-restart recovery. Handlers
// re-read persisted state before acting, so duplicate alarm deliveries and
// re-entrant fires are harmless.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"focusd/internal/alarm"
	"focusd/internal/civil"
	"focusd/internal/reward"
	"focusd/internal/state"
	"focusd/internal/store"
)

// Alarm names owned by the session machine.
const (
	AlarmSessionEnd   = "sessionEnd"
	AlarmBreakEnd     = "breakEnd"
	AlarmAutoBreakEnd = "autoBreakEnd"
)

const (
	// MinSessionMinutes is the shortest startable (and creditable) session.
	MinSessionMinutes = 15
	// EmergencyBreakDuration pauses enforcement without losing focus time.
	EmergencyBreakDuration = 2 * time.Minute
	// AutoBreakDuration follows every completed session.
	AutoBreakDuration = 5 * time.Minute
	// recoveryTolerance absorbs clock jitter when deciding whether a
	// session left over from a previous process run had already expired.
	recoveryTolerance = 5 * time.Second
)

var (
	ErrSessionActive   = errors.New("a focus session is already active")
	ErrNoActiveSession = errors.New("no active focus session")
	ErrWrongPasscode   = errors.New("passcode does not match")
	ErrVersionBlocked  = errors.New("session starting is disabled by the version gate")
	ErrDurationTooLow  = fmt.Errorf("session duration must be at least %d minutes", MinSessionMinutes)
	ErrEmergencyUsed   = errors.New("emergency break already used this session")
	ErrOnBreak         = errors.New("session is on a break")
)

// Notifier surfaces user-facing messages (persistence failures, session
// completion). Implementations must not block.
type Notifier func(title, message string)

// Syncer is the push side of the reconciler, triggered after a session
// completes or badges change.
type Syncer interface {
	PushLocal(ctx context.Context) error
}

type Manager struct {
	mu     sync.Mutex
	store  *store.StateStore
	alarms *alarm.Scheduler
	notify Notifier
	syncer Syncer

	now func() time.Time
}

func NewManager(st *store.StateStore, alarms *alarm.Scheduler, notify Notifier) *Manager {
	if notify == nil {
		notify = func(title, message string) { log.Printf("Notification: [%s] %s", title, message) }
	}
	return &Manager{
		store:  st,
		alarms: alarms,
		notify: notify,
		now:    time.Now,
	}
}

// SetSyncer wires the reconciler in after construction (the reconciler needs
// the same store, so the two are built side by side).
func (m *Manager) SetSyncer(s Syncer) { m.syncer = s }

// Start begins a focus session. The planned duration is recorded verbatim;
// it is what gets credited at completion, never a wall-clock recomputation.
func (m *Manager) Start(ctx context.Context, durationMinutes int, passcode, preset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	gate, err := m.store.VersionGate(ctx)
	if err != nil {
		log.Printf("Warning: failed to read version gate, allowing start: %v", err)
	}
	if gate.Blocked {
		return fmt.Errorf("%w: %s", ErrVersionBlocked, gate.Message)
	}

	if durationMinutes < MinSessionMinutes {
		return ErrDurationTooLow
	}

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if sess.Active {
		return ErrSessionActive
	}

	now := m.now()
	sess = state.Session{
		Active:                 true,
		StartTime:              now,
		EndTime:                now.Add(time.Duration(durationMinutes) * time.Minute),
		PlannedDurationSeconds: durationMinutes * 60,
		Passcode:               passcode,
		Preset:                 preset,
	}
	if err := m.store.SetSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.alarms.Schedule(AlarmSessionEnd, sess.EndTime)
	log.Printf("Focus session started: %d minutes, ends at %s", durationMinutes, sess.EndTime.Format(time.Kitchen))
	return nil
}

// End terminates the session early. An early manual end forfeits all
// rewards. When a passcode was set at start, it must match; an empty stored
// passcode carries no protection.
func (m *Manager) End(ctx context.Context, passcode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if !sess.Active {
		return nil
	}
	if sess.Passcode != "" && sess.Passcode != passcode {
		return ErrWrongPasscode
	}

	if err := m.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	m.alarms.Clear(AlarmSessionEnd)
	m.alarms.Clear(AlarmBreakEnd)
	log.Println("Focus session ended early; no rewards credited.")
	return nil
}

// EmergencyBreak pauses enforcement for a fixed two minutes, once per
// session. The remaining focus time is preserved by shifting the session end
// forward by the paused duration.
func (m *Manager) EmergencyBreak(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if !sess.Active {
		return ErrNoActiveSession
	}
	if sess.OnBreak {
		return ErrOnBreak
	}
	if sess.EmergencyUsed {
		return ErrEmergencyUsed
	}

	now := m.now()
	sess.OnBreak = true
	sess.EmergencyUsed = true
	sess.BreakEnd = now.Add(EmergencyBreakDuration)
	sess.EndTime = sess.EndTime.Add(EmergencyBreakDuration)
	if err := m.store.SetSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.alarms.Schedule(AlarmSessionEnd, sess.EndTime)
	m.alarms.Schedule(AlarmBreakEnd, sess.BreakEnd)
	log.Printf("Emergency break until %s; session end shifted to %s",
		sess.BreakEnd.Format(time.Kitchen), sess.EndTime.Format(time.Kitchen))
	return nil
}

// RecordBlocked counts a blocked navigation attempt. During a session it
// feeds the focus score; outside one it only bumps the lifetime total.
func (m *Manager) RecordBlocked(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	if sess.Active {
		sess.BlockedCount++
		return m.store.SetSession(ctx, sess)
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		return err
	}
	stats.BlockedCount++
	return m.store.SetStats(ctx, stats)
}

// HandleAlarm routes a fired wake-up intent. Unknown names are ignored so
// the caller can fan every fire through here.
func (m *Manager) HandleAlarm(ctx context.Context, name string) error {
	switch name {
	case AlarmSessionEnd:
		return m.completeSession(ctx)
	case AlarmBreakEnd:
		return m.resumeFromBreak(ctx)
	case AlarmAutoBreakEnd:
		return m.finishAutoBreak(ctx)
	default:
		return nil
	}
}

// completeSession finalizes a session whose timer expired. The active-flag
// check makes duplicate alarm fires a no-op; a fire arriving before the
// persisted end time (a stale intent from a superseded schedule) re-arms the
// alarm instead of crediting early.
func (m *Manager) completeSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if !sess.Active {
		log.Println("Session-end fired with no active session; duplicate delivery ignored.")
		return nil
	}
	now := m.now()
	if now.Before(sess.EndTime.Add(-2 * time.Second)) {
		log.Printf("Session-end fired early (ends %s); re-arming.", sess.EndTime.Format(time.Kitchen))
		m.alarms.Schedule(AlarmSessionEnd, sess.EndTime)
		return nil
	}

	credited := m.creditedDuration(sess, now)
	if err := m.finalize(ctx, sess, credited); err != nil {
		return err
	}

	// Completed sessions roll into a short auto-break with its own
	// independent wake-up.
	brk := state.Session{OnBreak: true, BreakEnd: now.Add(AutoBreakDuration)}
	if err := m.store.SetSession(ctx, brk); err != nil {
		log.Printf("Warning: failed to persist auto-break state: %v", err)
	}
	m.alarms.Schedule(AlarmAutoBreakEnd, brk.BreakEnd)
	return nil
}

// creditedDuration returns the planned duration recorded at start. Only when
// that value is missing or invalid does it fall back to elapsed wall-clock
// time rounded to the nearest 5-minute multiple.
func (m *Manager) creditedDuration(sess state.Session, now time.Time) time.Duration {
	if sess.PlannedDurationSeconds > 0 {
		return time.Duration(sess.PlannedDurationSeconds) * time.Second
	}
	elapsed := now.Sub(sess.StartTime)
	rounded := time.Duration(math.Round(elapsed.Minutes()/5)) * 5 * time.Minute
	log.Printf("Planned duration missing; using elapsed %s rounded to %s", elapsed, rounded)
	return rounded
}

// finalize credits the session and persists the outcome. Persistence
// failures degrade to the minimal critical subset; if even that fails, the
// loss is surfaced to the user and not retried.
func (m *Manager) finalize(ctx context.Context, sess state.Session, credited time.Duration) error {
	minutes := int(credited.Minutes())
	if minutes < reward.MinCreditedMinutes {
		log.Printf("Session too short to credit (%d minutes); no rewards.", minutes)
		return nil
	}

	prior, err := m.loadPrior(ctx)
	if err != nil {
		return err
	}
	res := reward.ComputeSessionReward(credited, sess.BlockedCount, sess.StartTime, prior)

	if err := m.persistResult(ctx, sess, res, minutes); err != nil {
		log.Printf("Session-end persistence failed, degrading to critical subset: %v", err)
		if cerr := m.store.WriteCritical(ctx, res.Stats, res.Profile); cerr != nil {
			m.notify("Focus", "Could not save your session results. Some progress may be lost.")
			return fmt.Errorf("critical-subset write failed: %w", cerr)
		}
	}

	m.notify("Focus session complete", fmt.Sprintf("+%d points (focus score %.0f)", res.PointsEarned, res.FocusScore))
	for _, id := range res.NewBadges {
		log.Printf("Badge unlocked: %s", id)
	}

	if m.syncer != nil {
		go func() {
			if err := m.syncer.PushLocal(context.Background()); err != nil {
				log.Printf("Post-session push failed (retry scheduled): %v", err)
			}
		}()
	}
	return nil
}

func (m *Manager) loadPrior(ctx context.Context) (reward.Prior, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return reward.Prior{}, err
	}
	streak, err := m.store.Streak(ctx)
	if err != nil {
		return reward.Prior{}, err
	}
	profile, err := m.store.Profile(ctx)
	if err != nil {
		return reward.Prior{}, err
	}
	return reward.Prior{Stats: stats, Streak: streak, Profile: profile}, nil
}

func (m *Manager) persistResult(ctx context.Context, sess state.Session, res reward.Result, minutes int) error {
	if err := m.store.SetStats(ctx, res.Stats); err != nil {
		return err
	}
	if err := m.store.SetStreak(ctx, res.Streak); err != nil {
		return err
	}
	if err := m.store.SetProfile(ctx, res.Profile); err != nil {
		return err
	}
	// The session credits the civil day it started on.
	return m.store.AppendHistory(ctx, civil.Date(sess.StartTime), minutes)
}

// resumeFromBreak ends an emergency break and resumes focus bookkeeping.
func (m *Manager) resumeFromBreak(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if !sess.Active || !sess.OnBreak {
		return nil
	}

	sess.OnBreak = false
	sess.BreakEnd = time.Time{}
	if err := m.store.SetSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	m.notify("Break over", "Back to focus.")
	return nil
}

// finishAutoBreak clears the post-session break state.
func (m *Manager) finishAutoBreak(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if sess.Active || !sess.OnBreak {
		return nil
	}
	if err := m.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear auto-break: %w", err)
	}
	m.notify("Break finished", "Ready for the next session.")
	return nil
}

// Recover handles a session left behind by a previous process run. If its
// end time had already passed (within tolerance) while the process was down,
// the full planned duration is credited; the device may have been off, so
// wall-clock elapsed time is meaningless. Otherwise the session was
// interrupted and is discarded without credit. Either way the session
// becomes idle and all pending wake-ups are cleared.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alarms.ClearAll()

	sess, err := m.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session during recovery: %w", err)
	}
	if !sess.Active {
		if sess.OnBreak {
			// Stale auto-break from before the restart.
			return m.store.ClearSession(ctx)
		}
		return nil
	}

	now := m.now()
	if now.After(sess.EndTime.Add(-recoveryTolerance)) {
		log.Println("Recovered session had already expired; crediting planned duration.")
		credited := time.Duration(sess.PlannedDurationSeconds) * time.Second
		if err := m.finalize(ctx, sess, credited); err != nil {
			log.Printf("Warning: recovery finalize failed: %v", err)
		}
	} else {
		log.Println("Recovered session was interrupted mid-focus; discarding without credit.")
	}
	return m.store.ClearSession(ctx)
}

// MarkSuspend writes a best-effort diagnostic marker while the process is
// shutting down. It never alters session math.
func (m *Manager) MarkSuspend(ctx context.Context) {
	sess, err := m.store.Session(ctx)
	if err != nil {
		return
	}
	marker := state.SuspendMarker{At: m.now(), SessionActive: sess.Active}
	if err := m.store.SetSuspendMarker(ctx, marker); err != nil {
		log.Printf("Warning: failed to write suspend marker: %v", err)
	}
}
