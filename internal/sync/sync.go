// Package sync reconciles local stats with the remote authoritative store.
// Pushes send local increments and accept server corrections; pulls
// overwrite local state unconditionally. Everything survives being offline:
// a failed push leaves a pendingSync marker and a retry alarm.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"focusd/internal/alarm"
	"focusd/internal/state"
	"focusd/internal/store"
)

// AlarmSyncRetry is the wake-up name for the 5-minute push retry.
const AlarmSyncRetry = "syncRetry"

const (
	pushTimeout = 10 * time.Second
	pullTimeout = 15 * time.Second
	// RetryDelay is the fixed backoff between failed pushes.
	RetryDelay = 5 * time.Minute
)

// ErrDeviceConflict reports that another device holds the account session.
var ErrDeviceConflict = errors.New("device conflict: session held by another device")

type Reconciler struct {
	baseURL string
	client  *http.Client
	store   *store.StateStore
	alarms  *alarm.Scheduler

	// OnAuthConflict signals the UI layer to force re-authentication.
	OnAuthConflict func()

	now func() time.Time
}

func NewReconciler(baseURL string, st *store.StateStore, alarms *alarm.Scheduler) *Reconciler {
	return &Reconciler{
		baseURL: baseURL,
		client:  &http.Client{},
		store:   st,
		alarms:  alarms,
		now:     time.Now,
	}
}

// remoteProfile is the wire shape shared by pushes and pulls.
type remoteProfile struct {
	Stats        state.Stats        `json:"stats"`
	Streak       state.Streak       `json:"streak"`
	Badges       []string           `json:"badges"`
	Points       int                `json:"points"`
	Level        int                `json:"level"`
	FocusHistory state.FocusHistory `json:"focusHistory,omitempty"`
}

// rejected carries the server's corrected values for fields where local was
// behind the authoritative totals.
type rejected struct {
	Stats  *state.Stats  `json:"stats,omitempty"`
	Streak *state.Streak `json:"streak,omitempty"`
	Points *int          `json:"points,omitempty"`
	Level  *int          `json:"level,omitempty"`
	Badges []string      `json:"badges,omitempty"`
}

type pushResponse struct {
	Rejected *rejected `json:"rejected,omitempty"`
}

type apiError struct {
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// PushLocal sends the local incremental state to the remote store. On
// failure the pendingSync flag is set and a retry alarm is scheduled;
// retries continue until a push succeeds.
func (r *Reconciler) PushLocal(ctx context.Context) error {
	err := r.push(ctx, true)
	if err == nil {
		if cerr := r.store.ClearPendingSync(ctx); cerr != nil {
			log.Printf("Warning: failed to clear pendingSync: %v", cerr)
		}
		r.alarms.Clear(AlarmSyncRetry)
		return nil
	}
	if errors.Is(err, ErrDeviceConflict) {
		r.handleDeviceConflict(ctx)
		return err
	}

	log.Printf("Push failed, scheduling retry in %s: %v", RetryDelay, err)
	if serr := r.store.SetPendingSync(ctx, state.PendingSync{Since: r.now(), LastErr: err.Error()}); serr != nil {
		log.Printf("Warning: failed to persist pendingSync: %v", serr)
	}
	r.alarms.Schedule(AlarmSyncRetry, r.now().Add(RetryDelay))
	return err
}

func (r *Reconciler) push(ctx context.Context, applyCorrections bool) error {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return err
	}
	streak, err := r.store.Streak(ctx)
	if err != nil {
		return err
	}
	profile, err := r.store.Profile(ctx)
	if err != nil {
		return err
	}
	history, err := r.store.History(ctx)
	if err != nil {
		return err
	}

	payload := remoteProfile{
		Stats:        stats,
		Streak:       streak,
		Badges:       profile.Badges,
		Points:       profile.Points,
		Level:        profile.Level,
		FocusHistory: history,
	}

	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	var resp pushResponse
	if err := r.doJSON(ctx, http.MethodPut, "/users/stats", payload, &resp); err != nil {
		return err
	}

	if applyCorrections && resp.Rejected != nil {
		if err := r.applyCorrections(ctx, *resp.Rejected, stats, streak, profile); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) applyCorrections(ctx context.Context, rej rejected, stats state.Stats, streak state.Streak, profile state.Profile) error {
	if rej.Stats != nil {
		log.Printf("Server corrected stats: local %+v -> remote %+v", stats, *rej.Stats)
		if err := r.store.SetStats(ctx, *rej.Stats); err != nil {
			return err
		}
	}
	if rej.Streak != nil {
		if err := r.store.SetStreak(ctx, *rej.Streak); err != nil {
			return err
		}
	}
	changed := false
	if rej.Points != nil {
		profile.Points = *rej.Points
		changed = true
	}
	if rej.Level != nil {
		profile.Level = *rej.Level
		changed = true
	}
	if rej.Badges != nil {
		profile.Badges = rej.Badges
		changed = true
	}
	if changed {
		return r.store.SetProfile(ctx, profile)
	}
	return nil
}

// PullRemote fetches the remote profile and overwrites local state. The
// remote store is unconditionally authoritative, even when it reports fewer
// minutes than the local cache; that case is logged and applied anyway.
// Invalid payloads are rejected and local state kept.
func (r *Reconciler) PullRemote(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	var remote remoteProfile
	if err := r.doJSON(ctx, http.MethodGet, "/auth/profile", nil, &remote); err != nil {
		if errors.Is(err, ErrDeviceConflict) {
			r.handleDeviceConflict(ctx)
		}
		return err
	}

	if err := validateProfile(remote); err != nil {
		return fmt.Errorf("rejecting remote profile: %w", err)
	}

	local, err := r.store.Stats(ctx)
	if err != nil {
		return err
	}
	if remote.Stats.TotalFocusTimeMinutes < local.TotalFocusTimeMinutes {
		log.Printf("Warning: remote reports %d focus minutes, local has %d; remote wins",
			remote.Stats.TotalFocusTimeMinutes, local.TotalFocusTimeMinutes)
	}

	if err := r.store.SetStats(ctx, remote.Stats); err != nil {
		return err
	}
	if err := r.store.SetStreak(ctx, remote.Streak); err != nil {
		return err
	}
	profile := state.Profile{Points: remote.Points, Level: remote.Level, Badges: remote.Badges}
	if err := r.store.SetProfile(ctx, profile); err != nil {
		return err
	}
	if remote.FocusHistory != nil {
		if err := r.store.SetHistory(ctx, remote.FocusHistory); err != nil {
			return err
		}
	}
	return nil
}

func validateProfile(p remoteProfile) error {
	if p.Stats.TotalFocusTimeMinutes < 0 || p.Stats.SessionsCompleted < 0 || p.Stats.BlockedCount < 0 {
		return errors.New("negative stats field")
	}
	if p.Points < 0 || p.Streak.Current < 0 || p.Streak.Longest < 0 {
		return errors.New("negative gamification field")
	}
	if p.Level < 1 {
		return errors.New("level below 1")
	}
	return nil
}

// PushActivity mirrors the latest activity snapshot. Fire-and-forget:
// failures are logged, never retried.
func (r *Reconciler) PushActivity(ctx context.Context, snap state.ActivitySnapshot) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := r.doJSON(ctx, http.MethodPut, "/users/activity", snap, nil); err != nil {
		log.Printf("Activity push failed (ignored): %v", err)
	}
}

// PushSettings mirrors the user-configurable settings to the backend.
func (r *Reconciler) PushSettings(ctx context.Context, settings interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	return r.doJSON(ctx, http.MethodPut, "/users/settings", settings, nil)
}

// versionStatus is the remote policy response for the version gate.
type versionStatus struct {
	Blocked bool   `json:"blocked"`
	Message string `json:"message,omitempty"`
}

// CheckVersion refreshes the cached version gate. A network failure keeps
// the previous gate value.
func (r *Reconciler) CheckVersion(ctx context.Context) (state.VersionGate, error) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	var vs versionStatus
	if err := r.doJSON(ctx, http.MethodGet, "/version/status", nil, &vs); err != nil {
		return state.VersionGate{}, err
	}
	gate := state.VersionGate{Blocked: vs.Blocked, Message: vs.Message, CheckedAt: r.now()}
	if err := r.store.SetVersionGate(ctx, gate); err != nil {
		return gate, err
	}
	return gate, nil
}

// handleDeviceConflict runs the conflict protocol: one best-effort final
// push, then credentials cleared (all earned progress stays local), then the
// UI is told to re-authenticate.
func (r *Reconciler) handleDeviceConflict(ctx context.Context) {
	log.Println("Device conflict reported by server; forcing re-authentication.")
	if err := r.push(ctx, false); err != nil {
		log.Printf("Final push before re-auth failed (ignored): %v", err)
	}
	if err := r.store.ClearCredentials(ctx); err != nil {
		log.Printf("Warning: failed to clear credentials: %v", err)
	}
	if r.OnAuthConflict != nil {
		r.OnAuthConflict()
	}
}

func (r *Reconciler) doJSON(ctx context.Context, method, path string, body, into interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	auth, err := r.store.Auth(ctx)
	if err == nil {
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		}
		if auth.DeviceID != "" {
			req.Header.Set("X-Device-ID", auth.DeviceID)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Code == "DEVICE_CONFLICT" {
			return fmt.Errorf("%w: %s", ErrDeviceConflict, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("server error on %s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("server error on %s %s: status %d", method, path, resp.StatusCode)
	}

	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return fmt.Errorf("malformed response from %s %s: %w", method, path, err)
		}
	}
	return nil
}
