package store

import (
	"context"
	"encoding/json"
	"fmt"

	"focusd/internal/civil"
	"focusd/internal/state"
)

// HistoryRetentionDays is the rolling window kept in FocusHistory.
const HistoryRetentionDays = 90

// StateStore layers typed, JSON-encoded accessors over the raw KV namespace.
type StateStore struct {
	kv KV
}

func NewStateStore(kv KV) *StateStore {
	return &StateStore{kv: kv}
}

func (s *StateStore) get(ctx context.Context, key string, into interface{}) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, fmt.Errorf("corrupt value for key %s: %w", key, err)
	}
	return true, nil
}

func (s *StateStore) set(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value for key %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, raw)
}

func (s *StateStore) Session(ctx context.Context) (state.Session, error) {
	var sess state.Session
	_, err := s.get(ctx, state.KeySession, &sess)
	return sess, err
}

func (s *StateStore) SetSession(ctx context.Context, sess state.Session) error {
	return s.set(ctx, state.KeySession, sess)
}

func (s *StateStore) ClearSession(ctx context.Context) error {
	return s.kv.Remove(ctx, state.KeySession)
}

func (s *StateStore) Stats(ctx context.Context) (state.Stats, error) {
	var st state.Stats
	_, err := s.get(ctx, state.KeyStats, &st)
	return st, err
}

func (s *StateStore) SetStats(ctx context.Context, st state.Stats) error {
	return s.set(ctx, state.KeyStats, st)
}

func (s *StateStore) Streak(ctx context.Context) (state.Streak, error) {
	var sk state.Streak
	_, err := s.get(ctx, state.KeyStreak, &sk)
	return sk, err
}

func (s *StateStore) SetStreak(ctx context.Context, sk state.Streak) error {
	return s.set(ctx, state.KeyStreak, sk)
}

func (s *StateStore) Profile(ctx context.Context) (state.Profile, error) {
	p := state.Profile{Level: 1}
	_, err := s.get(ctx, state.KeyProfile, &p)
	if p.Level < 1 {
		p.Level = 1
	}
	return p, err
}

func (s *StateStore) SetProfile(ctx context.Context, p state.Profile) error {
	return s.set(ctx, state.KeyProfile, p)
}

func (s *StateStore) History(ctx context.Context) (state.FocusHistory, error) {
	h := state.FocusHistory{}
	_, err := s.get(ctx, state.KeyFocusHistory, &h)
	return h, err
}

func (s *StateStore) SetHistory(ctx context.Context, h state.FocusHistory) error {
	return s.set(ctx, state.KeyFocusHistory, pruneHistory(h))
}

// AppendHistory adds minutes to the given civil date and prunes entries
// older than the retention window.
func (s *StateStore) AppendHistory(ctx context.Context, date string, minutes int) error {
	h, err := s.History(ctx)
	if err != nil {
		return err
	}
	h[date] += minutes
	return s.SetHistory(ctx, h)
}

func pruneHistory(h state.FocusHistory) state.FocusHistory {
	var newest string
	for d := range h {
		if d > newest {
			newest = d
		}
	}
	if newest == "" {
		return h
	}
	for d := range h {
		if civil.DaysBetween(d, newest) > HistoryRetentionDays {
			delete(h, d)
		}
	}
	return h
}

func (s *StateStore) Activity(ctx context.Context) (state.ActivitySnapshot, error) {
	var a state.ActivitySnapshot
	_, err := s.get(ctx, state.KeyActivity, &a)
	return a, err
}

func (s *StateStore) SetActivity(ctx context.Context, a state.ActivitySnapshot) error {
	return s.set(ctx, state.KeyActivity, a)
}

func (s *StateStore) PendingSync(ctx context.Context) (state.PendingSync, bool, error) {
	var p state.PendingSync
	ok, err := s.get(ctx, state.KeyPendingSync, &p)
	return p, ok, err
}

func (s *StateStore) SetPendingSync(ctx context.Context, p state.PendingSync) error {
	return s.set(ctx, state.KeyPendingSync, p)
}

func (s *StateStore) ClearPendingSync(ctx context.Context) error {
	return s.kv.Remove(ctx, state.KeyPendingSync)
}

func (s *StateStore) VersionGate(ctx context.Context) (state.VersionGate, error) {
	var g state.VersionGate
	_, err := s.get(ctx, state.KeyVersionGate, &g)
	return g, err
}

func (s *StateStore) SetVersionGate(ctx context.Context, g state.VersionGate) error {
	return s.set(ctx, state.KeyVersionGate, g)
}

func (s *StateStore) Auth(ctx context.Context) (state.Auth, error) {
	var a state.Auth
	_, err := s.get(ctx, state.KeyAuth, &a)
	return a, err
}

func (s *StateStore) SetAuth(ctx context.Context, a state.Auth) error {
	return s.set(ctx, state.KeyAuth, a)
}

// ClearCredentials drops only the credential/session-identity fields. Stats,
// points and badges are untouched; used on a device conflict.
func (s *StateStore) ClearCredentials(ctx context.Context) error {
	a, err := s.Auth(ctx)
	if err != nil {
		return err
	}
	a.Token = ""
	a.UserID = ""
	return s.SetAuth(ctx, a)
}

func (s *StateStore) SetSuspendMarker(ctx context.Context, m state.SuspendMarker) error {
	return s.set(ctx, state.KeySuspendMarker, m)
}

// WriteCritical persists the minimal subset that must survive a failing
// session-end write: total focus time, sessions completed, points, level.
func (s *StateStore) WriteCritical(ctx context.Context, st state.Stats, p state.Profile) error {
	if err := s.set(ctx, state.KeyStats, st); err != nil {
		return err
	}
	return s.set(ctx, state.KeyProfile, p)
}

func (s *StateStore) BytesInUse(ctx context.Context) (int64, error) {
	return s.kv.BytesInUse(ctx)
}

// Video metadata cache, written by the activity classifier's oEmbed path.

func (s *StateStore) GetVideoMeta(ctx context.Context, videoID string, into interface{}) (bool, error) {
	return s.get(ctx, "videoMeta:"+videoID, into)
}

func (s *StateStore) PutVideoMeta(ctx context.Context, videoID string, meta interface{}) error {
	return s.set(ctx, "videoMeta:"+videoID, meta)
}
