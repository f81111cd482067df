package state

import "time"

// Storage keys. Every durable value lives under one of these names in the
// key-value store.
const (
	KeySession       = "session"
	KeyStats         = "stats"
	KeyStreak        = "streak"
	KeyProfile       = "profile"
	KeyFocusHistory  = "focusHistory"
	KeyActivity      = "activity"
	KeyPendingSync   = "pendingSync"
	KeyVersionGate   = "versionGate"
	KeyAuth          = "auth"
	KeySuspendMarker = "suspendMarker"
)

// Session is the single focus session. At most one exists at a time; an
// inactive session is represented by the zero value.
type Session struct {
	Active                 bool      `json:"active"`
	StartTime              time.Time `json:"startTime"`
	EndTime                time.Time `json:"endTime"`
	PlannedDurationSeconds int       `json:"plannedDurationSeconds"`
	BlockedCount           int       `json:"blockedCount"`
	Passcode               string    `json:"passcode,omitempty"`
	Preset                 string    `json:"preset,omitempty"`
	OnBreak                bool      `json:"onBreak"`
	BreakEnd               time.Time `json:"breakEnd,omitempty"`
	EmergencyUsed          bool      `json:"emergencyUsed"`
}

// Stats are monotonically non-decreasing totals. The remote store is
// authoritative on conflict.
type Stats struct {
	TotalFocusTimeMinutes int `json:"totalFocusTime"`
	SessionsCompleted     int `json:"sessionsCompleted"`
	BlockedCount          int `json:"blockedCount"`
}

// Streak counts consecutive civil days (UTC+5:30) with at least one
// completed session.
type Streak struct {
	Current         int    `json:"current"`
	Longest         int    `json:"longest"`
	LastSessionDate string `json:"lastSessionDate"` // YYYY-MM-DD, civil calendar
}

// Profile is the gamification state. Badges are append-only.
type Profile struct {
	Points int      `json:"points"`
	Level  int      `json:"level"`
	Badges []string `json:"badges"`
}

// HasBadge reports whether the badge id has been earned.
func (p Profile) HasBadge(id string) bool {
	for _, b := range p.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// FocusHistory maps civil date (YYYY-MM-DD) to minutes focused that day.
type FocusHistory map[string]int

// ActivitySnapshot describes what the user is currently looking at. Only the
// latest snapshot is kept; it is recomputed on every navigation report.
type ActivitySnapshot struct {
	Status          string    `json:"status"`
	FocusActive     bool      `json:"focusActive"`
	CurrentURL      string    `json:"currentUrl,omitempty"`
	VideoTitle      string    `json:"videoTitle,omitempty"`
	VideoThumbnail  string    `json:"videoThumbnail,omitempty"`
	VideoChannel    string    `json:"videoChannel,omitempty"`
	ActivityType    string    `json:"activityType"`
	ActivityDetails string    `json:"activityDetails,omitempty"`
	ActionButton    string    `json:"actionButton,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// VersionGate is the cached result of the remote policy check that can
// disable session starting entirely.
type VersionGate struct {
	Blocked   bool      `json:"blocked"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Auth holds the credential and device identity used by the sync layer.
// Cleared (stats preserved) on a device conflict.
type Auth struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"userId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

// SuspendMarker is a best-effort diagnostic note written when the process is
// about to terminate. It never alters session math.
type SuspendMarker struct {
	At            time.Time `json:"at"`
	SessionActive bool      `json:"sessionActive"`
}

// PendingSync marks that a push failed and a retry is scheduled.
type PendingSync struct {
	Since   time.Time `json:"since"`
	LastErr string    `json:"lastErr,omitempty"`
}
