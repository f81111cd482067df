package ipc

import "focusd/internal/state"

const SocketPath = "/tmp/focusd.sock"

// Command is a request sent over the socket by a UI layer (browser
// extension bridge, CLI, widgets).
type Command struct {
	Action string      `json:"action"`
	Args   interface{} `json:"args,omitempty"`
}

// Response is the reply. Failures carry Err; Data is action-specific.
type Response struct {
	OK   bool        `json:"ok"`
	Err  string      `json:"err,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// --- Action names ---

const (
	ActionStartSession       = "startSession"
	ActionEndSession         = "endSession"
	ActionEmergencyBreak     = "emergencyBreak"
	ActionGetState           = "getState"
	ActionGetStats           = "getStats"
	ActionCheckBadges        = "checkBadges"
	ActionCheckVersionStatus = "checkVersionStatus"
	ActionReportNavigation   = "reportNavigation"
	ActionPing               = "ping"
)

// --- Argument structs ---

type StartSessionArgs struct {
	DurationMinutes int    `json:"durationMinutes"`
	Passcode        string `json:"passcode,omitempty"`
	Preset          string `json:"preset,omitempty"`
}

type EndSessionArgs struct {
	Passcode string `json:"passcode,omitempty"`
}

type ReportNavigationArgs struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// --- Response data ---

// StateData is the full snapshot returned by getState.
type StateData struct {
	Session     state.Session          `json:"session"`
	Stats       state.Stats            `json:"stats"`
	Streak      state.Streak           `json:"streak"`
	Profile     state.Profile          `json:"profile"`
	Activity    state.ActivitySnapshot `json:"activity"`
	VersionGate state.VersionGate      `json:"versionGate"`
	PendingSync bool                   `json:"pendingSync"`
}

// NavigationData is the enforcement verdict plus the refreshed activity
// snapshot for a reported navigation.
type NavigationData struct {
	Allow    bool                   `json:"allow"`
	Redirect string                 `json:"redirect,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Activity state.ActivitySnapshot `json:"activity"`
}

// StatsData is the cumulative-progress view returned by getStats.
type StatsData struct {
	Stats   state.Stats        `json:"stats"`
	Streak  state.Streak       `json:"streak"`
	Profile state.Profile      `json:"profile"`
	History state.FocusHistory `json:"history"`
}

type BadgeData struct {
	NewBadges []string `json:"newBadges"`
	Badges    []string `json:"badges"`
}

type VersionData struct {
	Blocked bool   `json:"blocked"`
	Message string `json:"message,omitempty"`
}
