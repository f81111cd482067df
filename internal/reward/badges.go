package reward

import "focusd/internal/state"

// Facts is the view of cumulative state badge predicates run against.
type Facts struct {
	SessionsCompleted int
	TotalMinutes      int
	StreakCurrent     int
	StreakLongest     int
	Level             int
	Points            int
}

// Badge couples an id with its unlock predicate. A badge is granted once,
// the first time its predicate holds, and never revoked.
type Badge struct {
	ID    string
	Name  string
	Check func(Facts) bool
}

// Badges is the fixed, ordered table. Evaluation is a full re-scan on every
// session completion and on manual re-check, so insertion order into the
// earned set never matters.
var Badges = []Badge{
	{ID: "first_session", Name: "First Focus", Check: func(f Facts) bool { return f.SessionsCompleted >= 1 }},
	{ID: "five_sessions", Name: "Getting Serious", Check: func(f Facts) bool { return f.SessionsCompleted >= 5 }},
	{ID: "twenty_five_sessions", Name: "Habit Formed", Check: func(f Facts) bool { return f.SessionsCompleted >= 25 }},
	{ID: "hundred_sessions", Name: "Centurion", Check: func(f Facts) bool { return f.SessionsCompleted >= 100 }},
	{ID: "ten_hours", Name: "Deep Diver", Check: func(f Facts) bool { return f.TotalMinutes >= 600 }},
	{ID: "fifty_hours", Name: "Marathoner", Check: func(f Facts) bool { return f.TotalMinutes >= 3000 }},
	{ID: "streak_3", Name: "Warming Up", Check: func(f Facts) bool { return f.StreakCurrent >= 3 }},
	{ID: "streak_7", Name: "Week Strong", Check: func(f Facts) bool { return f.StreakCurrent >= 7 }},
	{ID: "streak_30", Name: "Unstoppable", Check: func(f Facts) bool { return f.StreakCurrent >= 30 }},
	{ID: "level_5", Name: "Rising Star", Check: func(f Facts) bool { return f.Level >= 5 }},
	{ID: "level_10", Name: "Focus Master", Check: func(f Facts) bool { return f.Level >= 10 }},
	// Declared but not yet wired to real conditions; pending product
	// definition of the trigger data.
	{ID: "early_bird", Name: "Early Bird", Check: func(Facts) bool { return false }},
	{ID: "night_owl", Name: "Night Owl", Check: func(Facts) bool { return false }},
	{ID: "social_butterfly", Name: "Social Butterfly", Check: func(Facts) bool { return false }},
}

// EvaluateBadges returns the ids newly unlocked against facts, in table
// order, excluding anything the profile already holds.
func EvaluateBadges(p state.Profile, f Facts) []string {
	var earned []string
	for _, b := range Badges {
		if p.HasBadge(b.ID) {
			continue
		}
		if b.Check(f) {
			earned = append(earned, b.ID)
		}
	}
	return earned
}
