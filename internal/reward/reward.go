// Package reward computes focus score, points, level, streak and badges from
// a completed session. Everything here is pure; persistence and sync are the
// caller's business.
package reward

import (
	"math"
	"time"

	"focusd/internal/civil"
	"focusd/internal/state"
)

// MinCreditedMinutes is the shortest session that earns any reward.
const MinCreditedMinutes = 15

// maxCreditedMinutes caps how much of a single session counts toward points.
const maxCreditedMinutes = 210

// Prior is the persisted state a session completion builds on.
type Prior struct {
	Stats   state.Stats
	Streak  state.Streak
	Profile state.Profile
}

// Result is the full post-session state plus the per-session numbers
// surfaced to the UI.
type Result struct {
	Stats        state.Stats
	Streak       state.Streak
	Profile      state.Profile
	FocusScore   float64
	PointsEarned int
	NewBadges    []string
}

// FocusScore measures session cleanliness in [0,100]. Zero blocked attempts
// is a perfect 100. The divisor collapses at zero minutes; that case is
// unreachable behind the 15-minute gate but guarded anyway.
func FocusScore(durationMinutes int, blocked int) float64 {
	if blocked <= 0 {
		return 100
	}
	if durationMinutes <= 0 {
		return 0
	}
	score := 100 - float64(blocked)/(float64(durationMinutes)*0.5)*100
	return math.Max(0, math.Min(100, score))
}

// FocusMultiplier maps a focus score to the [0.3, 1.0] point multiplier.
func FocusMultiplier(score float64) float64 {
	return 0.3 + 0.7*(score/100)
}

// basePoints applies the tiered minute rates: the first hour at 1x, the
// second at 1.5x, everything past two hours at 2x, with credited minutes
// capped at maxCreditedMinutes.
func basePoints(durationMinutes int) float64 {
	m := durationMinutes
	if m > maxCreditedMinutes {
		m = maxCreditedMinutes
	}
	if m <= 0 {
		return 0
	}
	pts := float64(min(m, 60))
	if m > 60 {
		pts += float64(min(m, 120)-60) * 1.5
	}
	if m > 120 {
		pts += float64(m-120) * 2
	}
	return pts
}

// UpdateStreak applies the day rules to a session that started on the given
// civil date. The rules are ordered: no prior date, same day, consecutive
// day, clock anomaly (prior date in the future), then gap reset.
func UpdateStreak(prior state.Streak, sessionDate string) state.Streak {
	s := prior
	switch {
	case prior.LastSessionDate == "":
		s.Current = 1
	case prior.LastSessionDate == sessionDate:
		// Second session of the same day, no change.
	case prior.LastSessionDate == civil.Yesterday(sessionDate):
		s.Current = prior.Current + 1
	case prior.LastSessionDate > sessionDate:
		// Clock went backwards; keep the streak and its date so the
		// next real day still reads as consecutive.
		return prior
	default:
		s.Current = 1
	}
	s.LastSessionDate = sessionDate
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	return s
}

// CumulativeXP is the total points needed to reach the given level. Level n
// requires n*100 additional points beyond level n-1.
func CumulativeXP(level int) int {
	if level <= 1 {
		return 0
	}
	n := level - 1
	return 100 * n * (n + 1) / 2
}

// Level returns the level for a cumulative point total.
func Level(points int) int {
	level := 1
	for points >= CumulativeXP(level+1) {
		level++
	}
	return level
}

// ComputeSessionReward folds a completed session into the prior state. The
// session is assumed to have passed the minimum-duration gate; callers
// enforce it.
func ComputeSessionReward(duration time.Duration, blocked int, startedAt time.Time, prior Prior) Result {
	minutes := int(duration.Minutes())

	score := FocusScore(minutes, blocked)
	streak := UpdateStreak(prior.Streak, civil.Date(startedAt))

	base := basePoints(minutes)
	if minutes >= 60 {
		base += 20
	}
	if streak.Current >= 7 {
		base += 50
	}
	earned := int(math.Floor(base * FocusMultiplier(score)))

	stats := prior.Stats
	stats.TotalFocusTimeMinutes += minutes
	stats.SessionsCompleted++
	stats.BlockedCount += blocked

	profile := prior.Profile
	profile.Points += earned
	profile.Level = Level(profile.Points)

	facts := Facts{
		SessionsCompleted: stats.SessionsCompleted,
		TotalMinutes:      stats.TotalFocusTimeMinutes,
		StreakCurrent:     streak.Current,
		StreakLongest:     streak.Longest,
		Level:             profile.Level,
		Points:            profile.Points,
	}
	newBadges := EvaluateBadges(profile, facts)
	profile.Badges = append(profile.Badges, newBadges...)

	return Result{
		Stats:        stats,
		Streak:       streak,
		Profile:      profile,
		FocusScore:   score,
		PointsEarned: earned,
		NewBadges:    newBadges,
	}
}
