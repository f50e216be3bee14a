package guardrail

import (
	"strings"
	"time"

	"cart-recovery/internal/settings"
)

// Guardrails are pure policy functions: all state (current time, settings,
// day counters) is passed in, nothing is read from ambient globals. The day
// counters must be a fresh read of the call store per attempt — see DayStats.

// Reason is a closed set of guardrail decisions. Anything other than
// ReasonOK blocks the call attempt without counting as a retryable failure.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonMaxCallsPerDay     Reason = "max_calls_per_day_reached"
	ReasonMaxCallsPerUserDay Reason = "max_calls_per_user_per_day_reached"
	ReasonDailyBudget        Reason = "daily_budget_exceeded"
)

// DayStats is an atomic snapshot of today's call volume, scoped by UTC day.
// It must be re-read from the store before every decision; caching it across
// attempts would let concurrent-looking jobs pass a cap against stale counts.
type DayStats struct {
	CallsToday     int
	UserCallsToday int
}

// InQuietHours reports whether now falls inside the user's local quiet-hours
// window [start, end). A window with start >= end wraps midnight; start ==
// end disables quiet hours entirely.
func InQuietHours(userTZ string, now time.Time, s settings.Settings) bool {
	zone := resolveZone(userTZ, s.DefaultTimezone)
	hour := now.In(zone).Hour()
	start, end := s.QuietHoursStart, s.QuietHoursEnd
	if start == end {
		return false
	}
	if start < end {
		return start <= hour && hour < end
	}
	return hour >= start || hour < end
}

// NextNonQuietTime computes the next instant at the quiet-window end hour in
// the user's local zone, strictly after now, returned in UTC.
func NextNonQuietTime(userTZ string, now time.Time, s settings.Settings) time.Time {
	zone := resolveZone(userTZ, s.DefaultTimezone)
	local := now.In(zone)
	start, end := s.QuietHoursStart, s.QuietHoursEnd
	if start == end {
		return now.Add(time.Minute).UTC()
	}

	target := time.Date(local.Year(), local.Month(), local.Day(), end, 0, 0, 0, zone)
	if start < end {
		if local.Hour() >= end {
			target = target.AddDate(0, 0, 1)
		}
	} else {
		if local.Hour() >= start {
			target = target.AddDate(0, 0, 1)
		} else if local.Hour() < end && !target.After(local) {
			target = target.AddDate(0, 0, 1)
		}
	}

	if !target.After(local) {
		target = target.Add(time.Minute)
	}
	return target.UTC()
}

// CheckBudget evaluates the daily cap and budget guardrails in order and
// returns the first violated reason, or ReasonOK.
func CheckBudget(s settings.Settings, stats DayStats) Reason {
	if stats.CallsToday >= s.MaxCallsPerDay {
		return ReasonMaxCallsPerDay
	}
	if stats.UserCallsToday >= s.MaxCallsPerUserPerDay {
		return ReasonMaxCallsPerUserDay
	}
	spend := float64(stats.CallsToday) * s.EstimatedCostPerCallUSD
	if spend+s.EstimatedCostPerCallUSD > s.DailyBudgetUSD {
		return ReasonDailyBudget
	}
	return ReasonOK
}

// StartOfDay returns midnight UTC for the day containing t. Guardrail
// counters and alert ratios are scoped by this boundary.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func resolveZone(userTZ, defaultTZ string) *time.Location {
	name := strings.TrimSpace(userTZ)
	if name == "" {
		name = strings.TrimSpace(defaultTZ)
	}
	if name == "" {
		return time.UTC
	}
	zone, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return zone
}
