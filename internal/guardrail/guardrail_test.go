package guardrail

import (
	"testing"
	"time"

	"cart-recovery/internal/settings"
)

func quietSettings(start, end int) settings.Settings {
	return settings.Settings{
		QuietHoursStart: start,
		QuietHoursEnd:   end,
		DefaultTimezone: "UTC",
	}
}

func TestInQuietHours_WrapAroundWindow(t *testing.T) {
	s := quietSettings(21, 8)

	late := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	if !InQuietHours("UTC", late, s) {
		t.Fatalf("expected 23:00 to be quiet for 21-8 window")
	}

	morning := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if InQuietHours("UTC", morning, s) {
		t.Fatalf("expected 10:00 to be outside quiet hours")
	}

	early := time.Date(2024, 3, 1, 7, 59, 0, 0, time.UTC)
	if !InQuietHours("UTC", early, s) {
		t.Fatalf("expected 07:59 to be quiet")
	}
}

func TestInQuietHours_SimpleWindowAndDisabled(t *testing.T) {
	s := quietSettings(9, 17)
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !InQuietHours("UTC", noon, s) {
		t.Fatalf("expected 12:00 quiet for 9-17 window")
	}
	evening := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	if InQuietHours("UTC", evening, s) {
		t.Fatalf("expected 18:00 outside 9-17 window")
	}

	disabled := quietSettings(8, 8)
	if InQuietHours("UTC", noon, disabled) {
		t.Fatalf("expected start==end to disable quiet hours")
	}
}

func TestInQuietHours_UserZoneOverridesDefault(t *testing.T) {
	s := quietSettings(21, 8)
	// 02:00 UTC is 21:00 the previous evening in New York (UTC-5 in winter).
	at := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	if !InQuietHours("America/New_York", at, s) {
		t.Fatalf("expected 21:00 local to be quiet")
	}
	// Same instant is 11:00 in Tokyo, outside the window.
	if InQuietHours("Asia/Tokyo", at, s) {
		t.Fatalf("expected 11:00 local to be outside quiet hours")
	}
}

func TestInQuietHours_InvalidZoneFallsBackToUTC(t *testing.T) {
	s := quietSettings(21, 8)
	morning := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if InQuietHours("not/a/zone", morning, s) {
		t.Fatalf("expected invalid zone to evaluate as UTC 10:00, not quiet")
	}
}

func TestNextNonQuietTime_RescheduleToEndHour(t *testing.T) {
	s := quietSettings(21, 8)

	// 23:00 reschedules to 08:00 the next day.
	late := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	next := NextNonQuietTime("UTC", late, s)
	want := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	// 02:00 reschedules to 08:00 the same day.
	early := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	next = NextNonQuietTime("UTC", early, s)
	want = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextNonQuietTime_DisabledWindow(t *testing.T) {
	s := quietSettings(8, 8)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	next := NextNonQuietTime("UTC", now, s)
	if got := next.Sub(now); got != time.Minute {
		t.Fatalf("expected one-minute nudge for disabled window, got %v", got)
	}
}

func TestCheckBudget_OrderedReasons(t *testing.T) {
	s := settings.Settings{
		MaxCallsPerDay:          1,
		MaxCallsPerUserPerDay:   1,
		DailyBudgetUSD:          10,
		EstimatedCostPerCallUSD: 1,
	}

	if got := CheckBudget(s, DayStats{CallsToday: 1}); got != ReasonMaxCallsPerDay {
		t.Fatalf("expected daily cap reason, got %q", got)
	}
	if got := CheckBudget(s, DayStats{CallsToday: 0, UserCallsToday: 1}); got != ReasonMaxCallsPerUserDay {
		t.Fatalf("expected per-user cap reason, got %q", got)
	}

	tight := s
	tight.MaxCallsPerDay = 100
	tight.MaxCallsPerUserPerDay = 100
	tight.DailyBudgetUSD = 1
	if got := CheckBudget(tight, DayStats{CallsToday: 1}); got != ReasonDailyBudget {
		t.Fatalf("expected budget reason, got %q", got)
	}

	if got := CheckBudget(s, DayStats{}); got != ReasonOK {
		t.Fatalf("expected ok, got %q", got)
	}
}
