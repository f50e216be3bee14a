package settings

import (
	"strconv"
	"strings"

	"cart-recovery/internal/config"
)

// Settings is the voice recovery configuration singleton.
//
// Invariant: every numeric field is clamped to its valid range on write;
// callers can rely on a value loaded from the repository being usable as-is.
type Settings struct {
	Enabled    bool `json:"enabled"`
	KillSwitch bool `json:"killSwitch"`

	AbandonmentMinutes    int `json:"abandonmentMinutes"`
	MaxAttemptsPerCart    int `json:"maxAttemptsPerCart"`
	MaxCallsPerUserPerDay int `json:"maxCallsPerUserPerDay"`
	MaxCallsPerDay        int `json:"maxCallsPerDay"`

	DailyBudgetUSD          float64 `json:"dailyBudgetUsd"`
	EstimatedCostPerCallUSD float64 `json:"estimatedCostPerCallUsd"`

	// Quiet hours are local wall-clock hours, 0-23. Start >= End wraps
	// midnight; Start == End disables the window.
	QuietHoursStart int `json:"quietHoursStart"`
	QuietHoursEnd   int `json:"quietHoursEnd"`

	RetryBackoffSeconds []int `json:"retryBackoffSeconds"`

	ScriptVersion  string `json:"scriptVersion"`
	ScriptTemplate string `json:"scriptTemplate"`

	AssistantID     string `json:"assistantId"`
	FromPhoneNumber string `json:"fromPhoneNumber"`
	DefaultTimezone string `json:"defaultTimezone"`

	AlertBacklogThreshold      int     `json:"alertBacklogThreshold"`
	AlertFailureRatioThreshold float64 `json:"alertFailureRatioThreshold"`
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	Enabled    *bool `json:"enabled"`
	KillSwitch *bool `json:"killSwitch"`

	AbandonmentMinutes    *int `json:"abandonmentMinutes"`
	MaxAttemptsPerCart    *int `json:"maxAttemptsPerCart"`
	MaxCallsPerUserPerDay *int `json:"maxCallsPerUserPerDay"`
	MaxCallsPerDay        *int `json:"maxCallsPerDay"`

	DailyBudgetUSD          *float64 `json:"dailyBudgetUsd"`
	EstimatedCostPerCallUSD *float64 `json:"estimatedCostPerCallUsd"`

	QuietHoursStart *int `json:"quietHoursStart"`
	QuietHoursEnd   *int `json:"quietHoursEnd"`

	RetryBackoffSeconds []int `json:"retryBackoffSeconds"`

	ScriptVersion  *string `json:"scriptVersion"`
	ScriptTemplate *string `json:"scriptTemplate"`

	AssistantID     *string `json:"assistantId"`
	FromPhoneNumber *string `json:"fromPhoneNumber"`
	DefaultTimezone *string `json:"defaultTimezone"`

	AlertBacklogThreshold      *int     `json:"alertBacklogThreshold"`
	AlertFailureRatioThreshold *float64 `json:"alertFailureRatioThreshold"`
}

// Normalize clamps every field to its valid range and fills string defaults.
func (s Settings) Normalize() Settings {
	out := s
	out.AbandonmentMinutes = maxInt(1, out.AbandonmentMinutes)
	out.MaxAttemptsPerCart = maxInt(1, out.MaxAttemptsPerCart)
	out.MaxCallsPerUserPerDay = maxInt(1, out.MaxCallsPerUserPerDay)
	out.MaxCallsPerDay = maxInt(1, out.MaxCallsPerDay)
	if out.DailyBudgetUSD < 0 {
		out.DailyBudgetUSD = 0
	}
	if out.EstimatedCostPerCallUSD < 0 {
		out.EstimatedCostPerCallUSD = 0
	}
	out.QuietHoursStart = clampInt(out.QuietHoursStart, 0, 23)
	out.QuietHoursEnd = clampInt(out.QuietHoursEnd, 0, 23)
	out.RetryBackoffSeconds = NormalizeBackoff(out.RetryBackoffSeconds)
	out.ScriptVersion = strings.TrimSpace(out.ScriptVersion)
	if out.ScriptVersion == "" {
		out.ScriptVersion = "v1"
	}
	out.AssistantID = strings.TrimSpace(out.AssistantID)
	out.FromPhoneNumber = strings.TrimSpace(out.FromPhoneNumber)
	out.DefaultTimezone = strings.TrimSpace(out.DefaultTimezone)
	if out.DefaultTimezone == "" {
		out.DefaultTimezone = "UTC"
	}
	out.AlertBacklogThreshold = maxInt(1, out.AlertBacklogThreshold)
	out.AlertFailureRatioThreshold = clampFloat(out.AlertFailureRatioThreshold, 0.01, 1.0)
	return out
}

// Apply merges a patch into the settings. The result is NOT normalized;
// callers must Normalize before persisting.
func (s Settings) Apply(p Patch) Settings {
	out := s
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.KillSwitch != nil {
		out.KillSwitch = *p.KillSwitch
	}
	if p.AbandonmentMinutes != nil {
		out.AbandonmentMinutes = *p.AbandonmentMinutes
	}
	if p.MaxAttemptsPerCart != nil {
		out.MaxAttemptsPerCart = *p.MaxAttemptsPerCart
	}
	if p.MaxCallsPerUserPerDay != nil {
		out.MaxCallsPerUserPerDay = *p.MaxCallsPerUserPerDay
	}
	if p.MaxCallsPerDay != nil {
		out.MaxCallsPerDay = *p.MaxCallsPerDay
	}
	if p.DailyBudgetUSD != nil {
		out.DailyBudgetUSD = *p.DailyBudgetUSD
	}
	if p.EstimatedCostPerCallUSD != nil {
		out.EstimatedCostPerCallUSD = *p.EstimatedCostPerCallUSD
	}
	if p.QuietHoursStart != nil {
		out.QuietHoursStart = *p.QuietHoursStart
	}
	if p.QuietHoursEnd != nil {
		out.QuietHoursEnd = *p.QuietHoursEnd
	}
	if p.RetryBackoffSeconds != nil {
		out.RetryBackoffSeconds = p.RetryBackoffSeconds
	}
	if p.ScriptVersion != nil {
		out.ScriptVersion = *p.ScriptVersion
	}
	if p.ScriptTemplate != nil {
		out.ScriptTemplate = *p.ScriptTemplate
	}
	if p.AssistantID != nil {
		out.AssistantID = *p.AssistantID
	}
	if p.FromPhoneNumber != nil {
		out.FromPhoneNumber = *p.FromPhoneNumber
	}
	if p.DefaultTimezone != nil {
		out.DefaultTimezone = *p.DefaultTimezone
	}
	if p.AlertBacklogThreshold != nil {
		out.AlertBacklogThreshold = *p.AlertBacklogThreshold
	}
	if p.AlertFailureRatioThreshold != nil {
		out.AlertFailureRatioThreshold = *p.AlertFailureRatioThreshold
	}
	return out
}

// NormalizeBackoff drops non-positive entries and falls back to the default
// sequence when nothing usable remains.
func NormalizeBackoff(raw []int) []int {
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if v > 0 {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []int{60, 300, 900}
	}
	return out
}

// ParseBackoffCSV parses a comma-separated backoff list (config seed format).
func ParseBackoffCSV(csv string) []int {
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return NormalizeBackoff(out)
}

// FromConfig builds the boot-time defaults used to seed the singleton.
func FromConfig(rc config.RecoveryConfig) Settings {
	return Settings{
		Enabled:                    rc.Enabled,
		KillSwitch:                 rc.KillSwitch,
		AbandonmentMinutes:         rc.AbandonmentMinutes,
		MaxAttemptsPerCart:         rc.MaxAttemptsPerCart,
		MaxCallsPerUserPerDay:      rc.MaxCallsPerUserPerDay,
		MaxCallsPerDay:             rc.MaxCallsPerDay,
		DailyBudgetUSD:             rc.DailyBudgetUSD,
		EstimatedCostPerCallUSD:    rc.EstimatedCostPerCallUSD,
		QuietHoursStart:            rc.QuietHoursStart,
		QuietHoursEnd:              rc.QuietHoursEnd,
		RetryBackoffSeconds:        ParseBackoffCSV(rc.RetryBackoffSecondsCSV),
		ScriptVersion:              rc.ScriptVersion,
		ScriptTemplate:             rc.ScriptTemplate,
		AssistantID:                rc.AssistantID,
		FromPhoneNumber:            rc.FromPhoneNumber,
		DefaultTimezone:            rc.DefaultTimezone,
		AlertBacklogThreshold:      rc.AlertBacklogThreshold,
		AlertFailureRatioThreshold: rc.AlertFailureRatioThreshold,
	}.Normalize()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
