package alerts

import "time"

// Operator-facing alert codes.
const (
	CodeKillSwitchActive      = "VOICE_KILL_SWITCH_ACTIVE"
	CodeGuardrailTriggered    = "VOICE_GUARDRAIL_TRIGGERED"
	CodeProviderNotConfigured = "VOICE_PROVIDER_NOT_CONFIGURED"
	CodeDeadLetter            = "VOICE_DEAD_LETTER"
	CodePollFailed            = "VOICE_POLL_FAILED"
	CodeBacklogHigh           = "VOICE_BACKLOG_HIGH"
	CodeFailureRatioHigh      = "VOICE_FAILURE_RATIO_HIGH"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an append-only operator notification. The log carries every
// occurrence; there is no dedup or auto-resolution.
type Alert struct {
	ID        string         `json:"id" db:"id"`
	Code      string         `json:"code" db:"code"`
	Message   string         `json:"message" db:"message"`
	Severity  Severity       `json:"severity" db:"severity"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}
