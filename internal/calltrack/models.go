package calltrack

import (
	"time"

	"cart-recovery/internal/campaign"
	"cart-recovery/internal/provider"
)

// Call is the per-recovery-episode call aggregate.
//
// Invariants:
// - Exactly one Call per recovery key, created lazily on the first attempt.
// - Attempts is an append-only log; entries are never rewritten.
// - FollowupApplied transitions false -> true exactly once and guards the
//   outcome dispatcher.
// - ProviderEventKeys and ProviderEvents are bounded; the oldest entries are
//   dropped past maxProviderEvents.
type Call struct {
	ID          string `json:"id" db:"id"`
	RecoveryKey string `json:"recoveryKey" db:"recovery_key"`

	UserID    string `json:"userId" db:"user_id"`
	SessionID string `json:"sessionId" db:"session_id"`
	CartID    string `json:"cartId" db:"cart_id"`

	Status       CallStatus     `json:"status" db:"status"`
	AttemptCount int            `json:"attemptCount" db:"attempt_count"`
	Attempts     []AttemptEvent `json:"attempts"`

	Provider       string `json:"provider" db:"provider"`
	ProviderCallID string `json:"providerCallId,omitempty" db:"provider_call_id"`

	// ProviderEventKeys is the consumed-event dedup set, ordered oldest first.
	ProviderEventKeys []string        `json:"providerEventKeys"`
	ProviderEvents    []ProviderEvent `json:"providerEvents"`

	ScriptVersion string           `json:"scriptVersion" db:"script_version"`
	Campaign      CampaignSnapshot `json:"campaign"`

	// ProviderPayload is the raw payload of the last applied provider event.
	ProviderPayload map[string]any `json:"providerPayload,omitempty"`

	Outcome          string  `json:"outcome" db:"outcome"`
	FollowupApplied  bool    `json:"followupApplied" db:"followup_applied"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd" db:"estimated_cost_usd"`

	NextRetryAt *time.Time `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	LastError   string     `json:"lastError,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRetrying   CallStatus = "retrying"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusSuppressed CallStatus = "suppressed"
	CallStatusSkipped    CallStatus = "skipped"
)

// Terminal reports whether the status counts toward the daily failure ratio.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusSuppressed, CallStatusSkipped:
		return true
	default:
		return false
	}
}

// AttemptEvent is one entry of the append-only attempt log.
type AttemptEvent struct {
	Attempt   int               `json:"attempt"`
	Timestamp time.Time         `json:"timestamp"`
	Status    CallStatus        `json:"status"`
	Error     string            `json:"error,omitempty"`
	Request   *campaign.Payload `json:"request,omitempty"`
	Response  map[string]any    `json:"response,omitempty"`
}

// ProviderEvent is one entry of the bounded applied-event log.
type ProviderEvent struct {
	Key        string    `json:"key"`
	Status     CallStatus `json:"status"`
	Outcome    string    `json:"outcome"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// CampaignSnapshot records what the call was about at creation time.
type CampaignSnapshot struct {
	ItemCount int     `json:"itemCount"`
	CartTotal float64 `json:"cartTotal"`
	Template  string  `json:"template"`
}

// statusFromState maps the normalized provider state onto the call status
// domain; the two sets intentionally share names for these four values.
func statusFromState(st provider.CallState) CallStatus {
	return CallStatus(st)
}
