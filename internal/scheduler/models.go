package scheduler

import "time"

// Job is one scheduled recovery attempt chain for an abandoned cart. Jobs are
// control-flow records; the customer-facing history lives on the calltrack
// side.
type Job struct {
	ID     string    `json:"id" db:"id"`
	Status JobStatus `json:"status" db:"status"`

	UserID    string `json:"userId" db:"user_id"`
	SessionID string `json:"sessionId" db:"session_id"`
	CartID    string `json:"cartId" db:"cart_id"`

	// RecoveryKey identifies the abandonment episode. A cart update mints a
	// new key and therefore a new job; the old one keeps its terminal state.
	RecoveryKey string `json:"recoveryKey" db:"recovery_key"`

	// Attempt counts provider call attempts made so far. Quiet-hour
	// reschedules do not advance it.
	Attempt int `json:"attempt" db:"attempt"`

	// NextRunAt is nil once the job reaches a terminal status.
	NextRunAt *time.Time `json:"nextRunAt,omitempty" db:"next_run_at"`

	LastError string    `json:"lastError,omitempty" db:"last_error"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusDeadLetter:
		return true
	default:
		return false
	}
}

// RecoveryKey derives the idempotency key for a cart abandonment episode.
// The cart's updatedAt is part of the key, so each new abandonment of the
// same cart is a distinct episode.
func RecoveryKey(cartID string, updatedAt time.Time) string {
	return cartID + "::" + updatedAt.UTC().Format(time.RFC3339)
}

// Typed cancel reasons recorded on Job.LastError. Guardrail reasons come from
// the guardrail package and extend this set.
const (
	CancelKillSwitch            = "kill_switch"
	CancelCartOrUserMissing     = "cart_or_user_missing"
	CancelSuppressedUser        = "suppressed_user"
	CancelMissingPhone          = "missing_phone"
	CancelProviderNotConfigured = "provider_not_configured"
)

// Result classifies what processing one job did, for cycle counters.
type Result string

const (
	ResultCompleted  Result = "completed"
	ResultRetried    Result = "retried"
	ResultDeadLetter Result = "deadLetter"
	ResultCancelled  Result = "cancelled"
)

// Counters aggregates results over one processing pass.
type Counters struct {
	Completed  int `json:"completed"`
	Retried    int `json:"retried"`
	DeadLetter int `json:"deadLetter"`
	Cancelled  int `json:"cancelled"`
}

func (c *Counters) add(r Result) {
	switch r {
	case ResultCompleted:
		c.Completed++
	case ResultRetried:
		c.Retried++
	case ResultDeadLetter:
		c.DeadLetter++
	case ResultCancelled:
		c.Cancelled++
	}
}
