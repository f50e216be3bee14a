package provider

import (
	"context"
	"errors"
)

// Client defines the provider-agnostic voice contract used by the scheduler
// and call tracker.
//
// Rules:
// - No provider SDK/API calls outside provider adapters.
// - Request/response types stay provider-agnostic; raw provider payloads are
//   carried as maps and stored on the Call aggregate for audit.
// - StartOutboundCall returns an error on any transport or provider-side
//   failure; that error is the trigger for the retry/backoff machinery.
type Client interface {
	Name() string

	// Enabled reports whether credentials are configured. A disabled client
	// causes jobs to be cancelled as provider_not_configured rather than
	// retried.
	Enabled() bool

	StartOutboundCall(ctx context.Context, req StartCallRequest) (StartCallResponse, error)

	// FetchCallLogs returns raw provider events for a call, ordered with the
	// most recent event last.
	FetchCallLogs(ctx context.Context, providerCallID string, limit int) ([]map[string]any, error)

	// VerifyWebhookSignature authenticates a webhook delivery before any
	// state is touched. Returns ErrBadSignature or ErrStaleTimestamp.
	VerifyWebhookSignature(rawBody []byte, signatureHeader, timestampHeader string) error

	// PayloadFingerprint is the provider-specific tier of the event dedup key
	// chain. Empty string means no fingerprint is derivable.
	PayloadFingerprint(payload map[string]any) string
}

var (
	ErrBadSignature   = errors.New("provider: webhook signature invalid")
	ErrStaleTimestamp = errors.New("provider: webhook timestamp outside tolerance")
)

type StartCallRequest struct {
	ToPhone     string         `json:"to_phone"`
	AssistantID string         `json:"assistant_id"`
	FromPhone   string         `json:"from_phone"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type StartCallResponse struct {
	// ProviderCallID is the provider's unique identifier for the accepted
	// call; empty when the provider response carried no recognizable id.
	ProviderCallID string `json:"provider_call_id"`

	// Raw is the decoded provider response, stored on the attempt log.
	Raw map[string]any `json:"raw,omitempty"`
}

// CallState is the normalized provider call status domain. Providers report
// free-form strings; everything downstream works on this closed set.
type CallState string

const (
	StateRinging    CallState = "ringing"
	StateInProgress CallState = "in_progress"
	StateCompleted  CallState = "completed"
	StateFailed     CallState = "failed"
)

// Terminal reports whether a state ends the call lifecycle.
func (s CallState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
