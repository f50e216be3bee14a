package calltrack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cart-recovery/internal/campaign"
	"cart-recovery/internal/provider"
	"cart-recovery/internal/settings"

	"github.com/google/uuid"
)

// FollowUp is the outcome dispatcher hook invoked exactly once per terminal
// call (guarded by Call.FollowupApplied).
type FollowUp interface {
	Apply(ctx context.Context, call Call) error
}

// Tracker owns the Call aggregate: attempt history, provider correlation and
// idempotent event application.
//
// Mutations are serialized under a single coarse lock so each repository
// upsert observes a consistent aggregate (see the concurrency notes in the
// scheduler package).
type Tracker struct {
	mu       sync.Mutex
	repo     Repository
	followup FollowUp
	provider string
	clock    func() time.Time
}

func NewTracker(repo Repository, followup FollowUp, providerName string) *Tracker {
	return &Tracker{
		repo:     repo,
		followup: followup,
		provider: providerName,
		clock:    time.Now,
	}
}

// Seed identifies the recovery episode a call belongs to plus the cart facts
// snapshotted at creation.
type Seed struct {
	RecoveryKey string
	UserID      string
	SessionID   string
	CartID      string
	ItemCount   int
	CartTotal   float64
}

// AttemptRecord is one scheduler attempt against a call.
type AttemptRecord struct {
	Seed     Seed
	Status   CallStatus
	Error    string
	Request  *campaign.Payload
	Response map[string]any

	// ProviderCallID is set once the provider accepts the call.
	ProviderCallID string

	// Attempt is the scheduler attempt number; values below 1 are recorded
	// as attempt 1.
	Attempt int

	NextRetryAt *time.Time
}

// ApplyResult reports what a provider event did to the call.
type ApplyResult struct {
	Idempotent bool       `json:"idempotent"`
	Status     CallStatus `json:"status"`
	Outcome    string     `json:"outcome"`
}

// GetOrCreate returns the single Call for a recovery key, creating it lazily
// on the first attempt.
func (t *Tracker) GetOrCreate(ctx context.Context, seed Seed, s settings.Settings) (Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getOrCreateLocked(ctx, seed, s)
}

func (t *Tracker) getOrCreateLocked(ctx context.Context, seed Seed, s settings.Settings) (Call, error) {
	existing, ok, err := t.repo.GetByRecoveryKey(ctx, seed.RecoveryKey)
	if err != nil {
		return Call{}, err
	}
	if ok {
		return existing, nil
	}

	now := t.clock().UTC()
	call := Call{
		ID:            "vcall_" + uuid.NewString(),
		RecoveryKey:   seed.RecoveryKey,
		UserID:        seed.UserID,
		SessionID:     seed.SessionID,
		CartID:        seed.CartID,
		Status:        CallStatusQueued,
		Provider:      t.provider,
		ScriptVersion: s.ScriptVersion,
		Campaign: CampaignSnapshot{
			ItemCount: seed.ItemCount,
			CartTotal: seed.CartTotal,
			Template:  s.ScriptTemplate,
		},
		EstimatedCostUSD: s.EstimatedCostPerCallUSD,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.repo.Upsert(ctx, call); err != nil {
		return Call{}, err
	}
	return call, nil
}

// RecordAttempt appends one attempt to the call's log and refreshes the
// top-level status fields.
func (t *Tracker) RecordAttempt(ctx context.Context, rec AttemptRecord, s settings.Settings) (Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, err := t.getOrCreateLocked(ctx, rec.Seed, s)
	if err != nil {
		return Call{}, err
	}

	now := t.clock().UTC()
	attempt := rec.Attempt
	if attempt < 1 {
		attempt = 1
	}
	call.Attempts = append(call.Attempts, AttemptEvent{
		Attempt:   attempt,
		Timestamp: now,
		Status:    rec.Status,
		Error:     rec.Error,
		Request:   rec.Request,
		Response:  rec.Response,
	})
	call.AttemptCount = len(call.Attempts)
	call.Status = rec.Status
	call.LastError = rec.Error
	call.NextRetryAt = rec.NextRetryAt
	if rec.ProviderCallID != "" {
		call.ProviderCallID = rec.ProviderCallID
	}
	call.UpdatedAt = now

	if err := t.repo.Upsert(ctx, call); err != nil {
		return Call{}, err
	}
	return call, nil
}

// ApplyProviderEvent applies one provider status event (webhook or poll) to
// a call, exactly once per event key.
//
// At-least-once delivery is collapsed here: a key already present in the
// call's dedup set returns Idempotent=true without touching any state.
func (t *Tracker) ApplyProviderEvent(ctx context.Context, callID string, payload map[string]any, client provider.Client) (ApplyResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, err := t.repo.GetByID(ctx, callID)
	if err != nil {
		return ApplyResult{}, err
	}

	key := provider.EventKey(payload, client)
	for _, seen := range call.ProviderEventKeys {
		if seen == key {
			return ApplyResult{Idempotent: true, Status: call.Status, Outcome: call.Outcome}, nil
		}
	}

	state := provider.NormalizeStatus(payload)
	outcome := provider.ExtractOutcome(payload)
	now := t.clock().UTC()

	if state.Terminal() {
		call, err = t.applyTerminalLocked(ctx, call, statusFromState(state), outcome, payload)
	} else {
		call, err = t.applyProgressLocked(ctx, call, statusFromState(state), payload)
	}
	if err != nil {
		return ApplyResult{}, err
	}

	call.ProviderEventKeys = appendBounded(call.ProviderEventKeys, key)
	call.ProviderEvents = appendEventBounded(call.ProviderEvents, ProviderEvent{
		Key:        key,
		Status:     call.Status,
		Outcome:    outcome,
		ReceivedAt: now,
	})
	call.UpdatedAt = now
	if err := t.repo.Upsert(ctx, call); err != nil {
		return ApplyResult{}, err
	}

	return ApplyResult{Status: call.Status, Outcome: outcome}, nil
}

// applyProgressLocked records a non-terminal provider-reported status. The
// attempt log is untouched; only the top-level status moves.
func (t *Tracker) applyProgressLocked(ctx context.Context, call Call, status CallStatus, payload map[string]any) (Call, error) {
	call.Status = status
	call.ProviderPayload = payload
	call.UpdatedAt = t.clock().UTC()
	if err := t.repo.Upsert(ctx, call); err != nil {
		return Call{}, err
	}
	return call, nil
}

// applyTerminalLocked records a terminal status and outcome, then runs the
// follow-up dispatcher if it has not run for this call yet. The flag is
// persisted only after the dispatch succeeds; a crash in between can replay
// the dispatch (accepted at-least-once gap).
func (t *Tracker) applyTerminalLocked(ctx context.Context, call Call, status CallStatus, outcome string, payload map[string]any) (Call, error) {
	now := t.clock().UTC()
	call.Status = status
	call.Outcome = outcome
	call.ProviderPayload = payload
	call.UpdatedAt = now
	if err := t.repo.Upsert(ctx, call); err != nil {
		return Call{}, err
	}

	if call.FollowupApplied || t.followup == nil {
		return call, nil
	}
	if err := t.followup.Apply(ctx, call); err != nil {
		// Leave the flag unset so a later terminal event can re-dispatch.
		slog.Warn("outcome follow-up failed", "call_id", call.ID, "outcome", outcome, "err", err)
		return call, nil
	}
	call.FollowupApplied = true
	call.UpdatedAt = t.clock().UTC()
	if err := t.repo.Upsert(ctx, call); err != nil {
		return Call{}, err
	}
	return call, nil
}

// FindByProviderCallID resolves webhook correlation.
func (t *Tracker) FindByProviderCallID(ctx context.Context, providerCallID string) (Call, bool, error) {
	return t.repo.FindByProviderCallID(ctx, providerCallID)
}

// List returns calls newest first with a clamped limit.
func (t *Tracker) List(ctx context.Context, limit int, status CallStatus) ([]Call, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	return t.repo.List(ctx, limit, status)
}

// ActiveProviderCalls returns calls eligible for provider polling.
func (t *Tracker) ActiveProviderCalls(ctx context.Context) ([]Call, error) {
	return t.repo.ListActiveProviderCalls(ctx)
}

const maxProviderEvents = 200

func appendBounded(keys []string, key string) []string {
	keys = append(keys, key)
	if len(keys) > maxProviderEvents {
		keys = keys[len(keys)-maxProviderEvents:]
	}
	return keys
}

func appendEventBounded(events []ProviderEvent, e ProviderEvent) []ProviderEvent {
	events = append(events, e)
	if len(events) > maxProviderEvents {
		events = events[len(events)-maxProviderEvents:]
	}
	return events
}
