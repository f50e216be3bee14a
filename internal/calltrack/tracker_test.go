package calltrack

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cart-recovery/internal/provider"
	"cart-recovery/internal/settings"
)

type stubClient struct{}

func (stubClient) Name() string  { return "superu" }
func (stubClient) Enabled() bool { return true }
func (stubClient) StartOutboundCall(ctx context.Context, req provider.StartCallRequest) (provider.StartCallResponse, error) {
	return provider.StartCallResponse{}, errors.New("not used")
}
func (stubClient) FetchCallLogs(ctx context.Context, providerCallID string, limit int) ([]map[string]any, error) {
	return nil, nil
}
func (stubClient) VerifyWebhookSignature(rawBody []byte, sigHeader, tsHeader string) error {
	return nil
}
func (stubClient) PayloadFingerprint(payload map[string]any) string { return "" }

type recordingFollowUp struct {
	calls []Call
	err   error
}

func (f *recordingFollowUp) Apply(ctx context.Context, call Call) error {
	f.calls = append(f.calls, call)
	return f.err
}

func testSeed() Seed {
	return Seed{
		RecoveryKey: "cart-1::2024-03-01T10:00:00Z",
		UserID:      "user-1",
		SessionID:   "sess-1",
		CartID:      "cart-1",
		ItemCount:   2,
		CartTotal:   49.90,
	}
}

func TestGetOrCreate_SingleCallPerRecoveryKey(t *testing.T) {
	tr := NewTracker(NewMemoryRepo(), nil, "superu")
	s := settings.Settings{}.Normalize()

	first, err := tr.GetOrCreate(context.Background(), testSeed(), s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.Status != CallStatusQueued {
		t.Fatalf("expected queued, got %s", first.Status)
	}
	second, err := tr.GetOrCreate(context.Background(), testSeed(), s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same call, got %s and %s", first.ID, second.ID)
	}
}

func TestRecordAttempt_AppendsAndBumpsCount(t *testing.T) {
	tr := NewTracker(NewMemoryRepo(), nil, "superu")
	s := settings.Settings{}.Normalize()

	call, err := tr.RecordAttempt(context.Background(), AttemptRecord{
		Seed:           testSeed(),
		Status:         CallStatusInitiated,
		ProviderCallID: "pc-1",
		Attempt:        1,
	}, s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if call.AttemptCount != 1 || call.ProviderCallID != "pc-1" {
		t.Fatalf("unexpected call state: %+v", call)
	}

	call, err = tr.RecordAttempt(context.Background(), AttemptRecord{
		Seed:    testSeed(),
		Status:  CallStatusRetrying,
		Error:   "provider timeout",
		Attempt: 2,
	}, s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if call.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", call.AttemptCount)
	}
	if call.Attempts[1].Error != "provider timeout" {
		t.Fatalf("expected error on second attempt, got %+v", call.Attempts[1])
	}
	// Attempt 1 stays as written.
	if call.Attempts[0].Status != CallStatusInitiated {
		t.Fatalf("first attempt was rewritten: %+v", call.Attempts[0])
	}
}

func TestApplyProviderEvent_DuplicateKeyIsIdempotent(t *testing.T) {
	fu := &recordingFollowUp{}
	tr := NewTracker(NewMemoryRepo(), fu, "superu")
	s := settings.Settings{}.Normalize()

	call, err := tr.RecordAttempt(context.Background(), AttemptRecord{
		Seed: testSeed(), Status: CallStatusInitiated, ProviderCallID: "pc-1", Attempt: 1,
	}, s)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	payload := map[string]any{"event_id": "evt-1", "call_id": "pc-1", "status": "completed", "outcome": "converted"}

	res, err := tr.ApplyProviderEvent(context.Background(), call.ID, payload, stubClient{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Idempotent {
		t.Fatalf("first application must not be idempotent")
	}
	if res.Status != CallStatusCompleted || res.Outcome != "converted" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = tr.ApplyProviderEvent(context.Background(), call.ID, payload, stubClient{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Idempotent {
		t.Fatalf("replay must be idempotent")
	}
	if len(fu.calls) != 1 {
		t.Fatalf("follow-up must run exactly once, ran %d times", len(fu.calls))
	}

	got, err := tr.repo.GetByID(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got.ProviderEventKeys) != 1 {
		t.Fatalf("expected one dedup key, got %v", got.ProviderEventKeys)
	}
	if !got.FollowupApplied {
		t.Fatalf("expected followupApplied after successful dispatch")
	}
}

func TestApplyProviderEvent_FollowUpFailureLeavesFlagUnset(t *testing.T) {
	fu := &recordingFollowUp{err: errors.New("suppression store down")}
	tr := NewTracker(NewMemoryRepo(), fu, "superu")
	s := settings.Settings{}.Normalize()

	call, _ := tr.RecordAttempt(context.Background(), AttemptRecord{
		Seed: testSeed(), Status: CallStatusInitiated, ProviderCallID: "pc-1", Attempt: 1,
	}, s)

	_, err := tr.ApplyProviderEvent(context.Background(), call.ID,
		map[string]any{"event_id": "evt-1", "status": "completed", "outcome": "do_not_call"}, stubClient{})
	if err != nil {
		t.Fatalf("follow-up failure must not fail the event, got %v", err)
	}

	got, _ := tr.repo.GetByID(context.Background(), call.ID)
	if got.FollowupApplied {
		t.Fatalf("flag must stay unset after a failed dispatch")
	}
	if got.Status != CallStatusCompleted {
		t.Fatalf("terminal status must still be recorded, got %s", got.Status)
	}

	// A later terminal event re-dispatches.
	fu.err = nil
	_, err = tr.ApplyProviderEvent(context.Background(), call.ID,
		map[string]any{"event_id": "evt-2", "status": "completed", "outcome": "do_not_call"}, stubClient{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, _ = tr.repo.GetByID(context.Background(), call.ID)
	if !got.FollowupApplied {
		t.Fatalf("expected flag set after retry dispatch")
	}
	if len(fu.calls) != 2 {
		t.Fatalf("expected two dispatch attempts, got %d", len(fu.calls))
	}
}

func TestApplyProviderEvent_NonTerminalProgress(t *testing.T) {
	fu := &recordingFollowUp{}
	tr := NewTracker(NewMemoryRepo(), fu, "superu")
	s := settings.Settings{}.Normalize()

	call, _ := tr.RecordAttempt(context.Background(), AttemptRecord{
		Seed: testSeed(), Status: CallStatusInitiated, ProviderCallID: "pc-1", Attempt: 1,
	}, s)

	res, err := tr.ApplyProviderEvent(context.Background(), call.ID,
		map[string]any{"event_id": "evt-1", "status": "answered"}, stubClient{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Status != CallStatusInProgress {
		t.Fatalf("expected in_progress, got %s", res.Status)
	}
	if len(fu.calls) != 0 {
		t.Fatalf("non-terminal events must not dispatch follow-ups")
	}
	got, _ := tr.repo.GetByID(context.Background(), call.ID)
	if got.AttemptCount != 1 {
		t.Fatalf("progress events must not add attempts, got %d", got.AttemptCount)
	}
}

func TestApplyProviderEvent_EventLogsAreBounded(t *testing.T) {
	tr := NewTracker(NewMemoryRepo(), nil, "superu")
	s := settings.Settings{}.Normalize()

	call, _ := tr.RecordAttempt(context.Background(), AttemptRecord{
		Seed: testSeed(), Status: CallStatusInitiated, ProviderCallID: "pc-1", Attempt: 1,
	}, s)

	for i := 0; i < maxProviderEvents+25; i++ {
		_, err := tr.ApplyProviderEvent(context.Background(), call.ID,
			map[string]any{"event_id": fmt.Sprintf("evt-%d", i), "status": "ringing"}, stubClient{})
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}

	got, _ := tr.repo.GetByID(context.Background(), call.ID)
	if len(got.ProviderEventKeys) != maxProviderEvents {
		t.Fatalf("expected %d keys, got %d", maxProviderEvents, len(got.ProviderEventKeys))
	}
	if len(got.ProviderEvents) != maxProviderEvents {
		t.Fatalf("expected %d events, got %d", maxProviderEvents, len(got.ProviderEvents))
	}
	// The oldest key was evicted, so its replay is applied as new.
	if got.ProviderEventKeys[0] == "evt-0" {
		t.Fatalf("expected oldest key evicted")
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := NewMemoryRepo()
	tr := NewTracker(repo, nil, "superu")
	s := settings.Settings{}.Normalize()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tr.clock = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		seed := testSeed()
		seed.RecoveryKey = fmt.Sprintf("cart-%d::2024-03-01T10:00:00Z", i)
		seed.CartID = fmt.Sprintf("cart-%d", i)
		if _, err := tr.GetOrCreate(context.Background(), seed, s); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	calls, err := tr.List(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("limit 0 clamps to 1, got %d calls", len(calls))
	}

	queued, err := tr.List(context.Background(), 10, CallStatusQueued)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("expected 3 queued calls, got %d", len(queued))
	}
}
