package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"cart-recovery/internal/alerts"
	"cart-recovery/internal/calltrack"
	"cart-recovery/internal/directory"
	"cart-recovery/internal/provider"
	"cart-recovery/internal/settings"
)

type fakeClient struct {
	enabled  bool
	err      error
	callID   string
	requests []provider.StartCallRequest
}

func (f *fakeClient) Name() string  { return "superu" }
func (f *fakeClient) Enabled() bool { return f.enabled }
func (f *fakeClient) StartOutboundCall(ctx context.Context, req provider.StartCallRequest) (provider.StartCallResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return provider.StartCallResponse{}, f.err
	}
	return provider.StartCallResponse{ProviderCallID: f.callID, Raw: map[string]any{"call_id": f.callID}}, nil
}
func (f *fakeClient) FetchCallLogs(ctx context.Context, providerCallID string, limit int) ([]map[string]any, error) {
	return nil, nil
}
func (f *fakeClient) VerifyWebhookSignature(rawBody []byte, sig, ts string) error { return nil }
func (f *fakeClient) PayloadFingerprint(payload map[string]any) string           { return "" }

type fakeSuppressions struct {
	users map[string]bool
}

func (f fakeSuppressions) IsSuppressed(ctx context.Context, userID string) (bool, error) {
	return f.users[userID], nil
}

type fixture struct {
	svc       *Service
	repo      *MemoryRepo
	dir       *directory.Memory
	client    *fakeClient
	calls     *calltrack.MemoryRepo
	alertRepo *alerts.MemoryRepo
	supp      map[string]bool
	now       time.Time
	settings  settings.Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      NewMemoryRepo(),
		dir:       directory.NewMemory(),
		client:    &fakeClient{enabled: true, callID: "pc-1"},
		calls:     calltrack.NewMemoryRepo(),
		alertRepo: alerts.NewMemoryRepo(),
		supp:      map[string]bool{},
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.settings = settings.Settings{
		Enabled:                 true,
		AbandonmentMinutes:      30,
		MaxAttemptsPerCart:      3,
		MaxCallsPerUserPerDay:   2,
		MaxCallsPerDay:          50,
		DailyBudgetUSD:          25,
		EstimatedCostPerCallUSD: 0.5,
		RetryBackoffSeconds:     []int{60, 300, 900},
		AssistantID:             "asst-1",
		FromPhoneNumber:         "+15550000000",
	}.Normalize()

	tracker := calltrack.NewTracker(f.calls, nil, "superu")
	alertSvc := alerts.NewService(f.alertRepo, f.calls, f.repo, nil)
	f.svc = NewService(f.repo, f.dir, f.dir, f.dir, fakeSuppressions{users: f.supp},
		tracker, f.calls, f.client, alertSvc, nil)

	f.dir.PutUser(directory.User{ID: "user-1", Name: "Dana", Phone: "+15551234567", Timezone: "UTC"})
	f.dir.PutCart(directory.Cart{
		ID:        "cart-1",
		UserID:    "user-1",
		SessionID: "sess-1",
		ItemCount: 2,
		Total:     49.90,
		UpdatedAt: f.now.Add(-time.Hour),
	})
	return f
}

func (f *fixture) enqueue(t *testing.T) int {
	t.Helper()
	n, err := f.svc.Enqueue(context.Background(), f.now, f.settings)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return n
}

func (f *fixture) dueJob(t *testing.T) Job {
	t.Helper()
	due, err := f.repo.SelectDue(context.Background(), f.now)
	if err != nil || len(due) == 0 {
		t.Fatalf("expected a due job, got %v %v", due, err)
	}
	return due[0]
}

func (f *fixture) alertCodes(t *testing.T) []string {
	t.Helper()
	got, err := f.alertRepo.List(context.Background(), 100, "")
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	codes := make([]string, 0, len(got))
	for _, a := range got {
		codes = append(codes, a.Code)
	}
	return codes
}

func TestEnqueue_IsIdempotentAcrossTicks(t *testing.T) {
	f := newFixture(t)

	if n := f.enqueue(t); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
	if n := f.enqueue(t); n != 0 {
		t.Fatalf("second tick must enqueue nothing, got %d", n)
	}

	job := f.dueJob(t)
	if job.RecoveryKey != "cart-1::2024-03-01T11:00:00Z" {
		t.Fatalf("unexpected recovery key %q", job.RecoveryKey)
	}
	if job.Attempt != 0 || job.Status != JobStatusQueued {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestEnqueue_SkipsFreshEmptyAndOrderedCarts(t *testing.T) {
	f := newFixture(t)

	// Fresh cart, empty cart, orphan cart.
	f.dir.PutCart(directory.Cart{ID: "cart-2", UserID: "user-1", ItemCount: 1, UpdatedAt: f.now.Add(-5 * time.Minute)})
	f.dir.PutCart(directory.Cart{ID: "cart-3", UserID: "user-1", ItemCount: 0, UpdatedAt: f.now.Add(-time.Hour)})
	f.dir.PutCart(directory.Cart{ID: "cart-4", UserID: "", ItemCount: 1, UpdatedAt: f.now.Add(-time.Hour)})
	// Cart whose user ordered after abandoning.
	f.dir.PutCart(directory.Cart{ID: "cart-5", UserID: "user-2", ItemCount: 1, UpdatedAt: f.now.Add(-time.Hour)})
	f.dir.AddOrder("user-2", f.now.Add(-30*time.Minute))

	if n := f.enqueue(t); n != 1 {
		t.Fatalf("expected only cart-1 enqueued, got %d", n)
	}
}

func TestEnqueue_DisabledDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.settings.Enabled = false
	if n := f.enqueue(t); n != 0 {
		t.Fatalf("expected nothing while disabled, got %d", n)
	}
}

func TestEnqueue_RecoveredCartIsNeverReenqueued(t *testing.T) {
	f := newFixture(t)
	key := RecoveryKey("cart-1", f.now.Add(-time.Hour))
	if err := f.repo.MarkRecovered(context.Background(), key, "pc-old"); err != nil {
		t.Fatalf("mark recovered: %v", err)
	}
	if n := f.enqueue(t); n != 0 {
		t.Fatalf("recovered key must block enqueue, got %d", n)
	}
}

func TestProcessOne_SuccessCompletesAndMarksRecovered(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t)
	job := f.dueJob(t)

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCompleted {
		t.Fatalf("expected completed, got %s", res)
	}

	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusCompleted || got.NextRunAt != nil {
		t.Fatalf("unexpected job state %+v", got)
	}
	if ok, _ := f.repo.HasRecoveryRecord(context.Background(), job.RecoveryKey); !ok {
		t.Fatalf("expected a recovery record")
	}

	call, ok, _ := f.calls.GetByRecoveryKey(context.Background(), job.RecoveryKey)
	if !ok || call.Status != calltrack.CallStatusInitiated {
		t.Fatalf("expected initiated call, got %+v", call)
	}
	if call.ProviderCallID != "pc-1" || call.AttemptCount != 1 {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(f.client.requests) != 1 || f.client.requests[0].ToPhone != "+15551234567" {
		t.Fatalf("unexpected provider request %+v", f.client.requests)
	}
}

func TestProcessOne_FailureBacksOffThenDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.client.err = errors.New("provider timeout")
	f.enqueue(t)
	job := f.dueJob(t)

	// Attempt 1: retry after backoff[0].
	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultRetried {
		t.Fatalf("expected retried, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusRetrying || got.Attempt != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
	want := f.now.Add(60 * time.Second)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, got.NextRunAt)
	}

	// Attempt 2: longer backoff.
	f.now = *got.NextRunAt
	if _, err := f.svc.ProcessOne(context.Background(), got, f.now, f.settings); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ = f.repo.GetJob(context.Background(), job.ID)
	if got.Attempt != 2 || !got.NextRunAt.Equal(f.now.Add(300*time.Second)) {
		t.Fatalf("expected monotonic backoff, got %+v", got)
	}

	// Attempt 3 hits MaxAttemptsPerCart: dead letter.
	f.now = *got.NextRunAt
	res, err = f.svc.ProcessOne(context.Background(), got, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultDeadLetter {
		t.Fatalf("expected dead letter, got %s", res)
	}
	got, _ = f.repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusDeadLetter || got.NextRunAt != nil {
		t.Fatalf("unexpected job %+v", got)
	}
	call, _, _ := f.calls.GetByRecoveryKey(context.Background(), job.RecoveryKey)
	if call.Status != calltrack.CallStatusFailed || call.AttemptCount != 3 {
		t.Fatalf("unexpected call %+v", call)
	}

	codes := f.alertCodes(t)
	if len(codes) != 1 || codes[0] != alerts.CodeDeadLetter {
		t.Fatalf("expected one dead-letter alert, got %v", codes)
	}
}

func TestProcessOne_KillSwitchCancels(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t)
	job := f.dueJob(t)
	f.settings.KillSwitch = true

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusCancelled || got.LastError != CancelKillSwitch {
		t.Fatalf("unexpected job %+v", got)
	}
	if codes := f.alertCodes(t); len(codes) != 1 || codes[0] != alerts.CodeKillSwitchActive {
		t.Fatalf("expected kill-switch alert, got %v", codes)
	}
	if len(f.client.requests) != 0 {
		t.Fatalf("kill switch must block provider calls")
	}
}

func TestProcessOne_SuppressedUserCancels(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t)
	job := f.dueJob(t)
	f.supp["user-1"] = true

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.LastError != CancelSuppressedUser {
		t.Fatalf("unexpected reason %q", got.LastError)
	}
	call, _, _ := f.calls.GetByRecoveryKey(context.Background(), job.RecoveryKey)
	if call.Status != calltrack.CallStatusSuppressed {
		t.Fatalf("expected suppressed call record, got %+v", call)
	}
	if len(f.client.requests) != 0 {
		t.Fatalf("suppression must block provider calls")
	}
}

func TestProcessOne_MissingCartOrUserCancels(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t)
	job := f.dueJob(t)
	f.dir.RemoveCart("cart-1")

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.LastError != CancelCartOrUserMissing {
		t.Fatalf("unexpected reason %q", got.LastError)
	}
}

func TestProcessOne_MissingPhoneCancels(t *testing.T) {
	f := newFixture(t)
	f.dir.PutUser(directory.User{ID: "user-1", Name: "Dana", Phone: "", Timezone: "UTC"})
	f.enqueue(t)
	job := f.dueJob(t)

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.LastError != CancelMissingPhone {
		t.Fatalf("unexpected reason %q", got.LastError)
	}
}

func TestProcessOne_QuietHoursRescheduleWithoutAttempt(t *testing.T) {
	f := newFixture(t)
	f.settings.QuietHoursStart = 21
	f.settings.QuietHoursEnd = 8
	f.now = time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	f.enqueue(t)
	job := f.dueJob(t)

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultRetried {
		t.Fatalf("expected retried, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusRetrying || got.Attempt != 0 {
		t.Fatalf("quiet hours must not consume an attempt: %+v", got)
	}
	if got.NextRunAt == nil || got.NextRunAt.Hour() != 8 {
		t.Fatalf("expected reschedule to quiet-hours end, got %v", got.NextRunAt)
	}
	// No call record and no provider traffic for a pure reschedule.
	if _, ok, _ := f.calls.GetByRecoveryKey(context.Background(), job.RecoveryKey); ok {
		t.Fatalf("quiet-hours reschedule must not create a call record")
	}
	if len(f.client.requests) != 0 {
		t.Fatalf("quiet hours must block provider calls")
	}
}

func TestProcessOne_BudgetGuardrailBlocksCall(t *testing.T) {
	f := newFixture(t)
	f.settings.MaxCallsPerDay = 1
	// One call already made today.
	err := f.calls.Upsert(context.Background(), calltrack.Call{
		ID:          "vcall_prev",
		RecoveryKey: "cart-0::2024-03-01T09:00:00Z",
		UserID:      "user-9",
		Status:      calltrack.CallStatusCompleted,
		CreatedAt:   f.now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
	f.enqueue(t)
	job := f.dueJob(t)

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.LastError != "max_calls_per_day_reached" {
		t.Fatalf("unexpected reason %q", got.LastError)
	}
	if codes := f.alertCodes(t); len(codes) != 1 || codes[0] != alerts.CodeGuardrailTriggered {
		t.Fatalf("expected guardrail alert, got %v", codes)
	}
	if len(f.client.requests) != 0 {
		t.Fatalf("guardrail must block provider calls")
	}
}

func TestProcessOne_ProviderNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.client.enabled = false
	f.enqueue(t)
	job := f.dueJob(t)

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	got, _ := f.repo.GetJob(context.Background(), job.ID)
	if got.LastError != CancelProviderNotConfigured {
		t.Fatalf("unexpected reason %q", got.LastError)
	}
	alertsGot, _ := f.alertRepo.List(context.Background(), 10, alerts.SeverityCritical)
	if len(alertsGot) != 1 || alertsGot[0].Code != alerts.CodeProviderNotConfigured {
		t.Fatalf("expected critical provider alert, got %+v", alertsGot)
	}
}

func TestProcessOne_MissingAssistantConfigCancels(t *testing.T) {
	f := newFixture(t)
	f.settings.AssistantID = ""
	f.enqueue(t)
	job := f.dueJob(t)

	res, err := f.svc.ProcessOne(context.Background(), job, f.now, f.settings)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res != ResultCancelled {
		t.Fatalf("expected cancelled, got %s", res)
	}
	if len(f.client.requests) != 0 {
		t.Fatalf("incomplete call config must block provider calls")
	}
}

func TestProcessDue_RunsInNextRunOrder(t *testing.T) {
	f := newFixture(t)
	f.dir.PutCart(directory.Cart{
		ID:        "cart-2",
		UserID:    "user-1",
		ItemCount: 1,
		Total:     10,
		UpdatedAt: f.now.Add(-2 * time.Hour),
	})
	f.settings.MaxCallsPerUserPerDay = 5
	if n := f.enqueue(t); n != 2 {
		t.Fatalf("expected 2 jobs, got %d", n)
	}

	counters, err := f.svc.ProcessDue(context.Background(), f.now, f.settings)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if counters.Completed != 2 {
		t.Fatalf("expected 2 completed, got %+v", counters)
	}
	if len(f.client.requests) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(f.client.requests))
	}
}
