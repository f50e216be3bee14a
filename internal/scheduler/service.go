// Package scheduler owns the recovery job lifecycle: detecting abandoned
// carts, enqueueing jobs idempotently and walking each job through the
// guardrailed attempt state machine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cart-recovery/internal/alerts"
	"cart-recovery/internal/calltrack"
	"cart-recovery/internal/campaign"
	"cart-recovery/internal/directory"
	"cart-recovery/internal/guardrail"
	"cart-recovery/internal/provider"
	"cart-recovery/internal/settings"

	"github.com/google/uuid"
)

// SuppressionLookup answers whether a user opted out of recovery calls.
type SuppressionLookup interface {
	IsSuppressed(ctx context.Context, userID string) (bool, error)
}

type Service struct {
	repo         Repository
	users        directory.UserDirectory
	carts        directory.CartDirectory
	orders       directory.OrderHistory
	suppressions SuppressionLookup
	tracker      *calltrack.Tracker
	calls        calltrack.Repository
	client       provider.Client
	alerts       *alerts.Service
	log          *slog.Logger
}

func NewService(
	repo Repository,
	users directory.UserDirectory,
	carts directory.CartDirectory,
	orders directory.OrderHistory,
	suppressions SuppressionLookup,
	tracker *calltrack.Tracker,
	calls calltrack.Repository,
	client provider.Client,
	alertSvc *alerts.Service,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:         repo,
		users:        users,
		carts:        carts,
		orders:       orders,
		suppressions: suppressions,
		tracker:      tracker,
		calls:        calls,
		client:       client,
		alerts:       alertSvc,
		log:          log,
	}
}

// Enqueue scans carts and creates one queued job per newly abandoned cart.
// Idempotent across ticks: a recovery key already carried by any job, or
// already marked recovered, is never enqueued again.
func (s *Service) Enqueue(ctx context.Context, now time.Time, set settings.Settings) (int, error) {
	if !set.Enabled {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(set.AbandonmentMinutes) * time.Minute)

	carts, err := s.carts.ListCarts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list carts: %w", err)
	}

	enqueued := 0
	for _, cart := range carts {
		if cart.UserID == "" || cart.ItemCount <= 0 {
			continue
		}
		if cart.UpdatedAt.IsZero() || cart.UpdatedAt.After(cutoff) {
			continue
		}
		ordered, err := s.orders.HasOrderSince(ctx, cart.UserID, cart.UpdatedAt)
		if err != nil {
			s.log.Warn("order lookup failed, skipping cart", "cart_id", cart.ID, "err", err)
			continue
		}
		if ordered {
			continue
		}

		key := RecoveryKey(cart.ID, cart.UpdatedAt)
		if recovered, err := s.repo.HasRecoveryRecord(ctx, key); err != nil {
			return enqueued, fmt.Errorf("check recovery record: %w", err)
		} else if recovered {
			continue
		}
		if exists, err := s.repo.HasRecoveryKey(ctx, key); err != nil {
			return enqueued, fmt.Errorf("check recovery key: %w", err)
		} else if exists {
			continue
		}

		runAt := now
		job := Job{
			ID:          "vjob_" + uuid.NewString(),
			Status:      JobStatusQueued,
			UserID:      cart.UserID,
			SessionID:   cart.SessionID,
			CartID:      cart.ID,
			RecoveryKey: key,
			Attempt:     0,
			NextRunAt:   &runAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.PutJob(ctx, job); err != nil {
			return enqueued, fmt.Errorf("put job: %w", err)
		}
		enqueued++
	}
	return enqueued, nil
}

// ProcessDue runs every due job strictly in nextRunAt order. A job that
// fails with an infrastructure error is logged and left due for the next
// cycle; it never stops the pass.
func (s *Service) ProcessDue(ctx context.Context, now time.Time, set settings.Settings) (Counters, error) {
	due, err := s.repo.SelectDue(ctx, now)
	if err != nil {
		return Counters{}, fmt.Errorf("select due jobs: %w", err)
	}
	var counters Counters
	for _, job := range due {
		res, err := s.ProcessOne(ctx, job, now, set)
		if err != nil {
			s.log.Warn("job processing failed", "job_id", job.ID, "err", err)
			continue
		}
		counters.add(res)
	}
	return counters, nil
}

// ProcessOne runs one attempt of the decision sequence against a job.
// Guardrail state is read fresh here, never carried over from enqueue time.
func (s *Service) ProcessOne(ctx context.Context, job Job, now time.Time, set settings.Settings) (Result, error) {
	if set.KillSwitch {
		if err := s.completeJob(ctx, job, JobStatusCancelled, CancelKillSwitch, now); err != nil {
			return "", err
		}
		s.appendAlert(ctx, alerts.CodeKillSwitchActive,
			"Voice recovery kill switch is active; jobs are being cancelled.",
			alerts.SeverityWarning, nil)
		return ResultCancelled, nil
	}

	user, userErr := s.users.GetUser(ctx, job.UserID)
	cart, cartErr := s.carts.GetCart(ctx, job.CartID)
	if userErr != nil && !errors.Is(userErr, directory.ErrNotFound) {
		return "", fmt.Errorf("get user: %w", userErr)
	}
	if cartErr != nil && !errors.Is(cartErr, directory.ErrNotFound) {
		return "", fmt.Errorf("get cart: %w", cartErr)
	}
	if userErr != nil || cartErr != nil || cart.ItemCount <= 0 {
		return s.cancelWithAttempt(ctx, job, cart, now, set, calltrack.CallStatusSkipped, CancelCartOrUserMissing, nil)
	}

	suppressed, err := s.suppressions.IsSuppressed(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("suppression lookup: %w", err)
	}
	if suppressed {
		return s.cancelWithAttempt(ctx, job, cart, now, set, calltrack.CallStatusSuppressed, CancelSuppressedUser, nil)
	}

	if user.Phone == "" {
		return s.cancelWithAttempt(ctx, job, cart, now, set, calltrack.CallStatusSkipped, CancelMissingPhone, nil)
	}

	if guardrail.InQuietHours(user.Timezone, now, set) {
		next := guardrail.NextNonQuietTime(user.Timezone, now, set)
		if err := s.rescheduleJob(ctx, job, job.Attempt, next, "", now); err != nil {
			return "", err
		}
		return ResultRetried, nil
	}

	stats, err := s.dayStats(ctx, user.ID, now)
	if err != nil {
		return "", err
	}
	if reason := guardrail.CheckBudget(set, stats); reason != guardrail.ReasonOK {
		res, err := s.cancelWithAttempt(ctx, job, cart, now, set, calltrack.CallStatusSkipped, string(reason), nil)
		if err != nil {
			return "", err
		}
		s.appendAlert(ctx, alerts.CodeGuardrailTriggered,
			fmt.Sprintf("Voice call blocked by guardrail: %s", reason),
			alerts.SeverityWarning,
			map[string]any{"userId": user.ID, "jobId": job.ID})
		return res, nil
	}

	payload := campaign.Build(user, cart, set)
	attempt := job.Attempt + 1

	if !s.client.Enabled() {
		res, err := s.cancelWithAttempt(ctx, job, cart, now, set, calltrack.CallStatusSkipped, CancelProviderNotConfigured, &payload)
		if err != nil {
			return "", err
		}
		s.appendAlert(ctx, alerts.CodeProviderNotConfigured,
			"Voice recovery is enabled but provider credentials are missing.",
			alerts.SeverityCritical, nil)
		return res, nil
	}
	if set.AssistantID == "" || set.FromPhoneNumber == "" {
		res, err := s.cancelWithAttempt(ctx, job, cart, now, set, calltrack.CallStatusSkipped, CancelProviderNotConfigured, &payload)
		if err != nil {
			return "", err
		}
		s.appendAlert(ctx, alerts.CodeProviderNotConfigured,
			"Voice settings require assistantId and fromPhoneNumber.",
			alerts.SeverityCritical, nil)
		return res, nil
	}

	resp, callErr := s.client.StartOutboundCall(ctx, provider.StartCallRequest{
		ToPhone:     user.Phone,
		AssistantID: set.AssistantID,
		FromPhone:   set.FromPhoneNumber,
		Metadata: map[string]any{
			"campaign": payload,
			"jobId":    job.ID,
			"cartId":   cart.ID,
			"userId":   user.ID,
		},
	})
	if callErr == nil {
		if err := s.completeJob(ctx, job, JobStatusCompleted, "", now); err != nil {
			return "", err
		}
		_, err := s.tracker.RecordAttempt(ctx, calltrack.AttemptRecord{
			Seed:           seedFor(job, cart),
			Status:         calltrack.CallStatusInitiated,
			Request:        &payload,
			Response:       resp.Raw,
			ProviderCallID: resp.ProviderCallID,
			Attempt:        attempt,
		}, set)
		if err != nil {
			return "", err
		}
		marker := resp.ProviderCallID
		if marker == "" {
			marker = job.ID
		}
		if err := s.repo.MarkRecovered(ctx, job.RecoveryKey, marker); err != nil {
			return "", fmt.Errorf("mark recovered: %w", err)
		}
		return ResultCompleted, nil
	}

	if attempt >= set.MaxAttemptsPerCart {
		if err := s.completeJob(ctx, job, JobStatusDeadLetter, callErr.Error(), now); err != nil {
			return "", err
		}
		_, err := s.tracker.RecordAttempt(ctx, calltrack.AttemptRecord{
			Seed:    seedFor(job, cart),
			Status:  calltrack.CallStatusFailed,
			Error:   callErr.Error(),
			Request: &payload,
			Attempt: attempt,
		}, set)
		if err != nil {
			return "", err
		}
		s.appendAlert(ctx, alerts.CodeDeadLetter,
			"Voice call job moved to dead-letter after max retries.",
			alerts.SeverityCritical,
			map[string]any{"jobId": job.ID, "error": callErr.Error()})
		return ResultDeadLetter, nil
	}

	backoffs := settings.NormalizeBackoff(set.RetryBackoffSeconds)
	idx := attempt - 1
	if idx >= len(backoffs) {
		idx = len(backoffs) - 1
	}
	next := now.Add(time.Duration(backoffs[idx]) * time.Second)
	if err := s.rescheduleJob(ctx, job, attempt, next, callErr.Error(), now); err != nil {
		return "", err
	}
	_, err = s.tracker.RecordAttempt(ctx, calltrack.AttemptRecord{
		Seed:        seedFor(job, cart),
		Status:      calltrack.CallStatusRetrying,
		Error:       callErr.Error(),
		Request:     &payload,
		Attempt:     attempt,
		NextRetryAt: &next,
	}, set)
	if err != nil {
		return "", err
	}
	return ResultRetried, nil
}

// ListJobs returns jobs newest first with a clamped limit.
func (s *Service) ListJobs(ctx context.Context, limit int, status JobStatus) ([]Job, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListJobs(ctx, limit, status)
}

func (s *Service) dayStats(ctx context.Context, userID string, now time.Time) (guardrail.DayStats, error) {
	start := guardrail.StartOfDay(now)
	total, err := s.calls.CountCreatedSince(ctx, start)
	if err != nil {
		return guardrail.DayStats{}, fmt.Errorf("count calls today: %w", err)
	}
	user, err := s.calls.CountUserCreatedSince(ctx, userID, start)
	if err != nil {
		return guardrail.DayStats{}, fmt.Errorf("count user calls today: %w", err)
	}
	return guardrail.DayStats{CallsToday: total, UserCallsToday: user}, nil
}

// cancelWithAttempt cancels the job and records a non-billable attempt on
// the call history so the skip is visible to operators.
func (s *Service) cancelWithAttempt(
	ctx context.Context,
	job Job,
	cart directory.Cart,
	now time.Time,
	set settings.Settings,
	status calltrack.CallStatus,
	reason string,
	request *campaign.Payload,
) (Result, error) {
	if err := s.completeJob(ctx, job, JobStatusCancelled, reason, now); err != nil {
		return "", err
	}
	_, err := s.tracker.RecordAttempt(ctx, calltrack.AttemptRecord{
		Seed:    seedFor(job, cart),
		Status:  status,
		Error:   reason,
		Request: request,
		Attempt: job.Attempt,
	}, set)
	if err != nil {
		return "", err
	}
	return ResultCancelled, nil
}

func (s *Service) completeJob(ctx context.Context, job Job, status JobStatus, lastError string, now time.Time) error {
	job.Status = status
	job.LastError = lastError
	job.NextRunAt = nil
	job.UpdatedAt = now
	return s.repo.PutJob(ctx, job)
}

func (s *Service) rescheduleJob(ctx context.Context, job Job, attempt int, next time.Time, lastError string, now time.Time) error {
	job.Status = JobStatusRetrying
	if attempt < 0 {
		attempt = 0
	}
	job.Attempt = attempt
	job.NextRunAt = &next
	job.LastError = lastError
	job.UpdatedAt = now
	return s.repo.PutJob(ctx, job)
}

func (s *Service) appendAlert(ctx context.Context, code, message string, severity alerts.Severity, details map[string]any) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Append(ctx, code, message, severity, details); err != nil {
		s.log.Warn("alert append failed", "code", code, "err", err)
	}
}

func seedFor(job Job, cart directory.Cart) calltrack.Seed {
	return calltrack.Seed{
		RecoveryKey: job.RecoveryKey,
		UserID:      job.UserID,
		SessionID:   job.SessionID,
		CartID:      job.CartID,
		ItemCount:   cart.ItemCount,
		CartTotal:   cart.Total,
	}
}
