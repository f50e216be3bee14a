// Package alerts is the operational alert log and its evaluator. Alerts are
// observations for operators; nothing in the pipeline changes behavior based
// on them.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"cart-recovery/internal/calltrack"
	"cart-recovery/internal/guardrail"
	"cart-recovery/internal/settings"

	"github.com/google/uuid"
)

// JobGauge reports scheduler queue depths without coupling this package to
// the scheduler's job model.
type JobGauge interface {
	PendingJobs(ctx context.Context) (queued int, retrying int, err error)
}

type Service struct {
	repo  Repository
	calls calltrack.Repository
	jobs  JobGauge
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, calls calltrack.Repository, jobs JobGauge, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, calls: calls, jobs: jobs, log: log, clock: time.Now}
}

// Append records one alert occurrence.
func (s *Service) Append(ctx context.Context, code, message string, severity Severity, details map[string]any) error {
	a := Alert{
		ID:        "valert_" + uuid.NewString(),
		Code:      code,
		Message:   message,
		Severity:  severity,
		Details:   details,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.Add(ctx, a); err != nil {
		return fmt.Errorf("append alert %s: %w", code, err)
	}
	s.log.Warn("voice alert", "code", code, "severity", string(severity), "message", message)
	return nil
}

// Evaluate inspects queue depth and today's failure ratio and appends alerts
// for breached thresholds. Returns how many alerts were generated.
func (s *Service) Evaluate(ctx context.Context, now time.Time, set settings.Settings) (int, error) {
	generated := 0

	queued, retrying, err := s.jobs.PendingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	pending := queued + retrying
	if pending > set.AlertBacklogThreshold {
		err := s.Append(ctx, CodeBacklogHigh,
			fmt.Sprintf("Voice job backlog is high (%d).", pending),
			SeverityWarning,
			map[string]any{"pendingJobs": pending})
		if err != nil {
			return generated, err
		}
		generated++
	}

	calls, err := s.calls.ListCreatedSince(ctx, guardrail.StartOfDay(now))
	if err != nil {
		return generated, fmt.Errorf("list today's calls: %w", err)
	}
	terminal, failed := 0, 0
	for _, c := range calls {
		if !c.Status.Terminal() {
			continue
		}
		terminal++
		if c.Status == calltrack.CallStatusFailed {
			failed++
		}
	}
	if terminal > 0 {
		ratio := float64(failed) / float64(terminal)
		if ratio > set.AlertFailureRatioThreshold {
			err := s.Append(ctx, CodeFailureRatioHigh,
				fmt.Sprintf("Voice failure ratio today is %.2f, above threshold.", ratio),
				SeverityCritical,
				map[string]any{"terminalCalls": terminal, "failedCalls": failed, "ratio": ratio})
			if err != nil {
				return generated, err
			}
			generated++
		}
	}
	return generated, nil
}

// List returns alerts newest first with a clamped limit.
func (s *Service) List(ctx context.Context, limit int, severity Severity) ([]Alert, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	return s.repo.List(ctx, limit, severity)
}

// Stats is the operator dashboard snapshot.
type Stats struct {
	Enabled             bool    `json:"enabled"`
	TotalCalls          int     `json:"totalCalls"`
	CallsToday          int     `json:"callsToday"`
	CompletedToday      int     `json:"completedToday"`
	FailedToday         int     `json:"failedToday"`
	SuppressedToday     int     `json:"suppressedToday"`
	PendingJobs         int     `json:"pendingJobs"`
	RetryingJobs        int     `json:"retryingJobs"`
	EstimatedSpendToday float64 `json:"estimatedSpendToday"`
	DailyBudgetUSD      float64 `json:"dailyBudgetUsd"`
	MaxCallsPerDay      int     `json:"maxCallsPerDay"`
	AlertsOpen          int     `json:"alertsOpen"`
}

// Snapshot assembles the current operational stats.
func (s *Service) Snapshot(ctx context.Context, now time.Time, set settings.Settings) (Stats, error) {
	total, err := s.calls.List(ctx, 5000, "")
	if err != nil {
		return Stats{}, fmt.Errorf("list calls: %w", err)
	}
	today, err := s.calls.ListCreatedSince(ctx, guardrail.StartOfDay(now))
	if err != nil {
		return Stats{}, fmt.Errorf("list today's calls: %w", err)
	}
	queued, retrying, err := s.jobs.PendingJobs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count pending jobs: %w", err)
	}
	open, err := s.repo.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count alerts: %w", err)
	}

	st := Stats{
		Enabled:        set.Enabled,
		TotalCalls:     len(total),
		CallsToday:     len(today),
		PendingJobs:    queued + retrying,
		RetryingJobs:   retrying,
		DailyBudgetUSD: set.DailyBudgetUSD,
		MaxCallsPerDay: set.MaxCallsPerDay,
		AlertsOpen:     open,
	}
	for _, c := range today {
		switch c.Status {
		case calltrack.CallStatusCompleted:
			st.CompletedToday++
		case calltrack.CallStatusFailed:
			st.FailedToday++
		case calltrack.CallStatusSuppressed, calltrack.CallStatusSkipped:
			st.SuppressedToday++
		}
	}
	st.EstimatedSpendToday = math.Round(float64(len(today))*set.EstimatedCostPerCallUSD*100) / 100
	return st, nil
}
