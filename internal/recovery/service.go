// Package recovery is the façade over the voice recovery pipeline: the
// periodic cycle, provider event ingestion and the operator API surface.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cart-recovery/internal/alerts"
	"cart-recovery/internal/calltrack"
	"cart-recovery/internal/provider"
	"cart-recovery/internal/scheduler"
	"cart-recovery/internal/settings"
)

type Service struct {
	settings     *settings.Service
	sched        *scheduler.Service
	tracker      *calltrack.Tracker
	client       provider.Client
	alerts       *alerts.Service
	suppressions *Registry
	log          *slog.Logger
	clock        func() time.Time
}

func NewService(
	settingsSvc *settings.Service,
	sched *scheduler.Service,
	tracker *calltrack.Tracker,
	client provider.Client,
	alertSvc *alerts.Service,
	suppressions *Registry,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		settings:     settingsSvc,
		sched:        sched,
		tracker:      tracker,
		client:       client,
		alerts:       alertSvc,
		suppressions: suppressions,
		log:          log,
		clock:        time.Now,
	}
}

// CycleReport summarizes one recovery cycle.
type CycleReport struct {
	Enqueued        int                `json:"enqueued"`
	Processed       scheduler.Counters `json:"processed"`
	Polled          int                `json:"polled"`
	AlertsGenerated int                `json:"alertsGenerated"`
	SettingsEnabled bool               `json:"settingsEnabled"`
}

// RunCycle runs one full pass: enqueue newly abandoned carts, process due
// jobs, poll the provider for in-flight calls, evaluate alert thresholds.
// Settings are loaded once and pinned for the whole cycle.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	now := s.clock().UTC()
	set, err := s.settings.Get(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("load settings: %w", err)
	}
	report := CycleReport{SettingsEnabled: set.Enabled}

	report.Enqueued, err = s.sched.Enqueue(ctx, now, set)
	if err != nil {
		return report, fmt.Errorf("enqueue: %w", err)
	}
	report.Processed, err = s.sched.ProcessDue(ctx, now, set)
	if err != nil {
		return report, fmt.Errorf("process due: %w", err)
	}
	report.Polled, err = s.PollProviderUpdates(ctx)
	if err != nil {
		return report, fmt.Errorf("poll provider: %w", err)
	}
	report.AlertsGenerated, err = s.alerts.Evaluate(ctx, now, set)
	if err != nil {
		return report, fmt.Errorf("evaluate alerts: %w", err)
	}

	s.log.Info("recovery cycle finished",
		"enqueued", report.Enqueued,
		"completed", report.Processed.Completed,
		"retried", report.Processed.Retried,
		"dead_letter", report.Processed.DeadLetter,
		"cancelled", report.Processed.Cancelled,
		"polled", report.Polled,
		"alerts", report.AlertsGenerated)
	return report, nil
}

// PollProviderUpdates fetches the latest provider event for every in-flight
// call and applies it through the same idempotent path as webhooks. One
// call's poll failure raises an alert and never blocks the rest.
func (s *Service) PollProviderUpdates(ctx context.Context) (int, error) {
	if !s.client.Enabled() {
		return 0, nil
	}
	active, err := s.tracker.ActiveProviderCalls(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active calls: %w", err)
	}

	updates := 0
	for _, call := range active {
		events, err := s.client.FetchCallLogs(ctx, call.ProviderCallID, 1)
		if err != nil {
			s.appendAlert(ctx, alerts.CodePollFailed,
				fmt.Sprintf("Failed to poll provider call logs: %v", err),
				alerts.SeverityWarning,
				map[string]any{"callId": call.ID, "providerCallId": call.ProviderCallID})
			continue
		}
		if len(events) == 0 {
			continue
		}
		latest := events[len(events)-1]
		res, err := s.tracker.ApplyProviderEvent(ctx, call.ID, latest, s.client)
		if err != nil {
			s.log.Warn("applying polled event failed", "call_id", call.ID, "err", err)
			continue
		}
		if !res.Idempotent {
			updates++
		}
	}
	return updates, nil
}

// IngestResult is the webhook ingestion outcome returned to the provider.
type IngestResult struct {
	Accepted   bool   `json:"accepted"`
	Matched    bool   `json:"matched"`
	Idempotent bool   `json:"idempotent"`
	Reason     string `json:"reason,omitempty"`

	CallID         string               `json:"callId,omitempty"`
	ProviderCallID string               `json:"providerCallId,omitempty"`
	Status         calltrack.CallStatus `json:"status,omitempty"`
	Outcome        string               `json:"outcome,omitempty"`
}

// IngestProviderCallback matches an authenticated webhook payload to a call
// and applies it. An unmatched call id is accepted and dropped: providers
// retry rejected deliveries, and a retry will never start matching.
func (s *Service) IngestProviderCallback(ctx context.Context, payload map[string]any) (IngestResult, error) {
	providerCallID := provider.ExtractCallID(payload)
	if providerCallID == "" {
		return IngestResult{Reason: "missing_provider_call_id"}, nil
	}

	call, ok, err := s.tracker.FindByProviderCallID(ctx, providerCallID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("match provider call: %w", err)
	}
	if !ok {
		return IngestResult{
			Accepted:       true,
			Reason:         "call_not_found",
			ProviderCallID: providerCallID,
		}, nil
	}

	res, err := s.tracker.ApplyProviderEvent(ctx, call.ID, payload, s.client)
	if err != nil {
		return IngestResult{}, fmt.Errorf("apply provider event: %w", err)
	}
	return IngestResult{
		Accepted:       true,
		Matched:        true,
		Idempotent:     res.Idempotent,
		CallID:         call.ID,
		ProviderCallID: providerCallID,
		Status:         res.Status,
		Outcome:        res.Outcome,
	}, nil
}

func (s *Service) appendAlert(ctx context.Context, code, message string, severity alerts.Severity, details map[string]any) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Append(ctx, code, message, severity, details); err != nil {
		s.log.Warn("alert append failed", "code", code, "err", err)
	}
}
