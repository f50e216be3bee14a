// Package outcome maps terminal call outcomes onto follow-up side effects:
// suppression, support tickets and customer notifications.
package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cart-recovery/internal/calltrack"
)

// Suppressor records that a user must never receive another recovery call.
type Suppressor interface {
	Suppress(ctx context.Context, userID, reason string) error
}

// TicketCreator opens a support ticket for a callback request.
type TicketCreator interface {
	CreateTicket(ctx context.Context, t Ticket) error
}

// Notifier delivers a follow-up message to the customer.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Ticket struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Issue     string `json:"issue"`
	Priority  string `json:"priority"`
}

type Notification struct {
	UserID      string `json:"userId"`
	CallID      string `json:"callId"`
	Message     string `json:"message"`
	Disposition string `json:"disposition"`
}

// Dispatcher implements calltrack.FollowUp. Dispatch runs at most once per
// call; the tracker's followupApplied flag provides that guarantee, so the
// actions here only need to be safe, not idempotent.
type Dispatcher struct {
	suppressor Suppressor
	tickets    TicketCreator
	notifier   Notifier
	log        *slog.Logger
}

func NewDispatcher(s Suppressor, t TicketCreator, n Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{suppressor: s, tickets: t, notifier: n, log: log}
}

var _ calltrack.FollowUp = (*Dispatcher)(nil)

func (d *Dispatcher) Apply(ctx context.Context, call calltrack.Call) error {
	userID := strings.TrimSpace(call.UserID)
	if userID == "" {
		return nil
	}
	sessionID := strings.TrimSpace(call.SessionID)
	if sessionID == "" {
		sessionID = "voice-session"
	}

	outcome := strings.ToLower(strings.TrimSpace(call.Outcome))

	switch outcome {
	case "do_not_call", "opt_out", "dnc":
		if d.suppressor == nil {
			return nil
		}
		if err := d.suppressor.Suppress(ctx, userID, "voice_opt_out"); err != nil {
			return fmt.Errorf("suppress user %s: %w", userID, err)
		}
		d.log.Info("user suppressed from voice recovery", "user_id", userID, "call_id", call.ID)
		return nil

	case "requested_callback", "needs_help", "agent_handoff":
		if d.tickets != nil {
			err := d.tickets.CreateTicket(ctx, Ticket{
				UserID:    userID,
				SessionID: sessionID,
				Issue:     fmt.Sprintf("Voice recovery callback requested for cart %s", call.CartID),
				Priority:  "normal",
			})
			if err != nil {
				return fmt.Errorf("create callback ticket: %w", err)
			}
		}
		return d.notify(ctx, Notification{
			UserID:      userID,
			CallID:      call.ID,
			Message:     "We received your callback request and a support agent will reach out.",
			Disposition: "callback_requested",
		})

	case "converted", "checkout_intent", "interested":
		return d.notify(ctx, Notification{
			UserID:      userID,
			CallID:      call.ID,
			Message:     "Your cart is still available. Continue checkout when ready.",
			Disposition: "conversion_intent",
		})
	}

	if call.Status == calltrack.CallStatusFailed {
		return d.notify(ctx, Notification{
			UserID:      userID,
			CallID:      call.ID,
			Message:     "We could not complete your call. Your cart remains available.",
			Disposition: "call_failed",
		})
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, n Notification) error {
	if d.notifier == nil {
		return nil
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("notify user %s: %w", n.UserID, err)
	}
	return nil
}
