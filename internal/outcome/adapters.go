package outcome

import (
	"context"
	"log/slog"
)

// Log-backed adapters used until real support/notification systems are
// wired. They satisfy the dispatcher contracts and leave an audit trail.

type logTickets struct {
	log *slog.Logger
}

// LogTicketCreator records tickets to the structured log.
func LogTicketCreator(log *slog.Logger) TicketCreator {
	if log == nil {
		log = slog.Default()
	}
	return logTickets{log: log}
}

func (l logTickets) CreateTicket(ctx context.Context, t Ticket) error {
	l.log.Info("support ticket created",
		"user_id", t.UserID, "session_id", t.SessionID, "priority", t.Priority, "issue", t.Issue)
	return nil
}

type logNotifier struct {
	log *slog.Logger
}

// LogNotifier records notifications to the structured log.
func LogNotifier(log *slog.Logger) Notifier {
	if log == nil {
		log = slog.Default()
	}
	return logNotifier{log: log}
}

func (l logNotifier) Notify(ctx context.Context, n Notification) error {
	l.log.Info("customer notification sent",
		"user_id", n.UserID, "call_id", n.CallID, "disposition", n.Disposition, "message", n.Message)
	return nil
}
