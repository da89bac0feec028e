package dispatch

import (
	"log/slog"

	"github.com/example/event-checkin/internal/models"
)

// Notifier delivers match events to a user's device.
type Notifier interface {
	NotifyMatch(userID string, ev models.MatchEvent) error
}

// LogNotifier is the local-run fallback: it only logs the delivery.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) NotifyMatch(userID string, ev models.MatchEvent) error {
	l.Logger.Info("match notification", "user_id", userID, "match_id", ev.MatchID, "event_id", ev.EventID)
	return nil
}
