package notify

import (
	"context"
	"log/slog"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// LogNotifier writes notifications to the structured log. It is the default
// channel in development and a useful audit trail alongside real delivery
// channels in a MultiNotifier.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

// Notify records the notification in the log. It never fails.
func (n *LogNotifier) Notify(ctx context.Context, identity string, kind interfaces.NotificationKind, message string) error {
	n.log.Info("notification",
		slog.String("identity", identity),
		slog.String("kind", string(kind)),
		slog.String("message", message))
	return nil
}
