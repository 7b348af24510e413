package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// MultiNotifier fans one notification out to several channels. A channel
// failure is collected but never stops the remaining channels; delivery is
// best-effort on every path.
type MultiNotifier struct {
	notifiers []interfaces.Notifier
	log       *slog.Logger
}

// NewMultiNotifier creates a fanout over the given notifiers.
func NewMultiNotifier(log *slog.Logger, notifiers ...interfaces.Notifier) *MultiNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &MultiNotifier{notifiers: notifiers, log: log}
}

// Notify delivers to every channel and returns the joined channel errors,
// for logging only.
func (n *MultiNotifier) Notify(ctx context.Context, identity string, kind interfaces.NotificationKind, message string) error {
	var errs []error
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, identity, kind, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
