package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// recorder captures notifications for assertions.
type recorder struct {
	mu    sync.Mutex
	kinds []interfaces.NotificationKind
	fail  error
}

func (r *recorder) Notify(ctx context.Context, identity string, kind interfaces.NotificationKind, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return r.fail
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier(slog.Default())
	err := n.Notify(context.Background(), "owner@example.com", interfaces.NotifyCheckInReminder, "please check in")
	require.NoError(t, err)
}

func TestMultiNotifierFanout(t *testing.T) {
	first := &recorder{}
	second := &recorder{}

	multi := NewMultiNotifier(slog.Default(), first, second)
	err := multi.Notify(context.Background(), "guardian@example.com", interfaces.NotifyGuardianInvited, "you are invited")
	require.NoError(t, err)

	assert.Equal(t, []interfaces.NotificationKind{interfaces.NotifyGuardianInvited}, first.kinds)
	assert.Equal(t, []interfaces.NotificationKind{interfaces.NotifyGuardianInvited}, second.kinds)
}

func TestMultiNotifierContinuesPastFailure(t *testing.T) {
	failing := &recorder{fail: errors.New("relay down")}
	working := &recorder{}

	multi := NewMultiNotifier(slog.Default(), failing, working)
	err := multi.Notify(context.Background(), "guardian@example.com", interfaces.NotifyRecoveryInitiated, "recovery opened")
	require.Error(t, err, "channel failures are reported for logging")

	assert.Len(t, working.kinds, 1, "a failing channel must not stop the others")
}

func TestEmailNotifierConfigValidation(t *testing.T) {
	_, err := NewEmailNotifier(&EmailConfig{From: "no-reply@example.com"})
	require.Error(t, err, "relay address is required")

	_, err = NewEmailNotifier(&EmailConfig{RelayAddr: "relay:25"})
	require.Error(t, err, "sender address is required")
}

func TestEmailNotifierRejectsNonMailIdentity(t *testing.T) {
	n := &EmailNotifier{
		relayAddr:    "relay:25",
		from:         "no-reply@example.com",
		resolverAddr: "127.0.0.1:53",
		log:          slog.Default(),
	}

	err := n.checkMX(context.Background(), "not-a-mail-address")
	require.Error(t, err)
}
