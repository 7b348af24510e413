package interfaces

import "context"

// NotificationKind labels the lifecycle event a notification reports.
type NotificationKind string

const (
	NotifyGuardianInvited   NotificationKind = "guardian-invited"
	NotifyGuardianAccepted  NotificationKind = "guardian-accepted"
	NotifyGuardianRevoked   NotificationKind = "guardian-revoked"
	NotifyRecoveryInitiated NotificationKind = "recovery-initiated"
	NotifyApprovalRecorded  NotificationKind = "approval-recorded"
	NotifyRecoveryDisputed  NotificationKind = "recovery-disputed"
	NotifyRecoveryCompleted NotificationKind = "recovery-completed"
	NotifyRecoveryExpired   NotificationKind = "recovery-expired"
	NotifyCheckInReminder   NotificationKind = "check-in-reminder"
)

// Notifier delivers lifecycle notifications to guardians and owners.
// Delivery is strictly best-effort: callers invoke it fire-and-forget and a
// delivery failure never blocks or rolls back a state transition.
type Notifier interface {
	// Notify sends a message to the contact identity. Returns an error for
	// logging only; callers must not propagate it into state transitions.
	Notify(ctx context.Context, identity string, kind NotificationKind, message string) error
}
