// Package notify delivers best-effort lifecycle notifications to owners and
// guardians: invitations, recovery initiation, approvals, disputes, and
// check-in reminders.
//
// Delivery is a side channel, never part of correctness. Callers invoke
// notifiers fire-and-forget; a failed delivery is logged and must not block
// or roll back any state transition. The LogNotifier records events to the
// structured log, the EmailNotifier sends mail over an SMTP relay after a
// DNS MX preflight on the recipient domain, and the MultiNotifier fans one
// event out to several channels.
package notify
