// Package recovery implements the time-locked recovery workflow: guardians
// initiate a request after the owner's inactivity period, collect threshold
// approvals, wait out the mandatory delay, and reconstruct the protected
// secret. The owner can dispute any pending request with a signed refusal,
// which permanently blocks it.
//
// Requests are updated under optimistic concurrency: every mutation is a
// compare-and-swap on the request's version counter, retried on conflict, so
// concurrent approvals and a racing dispute serialize correctly even across
// processes sharing the database. A dispute always wins against a concurrent
// completion.
//
// The Sweeper runs housekeeping in the background: it cancels requests past
// their validity window, archives terminal requests to the archive store, and
// reminds owners whose check-in is about to lapse.
package recovery
