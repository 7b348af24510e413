// Package activity implements the dead man's switch for the guardian
// recovery protocol.
//
// Owners prove liveness by checking in. The monitor records check-ins
// against the owner's guardian setup and reports how long the owner has
// been silent. Once that silence reaches the setup's configured
// inactivity period, CanGuardiansInitiate returns true and guardians may
// open a recovery request; until then any initiation attempt is rejected
// as owner-active.
//
// Stored check-in timestamps are monotonic. A check-in observed while
// the wall clock sits behind the stored timestamp keeps the stored
// value, and elapsed-time computations clamp negative deltas to zero,
// so clock skew can delay guardian authorization but never spuriously
// grant it.
package activity
