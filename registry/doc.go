// Package registry manages an owner's guardian set: onboarding, the
// invitation lifecycle, and the distribution of encrypted secret fragments.
//
// # Onboarding and the Lazy Split
//
// At onboarding the protected secret is sealed under a passphrase derived
// from a fresh master key and persisted as an opaque envelope; it never
// rests in plaintext. The secret is split only once the configured number of
// guardians have all accepted, on the final acceptance: each share is
// encrypted under a passphrase derived from the master key, the guardian's
// contact identity, and the share's assignment ordinal, stored in the
// fragment store, and referenced from the guardian record. The sealed
// pending secret is deleted in the same step, after which no single record
// anywhere contains enough to reconstruct it.
//
// # Revocation and Re-Keying
//
// Revoking a guardian discards their fragment reference and re-splits with
// fresh shares to the remaining accepted guardians under a bumped key
// version, so a revoked guardian's retained ciphertext can never contribute
// to a future reconstruction. If revocation leaves fewer accepted guardians
// than the threshold, every fragment is invalidated and the setup requires
// re-onboarding; the alternative would be a secret that can never be
// recovered at all.
//
// Rekey changes the threshold through the same reconstruct-and-redistribute
// path.
package registry
