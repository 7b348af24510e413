// Package cryptoutils provides the cryptographic primitives of the guardian
// recovery system: threshold secret sharing and passphrase-based fragment
// encryption.
//
// # Secret Splitting
//
// Splitter wraps Shamir's Secret Sharing over GF(256). A secret is split into
// N shares of which any K reconstruct it; K-1 shares reveal nothing. Because
// the polynomial arithmetic recombines any share set into some byte string, a
// truncated SHA-256 digest of the secret is folded into the shared payload:
// Combine verifies it and fails with ErrReconstructionFailed instead of
// returning garbage when shares are corrupted, duplicated, or drawn from
// different splits.
//
//	splitter, err := cryptoutils.NewSplitter(3, 5)
//	shares, err := splitter.Split(secret)
//	// any 3 of the 5 shares:
//	recovered, err := splitter.Combine(shares[1:4])
//
// # Fragment Encryption
//
// Encrypt seals one share under a passphrase with AES-256-GCM. The key is
// derived with Argon2id (time=1, memory=64MiB, threads=4), making passphrase
// brute-force memory-hard. Salt and IV are fresh per call and stored next to
// the ciphertext; they are not secret. Decrypt reports every failure as the
// uniform ErrDecryptionFailed.
//
// # Passphrase Derivation
//
// DerivePassphrase binds a fragment's passphrase to the owner's master key,
// the guardian's contact identity, and the fragment index. The derivation is
// deterministic, so the platform can re-derive it during recovery completion,
// and collision-free across guardians and indices.
package cryptoutils
