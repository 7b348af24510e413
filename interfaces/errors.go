package interfaces

import "errors"

// Sentinel errors shared across the recovery system. Callers classify
// failures with errors.Is; implementations wrap these with %w and detail
// describing the unmet precondition.
var (
	// ErrInvalidParameters is returned when split or setup parameters are out
	// of range (threshold below 2, total below threshold, total above 255).
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrInsufficientShares is returned when reconstruction is attempted with
	// fewer shares than the configured threshold.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrReconstructionFailed is returned when shares are inconsistent or
	// corrupted and do not recombine into the original secret.
	ErrReconstructionFailed = errors.New("secret reconstruction failed")

	// ErrDecryptionFailed is returned for any fragment decryption failure.
	// Wrong passphrase and tampered ciphertext are deliberately
	// indistinguishable.
	ErrDecryptionFailed = errors.New("fragment decryption failed")

	// ErrNotFound is returned when a referenced guardian, setup, or recovery
	// request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is not legal in the
	// entity's current lifecycle state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrUnknownGuardian is returned when an approval or dispute references a
	// guardian outside the owner's guardian set.
	ErrUnknownGuardian = errors.New("unknown guardian")

	// ErrGuardianRevoked is returned when a revoked guardian attempts to act.
	ErrGuardianRevoked = errors.New("guardian revoked")

	// ErrDuplicateApproval is returned when a guardian approves the same
	// recovery request twice.
	ErrDuplicateApproval = errors.New("duplicate approval")

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrOwnerActive is returned when guardians attempt to initiate recovery
	// before the owner's inactivity period has elapsed.
	ErrOwnerActive = errors.New("owner is active")

	// ErrInsufficientApprovals is returned when completion is attempted below
	// the approval threshold.
	ErrInsufficientApprovals = errors.New("insufficient approvals")

	// ErrDelayNotElapsed is returned when completion is attempted before the
	// mandatory recovery delay has passed.
	ErrDelayNotElapsed = errors.New("recovery delay not elapsed")

	// ErrRequestExpired is returned when a recovery request is past its
	// validity window.
	ErrRequestExpired = errors.New("recovery request expired")

	// ErrRequestDisputed is returned when completion is attempted on a
	// disputed request. Disputes are permanently terminal.
	ErrRequestDisputed = errors.New("recovery request disputed")

	// ErrAlreadyCompleted is returned when a completed request is completed
	// again. The secret is never recombined twice.
	ErrAlreadyCompleted = errors.New("recovery request already completed")

	// ErrVersionConflict is returned by conditional store updates when the
	// persisted version moved underneath the caller. Callers re-read and
	// re-validate before retrying.
	ErrVersionConflict = errors.New("version conflict")
)
