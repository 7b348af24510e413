// Package interfaces defines the core interfaces and types for the guardian
// recovery system. It provides the contract between different components
// without implementation details.
package interfaces

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OwnerID identifies the account whose secret is under guardian protection.
type OwnerID string

// NewOwnerID generates a random owner identifier.
func NewOwnerID() OwnerID {
	return OwnerID(uuid.New().String())
}

// String returns the identifier as a string.
func (id OwnerID) String() string {
	return string(id)
}

// GuardianID identifies a single guardian within an owner's guardian set.
type GuardianID string

// NewGuardianID generates a random guardian identifier.
func NewGuardianID() GuardianID {
	return GuardianID(uuid.New().String())
}

// String returns the identifier as a string.
func (id GuardianID) String() string {
	return string(id)
}

// RequestID identifies a single recovery request.
type RequestID string

// NewRequestID generates a random request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// String returns the identifier as a string.
func (id RequestID) String() string {
	return string(id)
}

// WalletAddress represents a 20-byte Ethereum account address used for
// wallet-based signature verification.
type WalletAddress [20]byte

// NewWalletAddressFromBytes creates a wallet address from a raw byte slice.
func NewWalletAddressFromBytes(addr []byte) (WalletAddress, error) {
	if len(addr) != 20 {
		return WalletAddress{}, errors.New("invalid address length: must be 20 bytes")
	}

	var res WalletAddress
	copy(res[:], addr)
	return res, nil
}

// NewWalletAddressFromHex creates a wallet address from a hex string.
func NewWalletAddressFromHex(addr string) (WalletAddress, error) {
	// Remove 0x prefix if present
	clean := strings.TrimPrefix(addr, "0x")
	if len(clean) != 40 {
		return WalletAddress{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	addrBytes, err := hex.DecodeString(clean)
	if err != nil {
		return WalletAddress{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewWalletAddressFromBytes(addrBytes)
}

// String returns the hex string representation of the address.
func (addr WalletAddress) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr WalletAddress) Bytes() []byte {
	return addr[:]
}

// Equal compares two wallet addresses for equality.
func (addr WalletAddress) Equal(other WalletAddress) bool {
	return addr == other
}

// IsZero reports whether the address is unset.
func (addr WalletAddress) IsZero() bool {
	return addr == WalletAddress{}
}

// GuardianStatus tracks a guardian through the invitation lifecycle.
type GuardianStatus int

const (
	// GuardianPending means the guardian was invited but has not responded.
	GuardianPending GuardianStatus = iota
	// GuardianAccepted means the guardian accepted and may hold a fragment.
	GuardianAccepted
	// GuardianDeclined means the guardian refused the invitation.
	GuardianDeclined
	// GuardianRevoked means the owner removed the guardian. Revoked guardians
	// never count toward a recovery threshold.
	GuardianRevoked
)

// String returns the status label.
func (s GuardianStatus) String() string {
	switch s {
	case GuardianPending:
		return "pending"
	case GuardianAccepted:
		return "accepted"
	case GuardianDeclined:
		return "declined"
	case GuardianRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// ParseGuardianStatus maps a status label back to its value.
func ParseGuardianStatus(label string) (GuardianStatus, error) {
	switch label {
	case "pending":
		return GuardianPending, nil
	case "accepted":
		return GuardianAccepted, nil
	case "declined":
		return GuardianDeclined, nil
	case "revoked":
		return GuardianRevoked, nil
	default:
		return GuardianPending, fmt.Errorf("unknown guardian status: %q", label)
	}
}

// RequestStatus tracks a recovery request through its state machine.
// The only legal transitions are pending to disputed, completed or cancelled.
type RequestStatus int

const (
	// RequestPending is the initial state; approvals accumulate here.
	RequestPending RequestStatus = iota
	// RequestDisputed means the owner blocked the request. Permanently terminal.
	RequestDisputed
	// RequestCompleted means the secret was reconstructed and released.
	RequestCompleted
	// RequestCancelled means the initiator withdrew the request or it expired.
	RequestCancelled
)

// String returns the status label.
func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestDisputed:
		return "disputed"
	case RequestCompleted:
		return "completed"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseRequestStatus maps a status label back to its value.
func ParseRequestStatus(label string) (RequestStatus, error) {
	switch label {
	case "pending":
		return RequestPending, nil
	case "disputed":
		return RequestDisputed, nil
	case "completed":
		return RequestCompleted, nil
	case "cancelled":
		return RequestCancelled, nil
	default:
		return RequestPending, fmt.Errorf("unknown request status: %q", label)
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// FragmentRef points at a guardian's encrypted fragment in the fragment store.
// The sealed bytes themselves live in a storage backend under VaultID; the
// reference carries only the metadata needed to locate and decrypt them.
type FragmentRef struct {
	// Index is the assignment ordinal used for passphrase derivation.
	Index int
	// KeyVersion is the setup key version the fragment was minted under.
	// Fragments from older versions are invalid and never decrypted.
	KeyVersion uint64
	// VaultID is the content ID of the sealed envelope blob.
	VaultID ContentID
}

// FragmentEnvelope is the sealed fragment blob stored in a storage backend.
// Salt and IV are not secret and are stored alongside the ciphertext.
type FragmentEnvelope struct {
	Guardian   GuardianID `json:"guardian"`
	Index      int        `json:"index"`
	KeyVersion uint64     `json:"key_version"`
	Ciphertext []byte     `json:"ciphertext"`
	IV         []byte     `json:"iv"`
	Salt       []byte     `json:"salt"`
}

// Marshal serializes the envelope for storage.
func (e *FragmentEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// FragmentEnvelopeFromBytes deserializes a stored envelope blob.
func FragmentEnvelopeFromBytes(data []byte) (*FragmentEnvelope, error) {
	var e FragmentEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid fragment envelope: %w", err)
	}
	return &e, nil
}

// Guardian is one member of an owner's guardian set. A guardian holds at most
// one encrypted fragment, assigned when the owner's secret is split.
type Guardian struct {
	ID          GuardianID
	Owner       OwnerID
	Identity    string // contact identity, typically an email address
	DisplayName string
	Status      GuardianStatus
	Key         VerificationKey
	Fragment    *FragmentRef // nil until the split assigns one
	AddedAt     time.Time
	AcceptedAt  time.Time // zero until accepted
	// LastVerified is updated whenever the guardian produces a valid
	// signature, most recently on invitation acceptance or recovery approval.
	LastVerified time.Time
}

// Accepted reports whether the guardian is an active, accepted member.
func (g *Guardian) Accepted() bool {
	return g.Status == GuardianAccepted
}

// GuardianSetup holds an owner's protection parameters and key material.
// It is created once at onboarding and mutated only by check-ins and
// explicit re-keying.
type GuardianSetup struct {
	Owner OwnerID
	// Contact is the owner's notification identity, typically an email
	// address.
	Contact  string
	OwnerKey VerificationKey // verifies the owner's dispute signatures

	// Threshold is the number of fragments required to reconstruct (K).
	Threshold int
	// TotalGuardians is the number of fragments distributed (N).
	TotalGuardians int

	// RecoveryDelay is the mandatory time lock between initiating a recovery
	// and completing it.
	RecoveryDelay time.Duration
	// InactivityPeriod is how long the owner must be silent before guardians
	// may initiate a recovery.
	InactivityPeriod time.Duration
	// RequestValidity is the window after initiation during which a recovery
	// request may complete. Past it the request is invalid regardless of
	// stored status.
	RequestValidity time.Duration

	LastCheckIn time.Time

	// MasterKey wraps passphrase derivation for fragment encryption.
	// Generated at onboarding, never exposed outside the core.
	MasterKey []byte
	// KeyVersion increments on every split. Fragments minted under older
	// versions are invalid.
	KeyVersion uint64
	// PendingSecret is the sealed protected secret, present only between
	// onboarding and split finalization. Deleted once fragments exist.
	PendingSecret []byte
	// SplitDone is set once fragments have been distributed.
	SplitDone bool

	CreatedAt time.Time
}

// Validate checks the threshold parameters and timing windows.
func (s *GuardianSetup) Validate() error {
	if s.Threshold < 2 {
		return fmt.Errorf("%w: threshold must be at least 2, got %d", ErrInvalidParameters, s.Threshold)
	}
	if s.TotalGuardians < s.Threshold {
		return fmt.Errorf("%w: total guardians %d below threshold %d", ErrInvalidParameters, s.TotalGuardians, s.Threshold)
	}
	if s.TotalGuardians > 255 {
		return fmt.Errorf("%w: total guardians must be at most 255, got %d", ErrInvalidParameters, s.TotalGuardians)
	}
	if s.RecoveryDelay <= 0 {
		return fmt.Errorf("%w: recovery delay must be positive", ErrInvalidParameters)
	}
	if s.InactivityPeriod <= 0 {
		return fmt.Errorf("%w: inactivity period must be positive", ErrInvalidParameters)
	}
	if s.RequestValidity <= s.RecoveryDelay {
		return fmt.Errorf("%w: request validity %s must exceed recovery delay %s", ErrInvalidParameters, s.RequestValidity, s.RecoveryDelay)
	}
	return nil
}

// Approval records one guardian's approval of a recovery request.
type Approval struct {
	Guardian   GuardianID
	ApprovedAt time.Time
	Signature  []byte
}

// RecoveryRequest is one recovery attempt. Approvals grow monotonically while
// the request is pending; terminal states are immutable.
type RecoveryRequest struct {
	ID        RequestID
	Owner     OwnerID
	Initiator GuardianID
	Status    RequestStatus

	// RequiredApprovals snapshots the owner's threshold at creation time so a
	// later re-key cannot retroactively weaken an open request.
	RequiredApprovals int

	InitiatedAt time.Time
	ExpiresAt   time.Time
	CompletedAt time.Time // zero unless completed

	DisputedBy    string // owner identity; empty unless disputed
	DisputeReason string

	Approvals []Approval

	// ArchiveID is set once the sweeper has written the terminal request to
	// the archive store.
	ArchiveID ContentID

	// Version is the optimistic concurrency counter maintained by the store.
	// Every successful update increments it.
	Version uint64
}

// HasApproval reports whether the guardian already approved this request.
func (r *RecoveryRequest) HasApproval(id GuardianID) bool {
	for _, a := range r.Approvals {
		if a.Guardian == id {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the request is past its validity window at the
// given instant.
func (r *RecoveryRequest) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Archived reports whether the request has been written to the archive store.
func (r *RecoveryRequest) Archived() bool {
	return r.ArchiveID != ContentID{}
}
