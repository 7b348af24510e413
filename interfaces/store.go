package interfaces

import "context"

// Store persists guardian setups, guardians, and recovery requests. All reads
// return ErrNotFound for missing entities. State survives restarts.
//
// Recovery requests carry a version counter for optimistic concurrency:
// UpdateRequest and AppendApproval only apply when the persisted version
// equals expectedVersion, returning ErrVersionConflict otherwise. This makes
// the duplicate-approval check and the pending-to-terminal transitions atomic
// per request even across processes sharing the database.
type Store interface {
	// CreateSetup persists a new guardian setup for an owner.
	CreateSetup(ctx context.Context, setup *GuardianSetup) error

	// UpdateSetup overwrites the owner's setup.
	UpdateSetup(ctx context.Context, setup *GuardianSetup) error

	// SetupByOwner retrieves the owner's setup.
	SetupByOwner(ctx context.Context, owner OwnerID) (*GuardianSetup, error)

	// Setups lists all guardian setups, oldest first. Used by the sweeper
	// to find owners due for a check-in reminder.
	Setups(ctx context.Context) ([]*GuardianSetup, error)

	// CreateGuardian persists a newly invited guardian.
	CreateGuardian(ctx context.Context, g *Guardian) error

	// UpdateGuardian overwrites a guardian record.
	UpdateGuardian(ctx context.Context, g *Guardian) error

	// GuardianByID retrieves a guardian.
	GuardianByID(ctx context.Context, id GuardianID) (*Guardian, error)

	// GuardiansByOwner lists all guardians for an owner, in invitation order.
	GuardiansByOwner(ctx context.Context, owner OwnerID) ([]*Guardian, error)

	// CreateRequest persists a new recovery request at version 1.
	CreateRequest(ctx context.Context, req *RecoveryRequest) error

	// RequestByID retrieves a request with its approvals.
	RequestByID(ctx context.Context, id RequestID) (*RecoveryRequest, error)

	// RequestsByOwner lists an owner's requests, newest first.
	RequestsByOwner(ctx context.Context, owner OwnerID) ([]*RecoveryRequest, error)

	// RequestsByStatus lists requests in a given status, oldest first. Backed
	// by a status index; used by the expiry sweeper.
	RequestsByStatus(ctx context.Context, status RequestStatus) ([]*RecoveryRequest, error)

	// UpdateRequest persists the request if the stored version equals
	// expectedVersion and increments the version. Approvals are not written
	// by this method; use AppendApproval.
	UpdateRequest(ctx context.Context, req *RecoveryRequest, expectedVersion uint64) error

	// AppendApproval atomically records an approval and increments the
	// request version. Returns ErrDuplicateApproval if the guardian already
	// approved, ErrVersionConflict if the request moved.
	AppendApproval(ctx context.Context, id RequestID, approval Approval, expectedVersion uint64) error

	// MarkRequestArchived records the archive blob written for a terminal
	// request.
	MarkRequestArchived(ctx context.Context, id RequestID, archive ContentID) error

	// Close releases the underlying database.
	Close() error
}
