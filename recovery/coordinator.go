package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyhaven/guardian-recovery-backend/activity"
	"github.com/keyhaven/guardian-recovery-backend/cryptoutils"
	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// maxCASRetries bounds the optimistic-concurrency retry loop on request
// mutations. Conflicts are rare; hitting the bound means the request is
// under pathological contention and the caller should retry.
const maxCASRetries = 5

// SecretReconstructor rebuilds the protected secret from guardian fragments.
// Satisfied by registry.Registry.
type SecretReconstructor interface {
	Reconstruct(ctx context.Context, setup *interfaces.GuardianSetup, holders []*interfaces.Guardian) ([]byte, error)
}

// InactivityGate decides whether guardians may initiate recovery for an
// owner. Satisfied by activity.Monitor, which is the sole authority on the
// dead-man's-switch clock.
type InactivityGate interface {
	CanGuardiansInitiate(ctx context.Context, owner interfaces.OwnerID) (bool, error)
}

// Config contains the dependencies for a Coordinator.
type Config struct {
	Store    interfaces.Store
	Secrets  SecretReconstructor
	Verifier interfaces.SignatureVerifier
	Notifier interfaces.Notifier
	Log      *slog.Logger

	// Activity gates request creation on owner inactivity. Defaults to an
	// activity.Monitor over Store.
	Activity InactivityGate

	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time
}

// Coordinator drives recovery requests through their lifecycle: initiation,
// approval collection, dispute, and completion.
type Coordinator struct {
	store    interfaces.Store
	secrets  SecretReconstructor
	verifier interfaces.SignatureVerifier
	notifier interfaces.Notifier
	activity InactivityGate
	log      *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a recovery coordinator.
func NewCoordinator(cfg *Config) *Coordinator {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	gate := cfg.Activity
	if gate == nil {
		gate = activity.NewMonitor(&activity.Config{Store: cfg.Store, Log: log, Clock: now})
	}
	return &Coordinator{
		store:    cfg.Store,
		secrets:  cfg.Secrets,
		verifier: cfg.Verifier,
		notifier: cfg.Notifier,
		activity: gate,
		log:      log,
		now:      now,
	}
}

// Create opens a recovery request on behalf of an accepted guardian. The
// owner must have been silent for at least their configured inactivity
// period, the secret split must have finalized, and no other live request
// may exist for the owner. The request's approval threshold is snapshotted
// from the setup at creation time.
func (c *Coordinator) Create(ctx context.Context, owner interfaces.OwnerID, initiator interfaces.GuardianID) (*interfaces.RecoveryRequest, error) {
	guardian, err := c.requireActingGuardian(ctx, owner, initiator)
	if err != nil {
		return nil, err
	}

	setup, err := c.store.SetupByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !setup.SplitDone {
		return nil, fmt.Errorf("%w: secret split has not finalized", interfaces.ErrInvalidState)
	}

	allowed, err := c.activity.CanGuardiansInitiate(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: last check-in %s, inactivity period is %s",
			interfaces.ErrOwnerActive, setup.LastCheckIn.Format(time.RFC3339), setup.InactivityPeriod)
	}

	now := c.now().UTC()

	if err := c.requireNoLiveRequest(ctx, owner, now); err != nil {
		return nil, err
	}

	req := &interfaces.RecoveryRequest{
		ID:                interfaces.NewRequestID(),
		Owner:             owner,
		Initiator:         initiator,
		Status:            interfaces.RequestPending,
		RequiredApprovals: setup.Threshold,
		InitiatedAt:       now,
		ExpiresAt:         now.Add(setup.RequestValidity),
	}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	c.log.Info("recovery request created",
		slog.String("owner", owner.String()),
		slog.String("request", req.ID.String()),
		slog.String("initiator", initiator.String()),
		slog.Int("requiredApprovals", req.RequiredApprovals))

	c.notify(setup.Contact, interfaces.NotifyRecoveryInitiated,
		fmt.Sprintf("%s initiated recovery of your protected secret. Dispute before %s if this is not authorized.",
			guardian.DisplayName, req.ExpiresAt.Format(time.RFC1123)))
	c.notifyGuardians(ctx, owner, initiator, interfaces.NotifyRecoveryInitiated,
		fmt.Sprintf("%s initiated a recovery request. Your approval is needed.", guardian.DisplayName))

	return req, nil
}

// Approve records a guardian's signed approval on a request. Approvals are
// accepted while the request is pending or disputed; a disputed request
// still records them but can never complete. Each guardian approves at most
// once, enforced atomically by the store.
func (c *Coordinator) Approve(ctx context.Context, requestID interfaces.RequestID, guardianID interfaces.GuardianID, sig []byte) error {
	for attempt := 0; ; attempt++ {
		req, err := c.store.RequestByID(ctx, requestID)
		if err != nil {
			return err
		}

		guardian, err := c.requireActingGuardian(ctx, req.Owner, guardianID)
		if err != nil {
			return err
		}

		switch req.Status {
		case interfaces.RequestPending, interfaces.RequestDisputed:
		case interfaces.RequestCompleted:
			return interfaces.ErrAlreadyCompleted
		default:
			return fmt.Errorf("%w: request is %s", interfaces.ErrInvalidState, req.Status)
		}

		now := c.now().UTC()
		if req.Status == interfaces.RequestPending && req.ExpiredAt(now) {
			return interfaces.ErrRequestExpired
		}
		if req.HasApproval(guardianID) {
			return interfaces.ErrDuplicateApproval
		}

		challenge := interfaces.ApprovalChallenge(req.ID, guardianID)
		if err := c.verifier.Verify(ctx, guardian.Key, challenge, sig); err != nil {
			return err
		}

		approval := interfaces.Approval{
			Guardian:   guardianID,
			ApprovedAt: now,
			Signature:  sig,
		}
		err = c.store.AppendApproval(ctx, requestID, approval, req.Version)
		if errors.Is(err, interfaces.ErrVersionConflict) && attempt < maxCASRetries {
			continue
		}
		if err != nil {
			return err
		}

		guardian.LastVerified = now
		if err := c.store.UpdateGuardian(ctx, guardian); err != nil {
			return err
		}

		c.log.Info("approval recorded",
			slog.String("request", requestID.String()),
			slog.String("guardian", guardianID.String()),
			slog.Int("approvals", len(req.Approvals)+1),
			slog.Int("required", req.RequiredApprovals))

		setup, err := c.store.SetupByOwner(ctx, req.Owner)
		if err == nil {
			c.notify(setup.Contact, interfaces.NotifyApprovalRecorded,
				fmt.Sprintf("%s approved the recovery request (%d of %d).",
					guardian.DisplayName, len(req.Approvals)+1, req.RequiredApprovals))
		}
		return nil
	}
}

// Dispute marks a pending request as disputed on the owner's signed refusal.
// The dispute is permanent: the request can never complete afterwards, even
// if approvals keep arriving. A valid dispute also counts as owner activity
// and refreshes the check-in clock.
func (c *Coordinator) Dispute(ctx context.Context, requestID interfaces.RequestID, reason string, sig []byte) error {
	for attempt := 0; ; attempt++ {
		req, err := c.store.RequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		switch req.Status {
		case interfaces.RequestPending:
		case interfaces.RequestCompleted:
			return interfaces.ErrAlreadyCompleted
		default:
			return fmt.Errorf("%w: request is %s", interfaces.ErrInvalidState, req.Status)
		}

		setup, err := c.store.SetupByOwner(ctx, req.Owner)
		if err != nil {
			return err
		}

		challenge := interfaces.DisputeChallenge(req.ID, req.Owner, reason)
		if err := c.verifier.Verify(ctx, setup.OwnerKey, challenge, sig); err != nil {
			return err
		}

		now := c.now().UTC()
		req.Status = interfaces.RequestDisputed
		req.DisputedBy = setup.Contact
		req.DisputeReason = reason

		err = c.store.UpdateRequest(ctx, req, req.Version)
		if errors.Is(err, interfaces.ErrVersionConflict) && attempt < maxCASRetries {
			continue
		}
		if err != nil {
			return err
		}

		// A signed dispute is proof of life.
		setup.LastCheckIn = now
		if err := c.store.UpdateSetup(ctx, setup); err != nil {
			return err
		}

		c.log.Info("recovery request disputed",
			slog.String("owner", req.Owner.String()),
			slog.String("request", requestID.String()))

		c.notifyGuardians(ctx, req.Owner, "", interfaces.NotifyRecoveryDisputed,
			fmt.Sprintf("The owner disputed the recovery request: %s", reason))
		return nil
	}
}

// Complete finishes a recovery request and returns the reconstructed secret.
// It requires threshold approvals, an elapsed recovery delay, and a request
// that is still within its validity window and undisputed. The pending to
// completed transition is a compare-and-swap, so a dispute racing a
// completion wins: if the request moved, Complete re-reads and re-validates
// rather than overwriting. The caller owns the returned secret and must
// wipe it after use.
func (c *Coordinator) Complete(ctx context.Context, requestID interfaces.RequestID) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := c.store.RequestByID(ctx, requestID)
		if err != nil {
			return nil, err
		}

		switch req.Status {
		case interfaces.RequestPending:
		case interfaces.RequestDisputed:
			return nil, interfaces.ErrRequestDisputed
		case interfaces.RequestCompleted:
			return nil, interfaces.ErrAlreadyCompleted
		default:
			return nil, fmt.Errorf("%w: request is %s", interfaces.ErrInvalidState, req.Status)
		}

		now := c.now().UTC()
		if req.ExpiredAt(now) {
			return nil, interfaces.ErrRequestExpired
		}

		// Only approvals from guardians still accepted count; a revocation
		// after approving takes the vote with it.
		approvers, err := c.approvingGuardians(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(approvers) < req.RequiredApprovals {
			return nil, fmt.Errorf("%w: have %d, need %d",
				interfaces.ErrInsufficientApprovals, len(approvers), req.RequiredApprovals)
		}

		setup, err := c.store.SetupByOwner(ctx, req.Owner)
		if err != nil {
			return nil, err
		}
		unlockAt := req.InitiatedAt.Add(setup.RecoveryDelay)
		if now.Before(unlockAt) {
			return nil, fmt.Errorf("%w: locked until %s",
				interfaces.ErrDelayNotElapsed, unlockAt.Format(time.RFC3339))
		}

		secret, err := c.secrets.Reconstruct(ctx, setup, approvers)
		if err != nil {
			return nil, err
		}

		req.Status = interfaces.RequestCompleted
		req.CompletedAt = now
		err = c.store.UpdateRequest(ctx, req, req.Version)
		if errors.Is(err, interfaces.ErrVersionConflict) && attempt < maxCASRetries {
			// The request moved under us, possibly to disputed. Drop the
			// secret and re-validate from scratch.
			cryptoutils.WipeBytes(secret)
			continue
		}
		if err != nil {
			cryptoutils.WipeBytes(secret)
			return nil, err
		}

		c.log.Info("recovery request completed",
			slog.String("owner", req.Owner.String()),
			slog.String("request", requestID.String()),
			slog.Int("approvals", len(req.Approvals)))

		c.notify(setup.Contact, interfaces.NotifyRecoveryCompleted,
			"Your protected secret was reconstructed by your guardians.")
		return secret, nil
	}
}

// Cancel withdraws a pending request. Only the initiating guardian may
// cancel; cancellation is terminal.
func (c *Coordinator) Cancel(ctx context.Context, requestID interfaces.RequestID, guardianID interfaces.GuardianID) error {
	for attempt := 0; ; attempt++ {
		req, err := c.store.RequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != interfaces.RequestPending {
			return fmt.Errorf("%w: request is %s", interfaces.ErrInvalidState, req.Status)
		}
		if req.Initiator != guardianID {
			return fmt.Errorf("%w: only the initiator may cancel", interfaces.ErrInvalidState)
		}

		req.Status = interfaces.RequestCancelled
		err = c.store.UpdateRequest(ctx, req, req.Version)
		if errors.Is(err, interfaces.ErrVersionConflict) && attempt < maxCASRetries {
			continue
		}
		if err != nil {
			return err
		}

		c.log.Info("recovery request cancelled",
			slog.String("request", requestID.String()),
			slog.String("guardian", guardianID.String()))
		return nil
	}
}

// Request returns a recovery request with its approvals.
func (c *Coordinator) Request(ctx context.Context, requestID interfaces.RequestID) (*interfaces.RecoveryRequest, error) {
	return c.store.RequestByID(ctx, requestID)
}

// requireActingGuardian loads a guardian and checks it may act for the owner.
func (c *Coordinator) requireActingGuardian(ctx context.Context, owner interfaces.OwnerID, id interfaces.GuardianID) (*interfaces.Guardian, error) {
	guardian, err := c.store.GuardianByID(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, interfaces.ErrUnknownGuardian
		}
		return nil, err
	}
	if guardian.Owner != owner {
		return nil, fmt.Errorf("%w: guardian belongs to a different owner", interfaces.ErrUnknownGuardian)
	}
	switch guardian.Status {
	case interfaces.GuardianAccepted:
		return guardian, nil
	case interfaces.GuardianRevoked:
		return nil, interfaces.ErrGuardianRevoked
	default:
		return nil, fmt.Errorf("%w: guardian is %s", interfaces.ErrInvalidState, guardian.Status)
	}
}

// requireNoLiveRequest rejects creation while another request for the owner
// is still pending and unexpired, or disputed.
func (c *Coordinator) requireNoLiveRequest(ctx context.Context, owner interfaces.OwnerID, now time.Time) error {
	existing, err := c.store.RequestsByOwner(ctx, owner)
	if err != nil {
		return err
	}
	for _, req := range existing {
		switch req.Status {
		case interfaces.RequestPending:
			if !req.ExpiredAt(now) {
				return fmt.Errorf("%w: request %s is already pending", interfaces.ErrInvalidState, req.ID)
			}
		case interfaces.RequestDisputed:
			return fmt.Errorf("%w: request %s was disputed by the owner", interfaces.ErrInvalidState, req.ID)
		}
	}
	return nil
}

// approvingGuardians resolves the guardian records behind a request's
// approvals, skipping any revoked since they approved.
func (c *Coordinator) approvingGuardians(ctx context.Context, req *interfaces.RecoveryRequest) ([]*interfaces.Guardian, error) {
	guardians := make([]*interfaces.Guardian, 0, len(req.Approvals))
	for _, approval := range req.Approvals {
		guardian, err := c.store.GuardianByID(ctx, approval.Guardian)
		if err != nil {
			return nil, err
		}
		if guardian.Accepted() {
			guardians = append(guardians, guardian)
		}
	}
	return guardians, nil
}

// notifyGuardians fans a notification out to the owner's accepted guardians,
// optionally skipping one.
func (c *Coordinator) notifyGuardians(ctx context.Context, owner interfaces.OwnerID, skip interfaces.GuardianID, kind interfaces.NotificationKind, message string) {
	guardians, err := c.store.GuardiansByOwner(ctx, owner)
	if err != nil {
		c.log.Warn("failed to list guardians for notification", "err", err)
		return
	}
	for _, guardian := range guardians {
		if !guardian.Accepted() || guardian.ID == skip {
			continue
		}
		c.notify(guardian.Identity, kind, message)
	}
}

// notify delivers a notification fire-and-forget.
func (c *Coordinator) notify(identity string, kind interfaces.NotificationKind, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.notifier.Notify(ctx, identity, kind, message); err != nil {
			c.log.Warn("notification failed",
				slog.String("identity", identity),
				slog.String("kind", string(kind)),
				"err", err)
		}
	}()
}
