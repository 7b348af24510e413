package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyhaven/guardian-recovery-backend/cryptoutils"
	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// pendingSecretContext is the reserved derivation identity sealing the
// protected secret between onboarding and split finalization.
const pendingSecretContext = "setup/pending-secret"

// Config contains the dependencies for a Registry.
type Config struct {
	// Store persists setups and guardians.
	Store interfaces.Store

	// Fragments holds sealed fragment envelopes.
	Fragments interfaces.StorageBackend

	// Verifier checks invitation acceptance proofs.
	Verifier interfaces.SignatureVerifier

	// Notifier delivers best-effort lifecycle notifications.
	Notifier interfaces.Notifier

	// Log receives registry events.
	Log *slog.Logger

	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time
}

// Registry manages guardian sets: onboarding, invitations, fragment
// distribution, revocation, and re-keying.
type Registry struct {
	store     interfaces.Store
	fragments interfaces.StorageBackend
	verifier  interfaces.SignatureVerifier
	notifier  interfaces.Notifier
	log       *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a guardian registry.
func NewRegistry(cfg *Config) *Registry {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store:     cfg.Store,
		fragments: cfg.Fragments,
		verifier:  cfg.Verifier,
		notifier:  cfg.Notifier,
		log:       log,
		now:       now,
	}
}

// SetupParams are the owner's protection parameters at onboarding.
type SetupParams struct {
	// Contact is the owner's notification identity.
	Contact string

	// OwnerKey verifies the owner's dispute signatures.
	OwnerKey interfaces.VerificationKey

	// Threshold is the number of fragments required to reconstruct (K).
	Threshold int

	// TotalGuardians is the number of fragments to distribute (N).
	TotalGuardians int

	// RecoveryDelay is the mandatory time lock on recovery completion.
	RecoveryDelay time.Duration

	// InactivityPeriod is the owner silence required before guardians may
	// initiate recovery.
	InactivityPeriod time.Duration

	// RequestValidity is the validity window of a recovery request.
	RequestValidity time.Duration
}

// Onboard creates the owner's guardian setup and seals the protected secret.
// The secret is encrypted under a passphrase derived from a fresh master key
// before it is persisted; it rests in plaintext nowhere. The split happens
// later, lazily, once all guardians have accepted.
func (r *Registry) Onboard(ctx context.Context, owner interfaces.OwnerID, secret []byte, params SetupParams) (*interfaces.GuardianSetup, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", interfaces.ErrInvalidParameters)
	}
	if params.OwnerKey.IsZero() {
		return nil, fmt.Errorf("%w: owner verification key is required", interfaces.ErrInvalidParameters)
	}

	masterKey, err := cryptoutils.GenerateMasterKey()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	setup := &interfaces.GuardianSetup{
		Owner:            owner,
		Contact:          params.Contact,
		OwnerKey:         params.OwnerKey,
		Threshold:        params.Threshold,
		TotalGuardians:   params.TotalGuardians,
		RecoveryDelay:    params.RecoveryDelay,
		InactivityPeriod: params.InactivityPeriod,
		RequestValidity:  params.RequestValidity,
		LastCheckIn:      now,
		MasterKey:        masterKey,
		KeyVersion:       1,
		CreatedAt:        now,
	}
	if err := setup.Validate(); err != nil {
		return nil, err
	}

	sealed, err := cryptoutils.Encrypt(secret, cryptoutils.DerivePassphrase(masterKey, pendingSecretContext, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to seal pending secret: %w", err)
	}
	setup.PendingSecret, err = sealed.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending secret: %w", err)
	}

	if err := r.store.CreateSetup(ctx, setup); err != nil {
		return nil, err
	}

	r.log.Info("guardian setup onboarded",
		slog.String("owner", owner.String()),
		slog.Int("threshold", setup.Threshold),
		slog.Int("totalGuardians", setup.TotalGuardians))

	return setup, nil
}

// Invite creates a pending guardian and notifies them. The verification key
// is how the guardian will later prove identity on acceptance and approval.
func (r *Registry) Invite(ctx context.Context, owner interfaces.OwnerID, identity, displayName string, key interfaces.VerificationKey) (*interfaces.Guardian, error) {
	setup, err := r.store.SetupByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if key.IsZero() {
		return nil, fmt.Errorf("%w: guardian verification key is required", interfaces.ErrInvalidParameters)
	}

	guardian := &interfaces.Guardian{
		ID:          interfaces.NewGuardianID(),
		Owner:       owner,
		Identity:    identity,
		DisplayName: displayName,
		Status:      interfaces.GuardianPending,
		Key:         key,
		AddedAt:     r.now().UTC(),
	}

	if err := r.store.CreateGuardian(ctx, guardian); err != nil {
		return nil, err
	}

	r.log.Info("guardian invited",
		slog.String("owner", owner.String()),
		slog.String("guardian", guardian.ID.String()))

	r.notify(identity, interfaces.NotifyGuardianInvited,
		fmt.Sprintf("%s invited you as a recovery guardian.", setup.Contact))

	return guardian, nil
}

// Accept transitions a pending guardian to accepted after verifying the
// acceptance proof. On the final acceptance, when every configured guardian
// slot is filled, the protected secret is split exactly once and one
// encrypted fragment is assigned to each guardian.
func (r *Registry) Accept(ctx context.Context, guardianID interfaces.GuardianID, proof []byte) (*interfaces.Guardian, error) {
	guardian, err := r.store.GuardianByID(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	if guardian.Status != interfaces.GuardianPending {
		return nil, fmt.Errorf("%w: guardian is %s, not pending", interfaces.ErrInvalidState, guardian.Status)
	}

	challenge := interfaces.AcceptChallenge(guardian.ID, guardian.Owner)
	if err := r.verifier.Verify(ctx, guardian.Key, challenge, proof); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	guardian.Status = interfaces.GuardianAccepted
	guardian.AcceptedAt = now
	guardian.LastVerified = now
	if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
		return nil, err
	}

	setup, err := r.store.SetupByOwner(ctx, guardian.Owner)
	if err != nil {
		return nil, err
	}

	r.log.Info("guardian accepted",
		slog.String("owner", guardian.Owner.String()),
		slog.String("guardian", guardian.ID.String()))
	r.notify(setup.Contact, interfaces.NotifyGuardianAccepted,
		fmt.Sprintf("%s accepted their guardian invitation.", guardian.DisplayName))

	if !setup.SplitDone {
		accepted, err := r.acceptedGuardians(ctx, guardian.Owner)
		if err != nil {
			return nil, err
		}
		if len(accepted) >= setup.TotalGuardians {
			if err := r.finalizeSplit(ctx, setup, accepted); err != nil {
				return nil, err
			}
		}
	}

	// Re-read so the caller sees the assigned fragment, if any.
	return r.store.GuardianByID(ctx, guardianID)
}

// Decline transitions a pending guardian to declined.
func (r *Registry) Decline(ctx context.Context, guardianID interfaces.GuardianID) error {
	guardian, err := r.store.GuardianByID(ctx, guardianID)
	if err != nil {
		return err
	}
	if guardian.Status != interfaces.GuardianPending {
		return fmt.Errorf("%w: guardian is %s, not pending", interfaces.ErrInvalidState, guardian.Status)
	}

	guardian.Status = interfaces.GuardianDeclined
	if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
		return err
	}

	r.log.Info("guardian declined",
		slog.String("owner", guardian.Owner.String()),
		slog.String("guardian", guardian.ID.String()))
	return nil
}

// Revoke removes a guardian from the set. Their fragment reference is
// discarded and, if the split had finalized, the secret is re-split with
// fresh shares to the remaining accepted guardians under a bumped key
// version, so nothing the revoked guardian retained stays usable.
//
// If fewer accepted guardians than the threshold survive, every fragment is
// invalidated and the setup requires re-onboarding; this is reported as
// ErrInvalidState after the revocation itself has been applied.
func (r *Registry) Revoke(ctx context.Context, guardianID interfaces.GuardianID) error {
	guardian, err := r.store.GuardianByID(ctx, guardianID)
	if err != nil {
		return err
	}
	if guardian.Status == interfaces.GuardianRevoked {
		return fmt.Errorf("%w: guardian already revoked", interfaces.ErrInvalidState)
	}

	setup, err := r.store.SetupByOwner(ctx, guardian.Owner)
	if err != nil {
		return err
	}

	heldFragment := guardian.Status == interfaces.GuardianAccepted && guardian.Fragment != nil

	guardian.Status = interfaces.GuardianRevoked
	guardian.Fragment = nil
	if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
		return err
	}

	r.log.Info("guardian revoked",
		slog.String("owner", guardian.Owner.String()),
		slog.String("guardian", guardian.ID.String()))
	r.notify(guardian.Identity, interfaces.NotifyGuardianRevoked,
		"You were removed from a recovery guardian set.")

	if !setup.SplitDone || !heldFragment {
		return nil
	}

	survivors, err := r.acceptedGuardians(ctx, guardian.Owner)
	if err != nil {
		return err
	}

	if len(survivors) < setup.Threshold {
		// Not enough holders left to ever reconstruct. Invalidate everything
		// rather than leave fragments around that can no longer serve a
		// recovery but could still leak share material.
		if err := r.discardFragments(ctx, setup, survivors); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d accepted guardians remain, threshold is %d; setup requires re-onboarding",
			interfaces.ErrInvalidState, len(survivors), setup.Threshold)
	}

	secret, err := r.Reconstruct(ctx, setup, survivors)
	if err != nil {
		return fmt.Errorf("re-split after revocation: %w", err)
	}
	defer cryptoutils.WipeBytes(secret)

	setup.KeyVersion++
	setup.TotalGuardians = len(survivors)
	if err := r.distribute(ctx, setup, survivors, secret); err != nil {
		return err
	}
	return r.store.UpdateSetup(ctx, setup)
}

// Rekey changes the owner's threshold. The secret is reconstructed from the
// current fragments, re-split under the new threshold, and redistributed to
// the accepted guardians under a bumped key version, invalidating all prior
// fragments.
func (r *Registry) Rekey(ctx context.Context, owner interfaces.OwnerID, newThreshold int) error {
	setup, err := r.store.SetupByOwner(ctx, owner)
	if err != nil {
		return err
	}
	if !setup.SplitDone {
		return fmt.Errorf("%w: split has not finalized, nothing to re-key", interfaces.ErrInvalidState)
	}

	accepted, err := r.acceptedGuardians(ctx, owner)
	if err != nil {
		return err
	}
	if newThreshold < 2 {
		return fmt.Errorf("%w: threshold must be at least 2, got %d", interfaces.ErrInvalidParameters, newThreshold)
	}
	if newThreshold > len(accepted) {
		return fmt.Errorf("%w: threshold %d exceeds %d accepted guardians", interfaces.ErrInvalidParameters, newThreshold, len(accepted))
	}

	secret, err := r.Reconstruct(ctx, setup, accepted)
	if err != nil {
		return fmt.Errorf("re-key: %w", err)
	}
	defer cryptoutils.WipeBytes(secret)

	setup.Threshold = newThreshold
	setup.TotalGuardians = len(accepted)
	setup.KeyVersion++
	if err := r.distribute(ctx, setup, accepted, secret); err != nil {
		return err
	}
	if err := r.store.UpdateSetup(ctx, setup); err != nil {
		return err
	}

	r.log.Info("guardian setup re-keyed",
		slog.String("owner", owner.String()),
		slog.Int("threshold", newThreshold),
		slog.Uint64("keyVersion", setup.KeyVersion))
	return nil
}

// Reconstruct rebuilds the protected secret from the fragments held by the
// given guardians. Only fragments minted under the setup's current key
// version participate; stale fragments from before a re-split never count.
// Fragment decryption runs concurrently since key derivation is slow by
// design. The caller owns the returned secret and must wipe it.
func (r *Registry) Reconstruct(ctx context.Context, setup *interfaces.GuardianSetup, holders []*interfaces.Guardian) ([]byte, error) {
	var current []*interfaces.Guardian
	for _, holder := range holders {
		if holder.Fragment != nil && holder.Fragment.KeyVersion == setup.KeyVersion {
			current = append(current, holder)
		}
	}
	if len(current) < setup.Threshold {
		return nil, fmt.Errorf("%w: %d fragments at current key version, need %d",
			interfaces.ErrInsufficientShares, len(current), setup.Threshold)
	}

	shares := make([][]byte, len(current))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, holder := range current {
		eg.Go(func() error {
			share, err := r.openFragment(egCtx, setup, holder)
			if err != nil {
				return err
			}
			shares[i] = share
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, share := range shares {
			cryptoutils.WipeBytes(share)
		}
		return nil, err
	}

	secret, err := cryptoutils.Combine(shares, setup.Threshold)
	for _, share := range shares {
		cryptoutils.WipeBytes(share)
	}
	if err != nil {
		r.log.Error("fragment set failed to recombine; stored material may be corrupted",
			slog.String("owner", setup.Owner.String()),
			"err", err)
		return nil, err
	}
	return secret, nil
}

// openFragment fetches and decrypts one guardian's fragment.
func (r *Registry) openFragment(ctx context.Context, setup *interfaces.GuardianSetup, guardian *interfaces.Guardian) ([]byte, error) {
	data, err := r.fragments.Fetch(ctx, guardian.Fragment.VaultID, interfaces.FragmentType)
	if err != nil {
		return nil, fmt.Errorf("fetch fragment for guardian %s: %w", guardian.ID, err)
	}

	envelope, err := interfaces.FragmentEnvelopeFromBytes(data)
	if err != nil {
		return nil, err
	}

	passphrase := cryptoutils.DerivePassphrase(setup.MasterKey, guardian.Identity, envelope.Index)
	share, err := cryptoutils.Decrypt(&cryptoutils.Sealed{
		Ciphertext: envelope.Ciphertext,
		IV:         envelope.IV,
		Salt:       envelope.Salt,
	}, passphrase)
	if err != nil {
		r.log.Error("fragment failed to decrypt; stored material may be corrupted",
			slog.String("guardian", guardian.ID.String()),
			"err", err)
		return nil, err
	}
	return share, nil
}

// finalizeSplit performs the one-time lazy split on the final acceptance:
// open the sealed pending secret, split it, assign one encrypted fragment
// per accepted guardian, and delete the pending secret.
func (r *Registry) finalizeSplit(ctx context.Context, setup *interfaces.GuardianSetup, accepted []*interfaces.Guardian) error {
	sealed, err := cryptoutils.SealedFromBytes(setup.PendingSecret)
	if err != nil {
		return err
	}
	secret, err := cryptoutils.Decrypt(sealed, cryptoutils.DerivePassphrase(setup.MasterKey, pendingSecretContext, 0))
	if err != nil {
		r.log.Error("pending secret failed to open; stored material may be corrupted",
			slog.String("owner", setup.Owner.String()),
			"err", err)
		return err
	}
	defer cryptoutils.WipeBytes(secret)

	if err := r.distribute(ctx, setup, accepted, secret); err != nil {
		return err
	}

	setup.SplitDone = true
	setup.PendingSecret = nil
	if err := r.store.UpdateSetup(ctx, setup); err != nil {
		return err
	}

	r.log.Info("secret split finalized",
		slog.String("owner", setup.Owner.String()),
		slog.Int("fragments", len(accepted)))
	return nil
}

// distribute splits the secret and assigns one encrypted fragment per
// guardian. Encryption and storage run concurrently per fragment; guardian
// records are updated only after every envelope landed.
func (r *Registry) distribute(ctx context.Context, setup *interfaces.GuardianSetup, guardians []*interfaces.Guardian, secret []byte) error {
	splitter, err := cryptoutils.NewSplitter(setup.Threshold, len(guardians))
	if err != nil {
		return err
	}
	shares, err := splitter.Split(secret)
	if err != nil {
		return err
	}
	defer func() {
		for _, share := range shares {
			cryptoutils.WipeBytes(share)
		}
	}()

	refs := make([]*interfaces.FragmentRef, len(guardians))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, guardian := range guardians {
		eg.Go(func() error {
			passphrase := cryptoutils.DerivePassphrase(setup.MasterKey, guardian.Identity, i)
			sealed, err := cryptoutils.Encrypt(shares[i], passphrase)
			if err != nil {
				return fmt.Errorf("seal fragment for guardian %s: %w", guardian.ID, err)
			}

			envelope := &interfaces.FragmentEnvelope{
				Guardian:   guardian.ID,
				Index:      i,
				KeyVersion: setup.KeyVersion,
				Ciphertext: sealed.Ciphertext,
				IV:         sealed.IV,
				Salt:       sealed.Salt,
			}
			data, err := envelope.Marshal()
			if err != nil {
				return err
			}

			id, err := r.fragments.Store(egCtx, data, interfaces.FragmentType)
			if err != nil {
				return fmt.Errorf("store fragment for guardian %s: %w", guardian.ID, err)
			}

			refs[i] = &interfaces.FragmentRef{Index: i, KeyVersion: setup.KeyVersion, VaultID: id}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, guardian := range guardians {
		guardian.Fragment = refs[i]
		if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
			return err
		}
	}
	return nil
}

// discardFragments invalidates every remaining fragment and resets the
// split, leaving the setup in need of re-onboarding.
func (r *Registry) discardFragments(ctx context.Context, setup *interfaces.GuardianSetup, guardians []*interfaces.Guardian) error {
	var errs []error
	for _, guardian := range guardians {
		if guardian.Fragment == nil {
			continue
		}
		guardian.Fragment = nil
		if err := r.store.UpdateGuardian(ctx, guardian); err != nil {
			errs = append(errs, err)
		}
	}

	setup.SplitDone = false
	setup.KeyVersion++
	if err := r.store.UpdateSetup(ctx, setup); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// acceptedGuardians lists the owner's currently accepted guardians.
func (r *Registry) acceptedGuardians(ctx context.Context, owner interfaces.OwnerID) ([]*interfaces.Guardian, error) {
	all, err := r.store.GuardiansByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	var accepted []*interfaces.Guardian
	for _, g := range all {
		if g.Accepted() {
			accepted = append(accepted, g)
		}
	}
	return accepted, nil
}

// notify delivers a notification fire-and-forget. Delivery failures are
// logged and never influence the caller's state transition.
func (r *Registry) notify(identity string, kind interfaces.NotificationKind, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.notifier.Notify(ctx, identity, kind, message); err != nil {
			r.log.Warn("notification failed",
				slog.String("identity", identity),
				slog.String("kind", string(kind)),
				"err", err)
		}
	}()
}
