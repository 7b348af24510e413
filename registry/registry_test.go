package registry

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
	"github.com/keyhaven/guardian-recovery-backend/notify"
	"github.com/keyhaven/guardian-recovery-backend/storage"
	"github.com/keyhaven/guardian-recovery-backend/verifier"
)

func newTestRegistry(t *testing.T) (*Registry, interfaces.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := NewRegistry(&Config{
		Store:     store,
		Fragments: storage.NewMemoryBackend("test", log),
		Verifier:  verifier.NewDispatch(),
		Notifier:  notify.NewLogNotifier(log),
		Log:       log,
	})
	return reg, store
}

func testParams() SetupParams {
	return SetupParams{
		Contact:          "owner@example.com",
		OwnerKey:         interfaces.VerificationKey{Secret: []byte("owner-dispute-secret")},
		Threshold:        2,
		TotalGuardians:   3,
		RecoveryDelay:    48 * time.Hour,
		InactivityPeriod: 30 * 24 * time.Hour,
		RequestValidity:  7 * 24 * time.Hour,
	}
}

// inviteAndAccept onboards a guardian with a one-time-code key and accepts
// the invitation with a valid proof.
func inviteAndAccept(t *testing.T, reg *Registry, owner interfaces.OwnerID, identity string) *interfaces.Guardian {
	t.Helper()
	ctx := context.Background()
	secret := []byte("code-secret-" + identity)

	guardian, err := reg.Invite(ctx, owner, identity, identity,
		interfaces.VerificationKey{Secret: secret})
	require.NoError(t, err)

	proof := verifier.ComputeCode(secret, interfaces.AcceptChallenge(guardian.ID, owner))
	guardian, err = reg.Accept(ctx, guardian.ID, []byte(proof))
	require.NoError(t, err)
	return guardian
}

func TestOnboardSealsSecret(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()
	secret := []byte("the family vault key")

	setup, err := reg.Onboard(ctx, owner, secret, testParams())
	require.NoError(t, err)
	assert.Len(t, setup.MasterKey, 32)
	assert.EqualValues(t, 1, setup.KeyVersion)
	assert.False(t, setup.SplitDone)
	assert.NotEmpty(t, setup.PendingSecret)
	assert.NotContains(t, string(setup.PendingSecret), "family vault")

	loaded, err := store.SetupByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, setup.PendingSecret, loaded.PendingSecret)
}

func TestOnboardRejectsBadParameters(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Onboard(ctx, interfaces.NewOwnerID(), nil, testParams())
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	params := testParams()
	params.OwnerKey = interfaces.VerificationKey{}
	_, err = reg.Onboard(ctx, interfaces.NewOwnerID(), []byte("secret"), params)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	params = testParams()
	params.Threshold = 5 // exceeds TotalGuardians
	_, err = reg.Onboard(ctx, interfaces.NewOwnerID(), []byte("secret"), params)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

func TestAcceptRequiresValidProof(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()
	_, err := reg.Onboard(ctx, owner, []byte("secret"), testParams())
	require.NoError(t, err)

	guardian, err := reg.Invite(ctx, owner, "alice@example.com", "Alice",
		interfaces.VerificationKey{Secret: []byte("alice-secret")})
	require.NoError(t, err)

	_, err = reg.Accept(ctx, guardian.ID, []byte("not a valid code"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidSignature)

	loaded, err := reg.store.GuardianByID(ctx, guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.GuardianPending, loaded.Status)
}

func TestLazySplitOnFinalAcceptance(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()
	secret := []byte("split me three ways")

	_, err := reg.Onboard(ctx, owner, secret, testParams())
	require.NoError(t, err)

	g1 := inviteAndAccept(t, reg, owner, "alice@example.com")
	g2 := inviteAndAccept(t, reg, owner, "bob@example.com")

	// Two of three accepted: no split yet.
	setup, err := store.SetupByOwner(ctx, owner)
	require.NoError(t, err)
	assert.False(t, setup.SplitDone)
	assert.Nil(t, g1.Fragment)
	assert.Nil(t, g2.Fragment)

	g3 := inviteAndAccept(t, reg, owner, "carol@example.com")

	// Accepting again is an invalid transition.
	proof := verifier.ComputeCode([]byte("code-secret-carol@example.com"),
		interfaces.AcceptChallenge(g3.ID, owner))
	_, err = reg.Accept(ctx, g3.ID, []byte(proof))
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)

	setup, err = store.SetupByOwner(ctx, owner)
	require.NoError(t, err)
	assert.True(t, setup.SplitDone)
	assert.Empty(t, setup.PendingSecret)
	require.NotNil(t, g3.Fragment)
	assert.EqualValues(t, 1, g3.Fragment.KeyVersion)

	// Reconstructing from any threshold-sized subset yields the secret.
	guardians, err := store.GuardiansByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, guardians, 3)
	recovered, err := reg.Reconstruct(ctx, setup, guardians[:2])
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestDecline(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()
	_, err := reg.Onboard(ctx, owner, []byte("secret"), testParams())
	require.NoError(t, err)

	guardian, err := reg.Invite(ctx, owner, "alice@example.com", "Alice",
		interfaces.VerificationKey{Secret: []byte("alice-secret")})
	require.NoError(t, err)

	require.NoError(t, reg.Decline(ctx, guardian.ID))

	loaded, err := reg.store.GuardianByID(ctx, guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.GuardianDeclined, loaded.Status)

	// Declining twice is an invalid transition.
	assert.ErrorIs(t, reg.Decline(ctx, guardian.ID), interfaces.ErrInvalidState)
}

func TestRevokeResplitsUnderNewKeyVersion(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()
	secret := []byte("survives a revocation")

	params := testParams()
	params.Threshold = 2
	params.TotalGuardians = 4
	_, err := reg.Onboard(ctx, owner, secret, params)
	require.NoError(t, err)

	identities := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}
	guardians := make([]*interfaces.Guardian, 0, len(identities))
	for _, id := range identities {
		guardians = append(guardians, inviteAndAccept(t, reg, owner, id))
	}

	revoked := guardians[0]
	require.NoError(t, reg.Revoke(ctx, revoked.ID))

	loaded, err := store.GuardianByID(ctx, revoked.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.GuardianRevoked, loaded.Status)
	assert.Nil(t, loaded.Fragment)

	setup, err := store.SetupByOwner(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 2, setup.KeyVersion)
	assert.Equal(t, 3, setup.TotalGuardians)

	// Survivors hold fragments minted under the new key version, and the
	// secret still reconstructs from them.
	var survivors []*interfaces.Guardian
	all, err := store.GuardiansByOwner(ctx, owner)
	require.NoError(t, err)
	for _, g := range all {
		if g.Accepted() {
			require.NotNil(t, g.Fragment)
			assert.EqualValues(t, 2, g.Fragment.KeyVersion)
			survivors = append(survivors, g)
		}
	}
	require.Len(t, survivors, 3)

	recovered, err := reg.Reconstruct(ctx, setup, survivors[:2])
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
}

func TestRevokeBelowThresholdInvalidatesSetup(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()

	params := testParams()
	params.Threshold = 3
	params.TotalGuardians = 3
	_, err := reg.Onboard(ctx, owner, []byte("secret"), params)
	require.NoError(t, err)

	g1 := inviteAndAccept(t, reg, owner, "a@example.com")
	inviteAndAccept(t, reg, owner, "b@example.com")
	inviteAndAccept(t, reg, owner, "c@example.com")

	err = reg.Revoke(ctx, g1.ID)
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)

	setup, err := store.SetupByOwner(ctx, owner)
	require.NoError(t, err)
	assert.False(t, setup.SplitDone)

	all, err := store.GuardiansByOwner(ctx, owner)
	require.NoError(t, err)
	for _, g := range all {
		assert.Nil(t, g.Fragment)
	}
}

func TestRekey(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	owner := interfaces.NewOwnerID()
	secret := []byte("rekey target")

	_, err := reg.Onboard(ctx, owner, secret, testParams())
	require.NoError(t, err)
	inviteAndAccept(t, reg, owner, "a@example.com")
	inviteAndAccept(t, reg, owner, "b@example.com")
	inviteAndAccept(t, reg, owner, "c@example.com")

	require.NoError(t, reg.Rekey(ctx, owner, 3))

	setup, err := store.SetupByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, setup.Threshold)
	assert.EqualValues(t, 2, setup.KeyVersion)

	all, err := store.GuardiansByOwner(ctx, owner)
	require.NoError(t, err)

	// Two fragments no longer suffice under the new threshold.
	_, err = reg.Reconstruct(ctx, setup, all[:2])
	assert.ErrorIs(t, err, interfaces.ErrInsufficientShares)

	recovered, err := reg.Reconstruct(ctx, setup, all)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	// Re-keying below the minimum or above the accepted count is rejected.
	assert.ErrorIs(t, reg.Rekey(ctx, owner, 1), interfaces.ErrInvalidParameters)
	assert.ErrorIs(t, reg.Rekey(ctx, owner, 4), interfaces.ErrInvalidParameters)
}
