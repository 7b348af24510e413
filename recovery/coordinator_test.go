package recovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/guardian-recovery-backend/activity"
	"github.com/keyhaven/guardian-recovery-backend/interfaces"
	"github.com/keyhaven/guardian-recovery-backend/notify"
	"github.com/keyhaven/guardian-recovery-backend/registry"
	"github.com/keyhaven/guardian-recovery-backend/storage"
	"github.com/keyhaven/guardian-recovery-backend/verifier"
)

// testClock is a mutable time source shared by every component under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store   interfaces.Store
	reg     *registry.Registry
	coord   *Coordinator
	monitor *activity.Monitor
	sweeper *Sweeper
	clock   *testClock

	owner       interfaces.OwnerID
	ownerSecret []byte
	guardians   []*interfaces.Guardian
	secrets     map[interfaces.GuardianID][]byte // per-guardian code secrets
}

// newTestEnv onboards a 2-of-3 setup with all guardians accepted, so the
// split has finalized and recovery can be exercised.
func newTestEnv(t *testing.T, secret []byte) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newTestClock()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fragments := storage.NewMemoryBackend("fragments", log)
	dispatch := verifier.NewDispatch()
	notifier := notify.NewLogNotifier(log)

	reg := registry.NewRegistry(&registry.Config{
		Store:     store,
		Fragments: fragments,
		Verifier:  dispatch,
		Notifier:  notifier,
		Log:       log,
		Clock:     clock.Now,
	})

	env := &testEnv{
		store:       store,
		reg:         reg,
		clock:       clock,
		owner:       interfaces.NewOwnerID(),
		ownerSecret: []byte("owner-dispute-secret"),
		secrets:     make(map[interfaces.GuardianID][]byte),
	}

	_, err = reg.Onboard(ctx, env.owner, secret, registry.SetupParams{
		Contact:          "owner@example.com",
		OwnerKey:         interfaces.VerificationKey{Secret: env.ownerSecret},
		Threshold:        2,
		TotalGuardians:   3,
		RecoveryDelay:    48 * time.Hour,
		InactivityPeriod: 30 * 24 * time.Hour,
		RequestValidity:  7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		identity := fmt.Sprintf("guardian%d@example.com", i)
		codeSecret := []byte("code-" + identity)
		guardian, err := reg.Invite(ctx, env.owner, identity, identity,
			interfaces.VerificationKey{Secret: codeSecret})
		require.NoError(t, err)
		env.secrets[guardian.ID] = codeSecret

		proof := verifier.ComputeCode(codeSecret, interfaces.AcceptChallenge(guardian.ID, env.owner))
		guardian, err = reg.Accept(ctx, guardian.ID, []byte(proof))
		require.NoError(t, err)
		env.guardians = append(env.guardians, guardian)
	}

	archive := storage.NewMemoryBackend("archive", log)
	env.monitor = activity.NewMonitor(&activity.Config{Store: store, Log: log, Clock: clock.Now})
	env.coord = NewCoordinator(&Config{
		Store:    store,
		Secrets:  reg,
		Verifier: dispatch,
		Notifier: notifier,
		Activity: env.monitor,
		Log:      log,
		Clock:    clock.Now,
	})
	env.sweeper = NewSweeper(&SweeperConfig{
		Store:    store,
		Archive:  archive,
		Notifier: notifier,
		Log:      log,
		Clock:    clock.Now,
	})
	return env
}

func (env *testEnv) approve(t *testing.T, req interfaces.RequestID, guardian *interfaces.Guardian) error {
	t.Helper()
	proof := verifier.ComputeCode(env.secrets[guardian.ID], interfaces.ApprovalChallenge(req, guardian.ID))
	return env.coord.Approve(context.Background(), req, guardian.ID, []byte(proof))
}

func (env *testEnv) dispute(t *testing.T, req interfaces.RequestID, reason string) error {
	t.Helper()
	proof := verifier.ComputeCode(env.ownerSecret, interfaces.DisputeChallenge(req, env.owner, reason))
	return env.coord.Dispute(context.Background(), req, reason, []byte(proof))
}

// The happy path: owner goes silent, a guardian initiates, two of three
// approve, the delay elapses, and completion yields the original secret.
func TestRecoveryEndToEnd(t *testing.T) {
	secret := []byte("estate master passphrase")
	env := newTestEnv(t, secret)
	ctx := context.Background()

	// Owner still active: initiation is refused.
	_, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	assert.ErrorIs(t, err, interfaces.ErrOwnerActive)

	env.clock.Advance(31 * 24 * time.Hour)

	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, req.RequiredApprovals)

	// Completion is blocked until approvals and the delay are in.
	_, err = env.coord.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientApprovals)

	require.NoError(t, env.approve(t, req.ID, env.guardians[0]))
	require.NoError(t, env.approve(t, req.ID, env.guardians[1]))

	_, err = env.coord.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, interfaces.ErrDelayNotElapsed)

	env.clock.Advance(49 * time.Hour)

	recovered, err := env.coord.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)

	// Completing again reports the terminal state.
	_, err = env.coord.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)
}

// The owner returns and disputes: the request is permanently blocked, later
// approvals still record, and the dispute refreshes the check-in clock.
func TestDisputeBlocksCompletion(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)
	require.NoError(t, env.approve(t, req.ID, env.guardians[0]))

	require.NoError(t, env.dispute(t, req.ID, "I am alive"))

	// Approvals still record on a disputed request.
	require.NoError(t, env.approve(t, req.ID, env.guardians[1]))

	env.clock.Advance(49 * time.Hour)
	_, err = env.coord.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, interfaces.ErrRequestDisputed)

	loaded, err := env.coord.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestDisputed, loaded.Status)
	assert.Equal(t, "I am alive", loaded.DisputeReason)
	assert.Len(t, loaded.Approvals, 2)

	// The signed dispute counted as owner activity.
	setup, err := env.store.SetupByOwner(ctx, env.owner)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(-49*time.Hour).UTC(), setup.LastCheckIn)

	// No new request can be created while the dispute stands.
	_, err = env.coord.Create(ctx, env.owner, env.guardians[1].ID)
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
}

// The monitor is the sole authority on the initiation gate: a check-in
// through it closes the gate for Create, and renewed silence reopens it.
func TestCheckInClosesInitiationGate(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	_, err := env.monitor.CheckIn(ctx, env.owner)
	require.NoError(t, err)

	_, err = env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	assert.ErrorIs(t, err, interfaces.ErrOwnerActive)

	env.clock.Advance(30 * 24 * time.Hour)
	_, err = env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)
}

func TestApproveRejectsBadActors(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)

	// Wrong signature.
	err = env.coord.Approve(ctx, req.ID, env.guardians[0].ID, []byte("bogus"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidSignature)

	// Unknown guardian.
	err = env.coord.Approve(ctx, req.ID, interfaces.NewGuardianID(), []byte("bogus"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownGuardian)

	// Duplicate approval.
	require.NoError(t, env.approve(t, req.ID, env.guardians[0]))
	err = env.approve(t, req.ID, env.guardians[0])
	assert.ErrorIs(t, err, interfaces.ErrDuplicateApproval)

	// Revoked guardian. Two survivors remain, still meeting the threshold,
	// so revocation re-splits instead of invalidating the setup.
	require.NoError(t, env.reg.Revoke(ctx, env.guardians[2].ID))
	err = env.approve(t, req.ID, env.guardians[2])
	assert.ErrorIs(t, err, interfaces.ErrGuardianRevoked)
}

func TestConcurrentApprovalsAllRecord(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, len(env.guardians))
	for i, guardian := range env.guardians {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.approve(t, req.ID, guardian)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	loaded, err := env.coord.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Approvals, 3)
}

func TestConcurrentDuplicateApprovalOneWins(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.approve(t, req.ID, env.guardians[0])
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, interfaces.ErrDuplicateApproval)
		}
	}
	assert.Equal(t, 1, succeeded)

	loaded, err := env.coord.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Approvals, 1)
}

func TestCancelOnlyByInitiator(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)

	err = env.coord.Cancel(ctx, req.ID, env.guardians[1].ID)
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)

	require.NoError(t, env.coord.Cancel(ctx, req.ID, env.guardians[0].ID))

	loaded, err := env.coord.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestCancelled, loaded.Status)

	// A cancelled request frees the owner for a fresh one.
	_, err = env.coord.Create(ctx, env.owner, env.guardians[1].ID)
	require.NoError(t, err)
}

func TestSweeperExpiresAndArchives(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)

	// Not yet expired: the sweeper leaves it alone.
	env.sweeper.Sweep(ctx)
	loaded, err := env.coord.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestPending, loaded.Status)

	env.clock.Advance(8 * 24 * time.Hour)
	env.sweeper.Sweep(ctx)

	loaded, err = env.coord.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestCancelled, loaded.Status)
	assert.True(t, loaded.Archived())

	// Approving an expired, cancelled request fails.
	err = env.approve(t, req.ID, env.guardians[1])
	assert.ErrorIs(t, err, interfaces.ErrInvalidState)
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []interfaces.NotificationKind
}

func (r *recordingNotifier) Notify(ctx context.Context, identity string, kind interfaces.NotificationKind, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *recordingNotifier) count(kind interfaces.NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// Concurrent sweeps deliver at most one check-in reminder per owner within
// the repeat window.
func TestSweeperReminderDedupUnderConcurrentSweeps(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	recorder := &recordingNotifier{}
	sweeper := NewSweeper(&SweeperConfig{
		Store:    env.store,
		Archive:  storage.NewMemoryBackend("archive", log),
		Notifier: recorder,
		Log:      log,
		Clock:    env.clock.Now,
	})

	// Most of the inactivity period has elapsed; the owner is due a reminder.
	env.clock.Advance(29 * 24 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Sweep(ctx)
		}()
	}
	wg.Wait()
	sweeper.Sweep(ctx)

	assert.Equal(t, 1, recorder.count(interfaces.NotifyCheckInReminder))
}

func TestCompleteExpiredRequest(t *testing.T) {
	env := newTestEnv(t, []byte("secret"))
	ctx := context.Background()

	env.clock.Advance(31 * 24 * time.Hour)
	req, err := env.coord.Create(ctx, env.owner, env.guardians[0].ID)
	require.NoError(t, err)
	require.NoError(t, env.approve(t, req.ID, env.guardians[0]))
	require.NoError(t, env.approve(t, req.ID, env.guardians[1]))

	// Past the validity window even though approvals and delay are in.
	env.clock.Advance(8 * 24 * time.Hour)
	_, err = env.coord.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, interfaces.ErrRequestExpired)
}
