package activity

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
	"github.com/keyhaven/guardian-recovery-backend/storage"
)

func newTestMonitor(t *testing.T, clock func() time.Time) (*Monitor, interfaces.OwnerID) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	owner := interfaces.NewOwnerID()
	setup := &interfaces.GuardianSetup{
		Owner:            owner,
		Contact:          "owner@example.com",
		OwnerKey:         interfaces.VerificationKey{Secret: []byte("secret")},
		Threshold:        2,
		TotalGuardians:   3,
		RecoveryDelay:    48 * time.Hour,
		InactivityPeriod: 30 * 24 * time.Hour,
		RequestValidity:  7 * 24 * time.Hour,
		LastCheckIn:      clock().UTC(),
		MasterKey:        []byte("0123456789abcdef0123456789abcdef"),
		KeyVersion:       1,
		CreatedAt:        clock().UTC(),
	}
	require.NoError(t, store.CreateSetup(context.Background(), setup))

	monitor := NewMonitor(&Config{
		Store: store,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock: clock,
	})
	return monitor, owner
}

func TestCheckInAdvancesTimestamp(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	monitor, owner := newTestMonitor(t, func() time.Time { return now })
	ctx := context.Background()

	now = base.Add(10 * 24 * time.Hour)
	stamped, err := monitor.CheckIn(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, now, stamped)

	days, err := monitor.DaysSinceCheckIn(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, days)
}

func TestCheckInNeverMovesBackward(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	monitor, owner := newTestMonitor(t, func() time.Time { return now })
	ctx := context.Background()

	now = base.Add(time.Hour)
	stamped, err := monitor.CheckIn(ctx, owner)
	require.NoError(t, err)

	// Clock skew: observed time is behind the stored check-in.
	now = base.Add(-time.Hour)
	regressed, err := monitor.CheckIn(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, stamped, regressed)

	// Negative elapsed counts as zero days.
	days, err := monitor.DaysSinceCheckIn(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, days)
}

func TestCanGuardiansInitiate(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	monitor, owner := newTestMonitor(t, func() time.Time { return now })
	ctx := context.Background()

	ok, err := monitor.CanGuardiansInitiate(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	// One hour short of the inactivity period.
	now = base.Add(30*24*time.Hour - time.Hour)
	ok, err = monitor.CanGuardiansInitiate(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	// Exactly at the boundary the gate opens.
	now = base.Add(30 * 24 * time.Hour)
	ok, err = monitor.CanGuardiansInitiate(ctx, owner)
	require.NoError(t, err)
	assert.True(t, ok)

	days, err := monitor.DaysSinceCheckIn(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	// A check-in closes it again.
	_, err = monitor.CheckIn(ctx, owner)
	require.NoError(t, err)
	ok, err = monitor.CanGuardiansInitiate(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMonitorUnknownOwner(t *testing.T) {
	monitor, _ := newTestMonitor(t, time.Now)
	ctx := context.Background()

	_, err := monitor.CheckIn(ctx, interfaces.NewOwnerID())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = monitor.DaysSinceCheckIn(ctx, interfaces.NewOwnerID())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
