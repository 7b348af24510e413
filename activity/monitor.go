package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// Config contains the dependencies for a Monitor.
type Config struct {
	// Store persists guardian setups.
	Store interfaces.Store

	// Log receives monitor events.
	Log *slog.Logger

	// Clock is the time source for check-ins and elapsed-time
	// computations. Defaults to time.Now.
	Clock func() time.Time
}

// Monitor tracks owner proof-of-life check-ins and decides when
// guardians are authorized to initiate recovery.
type Monitor struct {
	store interfaces.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewMonitor creates an activity monitor backed by the given store.
func NewMonitor(cfg *Config) *Monitor {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Monitor{store: cfg.Store, log: log, now: now}
}

// CheckIn records owner proof-of-life and returns the stored timestamp.
// The timestamp never moves backward: under clock skew the later of the
// stored and observed times wins.
func (m *Monitor) CheckIn(ctx context.Context, owner interfaces.OwnerID) (time.Time, error) {
	setup, err := m.store.SetupByOwner(ctx, owner)
	if err != nil {
		return time.Time{}, err
	}

	now := m.now().UTC()
	if now.Before(setup.LastCheckIn) {
		return setup.LastCheckIn, nil
	}

	setup.LastCheckIn = now
	if err := m.store.UpdateSetup(ctx, setup); err != nil {
		return time.Time{}, err
	}

	m.log.Info("owner checked in", "owner", owner, "at", now.Format(time.RFC3339))
	return now, nil
}

// DaysSinceCheckIn returns the number of full days elapsed since the
// owner's last check-in.
func (m *Monitor) DaysSinceCheckIn(ctx context.Context, owner interfaces.OwnerID) (int, error) {
	setup, err := m.store.SetupByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	return int(m.elapsed(setup).Hours() / 24), nil
}

// CanGuardiansInitiate reports whether the owner has been inactive for
// at least the setup's inactivity period. This is the sole gate for
// opening a recovery request.
func (m *Monitor) CanGuardiansInitiate(ctx context.Context, owner interfaces.OwnerID) (bool, error) {
	setup, err := m.store.SetupByOwner(ctx, owner)
	if err != nil {
		return false, err
	}
	return m.elapsed(setup) >= setup.InactivityPeriod, nil
}

// elapsed returns time since the setup's last check-in. Negative deltas
// from clock skew count as zero.
func (m *Monitor) elapsed(setup *interfaces.GuardianSetup) time.Duration {
	elapsed := m.now().Sub(setup.LastCheckIn)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
