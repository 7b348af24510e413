package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

// reminderRepeat caps how often one owner gets a check-in reminder.
const reminderRepeat = 24 * time.Hour

// SweeperConfig contains the dependencies for a Sweeper.
type SweeperConfig struct {
	Store    interfaces.Store
	Archive  interfaces.StorageBackend
	Notifier interfaces.Notifier
	Log      *slog.Logger

	// Interval between sweeps. Defaults to one hour.
	Interval time.Duration

	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time
}

// Sweeper is the background housekeeper: it cancels expired pending requests,
// archives terminal requests, and reminds owners whose dead-man's switch is
// close to firing.
type Sweeper struct {
	store    interfaces.Store
	archive  interfaces.StorageBackend
	notifier interfaces.Notifier
	log      *slog.Logger
	now      func() time.Time
	interval time.Duration

	running  *atomic.Bool
	stop     chan struct{}
	finished chan struct{}

	// lastReminded tracks per-owner reminder delivery so a short sweep
	// interval does not spam the owner every hour. Guarded by remindMu:
	// Sweep may be called directly while the loop runs.
	remindMu     sync.Mutex
	lastReminded map[interfaces.OwnerID]time.Time
}

// NewSweeper creates a sweeper. Call Start to begin sweeping.
func NewSweeper(cfg *SweeperConfig) *Sweeper {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:        cfg.Store,
		archive:      cfg.Archive,
		notifier:     cfg.Notifier,
		log:          log,
		now:          now,
		interval:     interval,
		running:      atomic.NewBool(false),
		stop:         make(chan struct{}),
		finished:     make(chan struct{}),
		lastReminded: make(map[interfaces.OwnerID]time.Time),
	}
}

// Start launches the sweep loop in a goroutine. Starting twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.finished)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to finish.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	<-s.finished
}

// Sweep runs one housekeeping pass. Errors are logged, never fatal; the next
// pass retries whatever this one missed.
func (s *Sweeper) Sweep(ctx context.Context) {
	if err := s.expirePending(ctx); err != nil {
		s.log.Error("expiry sweep failed", "err", err)
	}
	if err := s.archiveTerminal(ctx); err != nil {
		s.log.Error("archive sweep failed", "err", err)
	}
	if err := s.remindOwners(ctx); err != nil {
		s.log.Error("reminder sweep failed", "err", err)
	}
}

// expirePending cancels pending requests past their validity window.
func (s *Sweeper) expirePending(ctx context.Context) error {
	pending, err := s.store.RequestsByStatus(ctx, interfaces.RequestPending)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	var errs []error
	for _, req := range pending {
		if !req.ExpiredAt(now) {
			continue
		}
		req.Status = interfaces.RequestCancelled
		err := s.store.UpdateRequest(ctx, req, req.Version)
		if errors.Is(err, interfaces.ErrVersionConflict) {
			// Someone transitioned it concurrently; next pass re-reads.
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Info("expired recovery request cancelled",
			slog.String("owner", req.Owner.String()),
			slog.String("request", req.ID.String()))
		s.notifyOwner(ctx, req.Owner, interfaces.NotifyRecoveryExpired,
			fmt.Sprintf("Recovery request %s expired without completing.", req.ID))
	}
	return errors.Join(errs...)
}

// archiveTerminal writes terminal requests to the archive store. Disputed
// requests stay live and queryable; only completed and cancelled requests
// are archived.
func (s *Sweeper) archiveTerminal(ctx context.Context) error {
	var errs []error
	for _, status := range []interfaces.RequestStatus{interfaces.RequestCompleted, interfaces.RequestCancelled} {
		requests, err := s.store.RequestsByStatus(ctx, status)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, req := range requests {
			if req.Archived() {
				continue
			}
			if err := s.archiveRequest(ctx, req); err != nil {
				errs = append(errs, err)
				continue
			}
			s.log.Info("recovery request archived",
				slog.String("request", req.ID.String()),
				slog.String("status", req.Status.String()))
		}
	}
	return errors.Join(errs...)
}

// remindOwners notifies owners who have used up most of their inactivity
// period, once the remaining window drops below a quarter of it.
func (s *Sweeper) remindOwners(ctx context.Context) error {
	setups, err := s.store.Setups(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	for _, setup := range setups {
		if setup.Contact == "" {
			continue
		}
		elapsed := now.Sub(setup.LastCheckIn)
		if elapsed < setup.InactivityPeriod-setup.InactivityPeriod/4 {
			continue
		}
		if !s.markReminded(setup.Owner, now) {
			continue
		}

		remaining := setup.InactivityPeriod - elapsed
		var message string
		if remaining > 0 {
			message = fmt.Sprintf("Check in within %s or your guardians may initiate recovery.",
				remaining.Round(time.Hour))
		} else {
			message = "Your inactivity period has elapsed; your guardians may now initiate recovery."
		}
		s.notifyOwner(ctx, setup.Owner, interfaces.NotifyCheckInReminder, message)
	}
	return nil
}

// markReminded records a reminder for the owner unless one was already sent
// within the repeat window.
func (s *Sweeper) markReminded(owner interfaces.OwnerID, now time.Time) bool {
	s.remindMu.Lock()
	defer s.remindMu.Unlock()
	if last, ok := s.lastReminded[owner]; ok && now.Sub(last) < reminderRepeat {
		return false
	}
	s.lastReminded[owner] = now
	return true
}

func (s *Sweeper) notifyOwner(ctx context.Context, owner interfaces.OwnerID, kind interfaces.NotificationKind, message string) {
	setup, err := s.store.SetupByOwner(ctx, owner)
	if err != nil || setup.Contact == "" {
		return
	}
	if err := s.notifier.Notify(ctx, setup.Contact, kind, message); err != nil {
		s.log.Warn("notification failed",
			slog.String("identity", setup.Contact),
			slog.String("kind", string(kind)),
			"err", err)
	}
}
