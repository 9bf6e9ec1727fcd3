package scheduler

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// Sweeper clears expired leases. *lease.Reaper implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// AddReaper runs r.Sweep every interval.
func (s *Scheduler) AddReaper(r Sweeper, interval time.Duration) error {
	return s.Every("lease-reaper", interval, func(ctx context.Context) error {
		_, err := r.Sweep(ctx)
		return err
	})
}

// AddRecovery runs rec.RecoverPending every interval, finishing moves
// between the active and dead letter stores left half done by a crash.
func (s *Scheduler) AddRecovery(rec core.Recoverer, interval time.Duration) error {
	return s.Every("move-recovery", interval, func(ctx context.Context) error {
		n, err := rec.RecoverPending(ctx)
		if n > 0 {
			s.logger.Info("recovered pending moves", "count", n)
		}
		return err
	})
}

// AddHealthCheck runs check every interval and hands its result to report.
func (s *Scheduler) AddHealthCheck(interval time.Duration, check func(ctx context.Context) error, report func(healthy bool)) error {
	return s.Every("health-check", interval, func(ctx context.Context) error {
		err := check(ctx)
		report(err == nil)
		return err
	})
}
