package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/metrics"
)

// DefaultReaperBatch is the number of expired leases a sweep reads.
const DefaultReaperBatch = 500

// Reaper clears expired leases so their jobs become acquirable again. It
// never touches retries or error fields.
type Reaper struct {
	store     core.JobStore
	events    core.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	batchSize int
}

// Reaper returns a reaper sharing the service's store, clock, logger and
// event publisher.
func (s *Service) Reaper(batchSize int) *Reaper {
	if batchSize <= 0 {
		batchSize = DefaultReaperBatch
	}
	return &Reaper{
		store:     s.store,
		events:    s.events,
		logger:    s.logger,
		now:       s.now,
		batchSize: batchSize,
	}
}

// Sweep clears up to the batch size of expired leases and reports how many
// it cleared. A lease renewed, completed or reaped concurrently is skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	expired, err := r.store.ExpiredLeases(ctx, now, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read expired leases: %w", err)
	}

	reaped := 0
	for _, j := range expired {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		if _, err := r.store.Swap(ctx, j.Unlocked()); err != nil {
			if !lostRace(err) {
				r.logger.Warn("failed to reap lease", "job_id", j.ID, "topic", j.Topic, "error", err)
			}
			continue
		}
		reaped++
		if r.events != nil {
			if err := r.events.PublishJobEvent(core.NewJobEvent(core.EventJobLeaseReaped, j.ID, j.Topic, j.LockOwner, now)); err != nil {
				r.logger.Warn("failed to publish job event", "type", core.EventJobLeaseReaped, "job_id", j.ID, "error", err)
			}
		}
	}

	if reaped > 0 {
		metrics.LeasesReaped.Add(float64(reaped))
		r.logger.Info("reaped expired leases", "count", reaped)
	}
	return reaped, nil
}
