package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/metrics"
)

// AcquireAndLock leases up to req.MaxCount acquirable jobs of req.Topic to
// req.WorkerID. Candidates lost to a concurrent acquirer are skipped, so
// the result may be shorter than MaxCount, or empty.
func (s *Service) AcquireAndLock(ctx context.Context, req *core.AcquireRequest) (acquired []*core.AcquiredJob, err error) {
	if verr := core.ValidateAcquireRequest(req); verr != nil {
		return nil, verr
	}
	ctx, span := s.startSpan(ctx, "acquire", "", req.Topic)
	defer func() { endSpan(span, err) }()

	return s.acquire(ctx, req.WorkerID, req.MaxCount, req.UsePriority, core.TopicRequest{
		Topic:              req.Topic,
		LeaseDuration:      req.LeaseDuration,
		RetryCountOverride: req.RetryCountOverride,
	})
}

// FetchAndLock acquires across req.Topics in order, sharing the MaxCount
// budget.
func (s *Service) FetchAndLock(ctx context.Context, req *core.FetchRequest) (acquired []*core.AcquiredJob, err error) {
	if verr := core.ValidateFetchRequest(req); verr != nil {
		return nil, verr
	}
	ctx, span := s.startSpan(ctx, "fetch_and_lock", "", "")
	defer func() { endSpan(span, err) }()

	maxCount := s.clampCount(req.MaxCount)
	acquired = []*core.AcquiredJob{}
	for _, t := range req.Topics {
		budget := maxCount - len(acquired)
		if budget <= 0 {
			break
		}
		got, err := s.acquire(ctx, req.WorkerID, budget, req.UsePriority, t)
		if err != nil {
			if len(acquired) > 0 {
				s.logger.Warn("fetch stopped early", "topic", t.Topic, "worker_id", req.WorkerID, "error", err)
				break
			}
			return nil, err
		}
		acquired = append(acquired, got...)
	}
	return acquired, nil
}

// clampCount limits a requested count to the candidate ceiling. A single
// call never leases more jobs than it may read.
func (s *Service) clampCount(maxCount int) int {
	return min(maxCount, s.maxCandidates)
}

// window is the number of candidates read for a request of maxCount. It
// never exceeds maxCandidates.
func (s *Service) window(maxCount int) int {
	maxCount = s.clampCount(maxCount)
	n := maxCount * s.candidateFactor
	if n > s.maxCandidates || n < 0 {
		n = s.maxCandidates
	}
	return max(n, maxCount)
}

func (s *Service) acquire(ctx context.Context, workerID string, maxCount int, usePriority bool, t core.TopicRequest) ([]*core.AcquiredJob, error) {
	start := time.Now()
	defer metrics.ObserveAcquire(t.Topic, start)

	maxCount = s.clampCount(maxCount)
	now := s.clock()
	candidates, err := s.store.Candidates(ctx, core.CandidateQuery{
		Topic:       t.Topic,
		Now:         now,
		Limit:       s.window(maxCount),
		MinRetries:  t.RetryCountOverride,
		UsePriority: usePriority,
	})
	if err != nil {
		return nil, fmt.Errorf("read candidates for %s: %w", t.Topic, err)
	}

	expires := now.Add(t.LeaseDuration)
	acquired := make([]*core.AcquiredJob, 0, min(maxCount, len(candidates)))
	losses := 0
	for _, c := range candidates {
		if len(acquired) >= maxCount || ctx.Err() != nil {
			break
		}

		next := c.Clone()
		next.LockOwner = workerID
		next.LockExpiresAt = &expires

		stored, err := s.store.Swap(ctx, next)
		if err != nil {
			if lostRace(err) {
				losses++
				continue
			}
			if len(acquired) > 0 {
				s.logger.Warn("acquisition stopped early", "topic", t.Topic, "worker_id", workerID, "job_id", c.ID, "error", err)
				break
			}
			return nil, translate(err, c.ID)
		}

		acquired = append(acquired, core.NewAcquiredJob(stored))
		s.publish(core.EventJobAcquired, stored, workerID)
	}

	if losses > 0 {
		metrics.ContentionLosses.WithLabelValues(t.Topic).Add(float64(losses))
		s.logger.Debug("lost acquisition races", "topic", t.Topic, "worker_id", workerID, "losses", losses)
	}
	metrics.JobsAcquired.WithLabelValues(t.Topic).Add(float64(len(acquired)))
	return acquired, nil
}
