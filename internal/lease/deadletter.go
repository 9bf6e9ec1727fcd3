package lease

import (
	"context"
	"fmt"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/metrics"
)

// ReviveFromDeadLetter returns a dead letter job to the active store with a
// fresh retry budget. The job keeps its id and is immediately acquirable.
func (s *Service) ReviveFromDeadLetter(ctx context.Context, jobID string, retries int) (id string, err error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return "", verr
	}
	if verr := core.ValidateRetries(retries, 1); verr != nil {
		return "", verr
	}
	ctx, span := s.startSpan(ctx, "revive", jobID, "")
	defer func() { endSpan(span, err) }()

	j, err := s.store.Revive(ctx, jobID, retries, s.clock())
	if err != nil {
		return "", translate(err, jobID)
	}

	metrics.JobsRevived.WithLabelValues(j.Topic).Inc()
	s.publish(core.EventJobRevived, j, "")
	s.logger.Info("job revived from dead letter", "job_id", j.ID, "topic", j.Topic, "retries", retries)
	return j.ID, nil
}

// ListDeadLetter pages through dead letter jobs.
func (s *Service) ListDeadLetter(ctx context.Context, q core.DeadLetterQuery) ([]*core.DeadLetterJob, int, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, 0, core.NewValidationError("limit and offset must not be negative", map[string]any{
			"limit":  q.Limit,
			"offset": q.Offset,
		})
	}
	if q.Topic != "" {
		if verr := core.ValidateTopic(q.Topic); verr != nil {
			return nil, 0, verr
		}
	}
	jobs, total, err := s.store.ListDeadLetter(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list dead letters: %w", err)
	}
	return jobs, total, nil
}

// GetDeadLetter returns one dead letter job.
func (s *Service) GetDeadLetter(ctx context.Context, jobID string) (*core.DeadLetterJob, error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return nil, verr
	}
	dl, err := s.store.GetDeadLetter(ctx, jobID)
	if err != nil {
		return nil, translate(err, jobID)
	}
	return dl, nil
}

// DeleteDeadLetter purges a dead letter job and its error detail.
func (s *Service) DeleteDeadLetter(ctx context.Context, jobID string) (err error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return verr
	}
	ctx, span := s.startSpan(ctx, "delete_dead_letter", jobID, "")
	defer func() { endSpan(span, err) }()

	if err := s.store.RemoveDeadLetter(ctx, jobID); err != nil {
		return translate(err, jobID)
	}
	if err := s.store.DeleteErrorDetail(ctx, jobID); err != nil {
		s.logger.Warn("failed to delete error detail", "job_id", jobID, "error", err)
	}
	s.logger.Info("dead letter job deleted", "job_id", jobID)
	return nil
}

// SetRetries replaces the retry budget of an active job. A zero budget
// dead-letters it the way Fail does; the lease, if any, is kept otherwise.
func (s *Service) SetRetries(ctx context.Context, jobID string, retries int) (err error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return verr
	}
	if verr := core.ValidateRetries(retries, 0); verr != nil {
		return verr
	}
	ctx, span := s.startSpan(ctx, "set_retries", jobID, "")
	defer func() { endSpan(span, err) }()

	return s.retryOperator(ctx, jobID, func(j *core.Job) error {
		if retries == 0 {
			next := j.Unlocked()
			next.RetriesRemaining = 0
			_, err := s.moveToDeadLetter(ctx, next, s.clock())
			return err
		}
		next := j.Clone()
		next.RetriesRemaining = retries
		_, err := s.store.Swap(ctx, next)
		return err
	})
}
