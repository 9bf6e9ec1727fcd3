package lease

import (
	"context"
	"errors"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/metrics"
)

// removeHeld deletes a job whose lease workerID holds, along with its error
// detail. Losing the delete to another writer means the lease was lost.
func (s *Service) removeHeld(ctx context.Context, jobID, workerID string) (*core.Job, error) {
	j, err := s.heldJob(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, j.ID, j.Version); err != nil {
		if lostRace(err) {
			return nil, core.NewOwnershipError(workerID, jobID)
		}
		return nil, translate(err, jobID)
	}
	if err := s.store.DeleteErrorDetail(ctx, jobID); err != nil {
		s.logger.Warn("failed to delete error detail", "job_id", jobID, "error", err)
	}
	return j, nil
}

// Complete finishes a held job and hands the merged variables to the engine.
func (s *Service) Complete(ctx context.Context, jobID, workerID string, variables map[string]any) (err error) {
	if verr := core.ValidateJobRef(jobID, workerID); verr != nil {
		return verr
	}
	ctx, span := s.startSpan(ctx, "complete", jobID, "")
	defer func() { endSpan(span, err) }()

	j, err := s.removeHeld(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	metrics.JobsCompleted.WithLabelValues(j.Topic).Inc()
	s.publish(core.EventJobCompleted, j, workerID)

	completion := &core.JobCompletion{
		JobID:       j.ID,
		Topic:       j.Topic,
		WorkerID:    workerID,
		Correlation: j.Correlation,
		Variables:   core.MergeVariables(j.Payload, variables),
		CompletedAt: core.FormatTime(s.clock()),
	}
	if err := s.engine.OnJobCompleted(ctx, completion); err != nil {
		s.logger.Error("engine rejected completion", "job_id", j.ID, "topic", j.Topic, "error", err)
		return core.NewInternalError("job completed but the engine could not be notified: " + err.Error())
	}
	return nil
}

// BpmnError finishes a held job with a business error and hands it to the
// engine.
func (s *Service) BpmnError(ctx context.Context, jobID, workerID, errorCode, errorMessage string, variables map[string]any) (err error) {
	if verr := core.ValidateJobRef(jobID, workerID); verr != nil {
		return verr
	}
	if errorCode == "" {
		return core.NewValidationError("error_code must not be empty", map[string]any{"field": "error_code"})
	}
	ctx, span := s.startSpan(ctx, "bpmn_error", jobID, "")
	defer func() { endSpan(span, err) }()

	j, err := s.removeHeld(ctx, jobID, workerID)
	if err != nil {
		return err
	}
	metrics.JobsBpmnErrors.WithLabelValues(j.Topic).Inc()
	s.publish(core.EventJobBpmnError, j, workerID)

	be := &core.JobBusinessError{
		JobID:        j.ID,
		Topic:        j.Topic,
		WorkerID:     workerID,
		Correlation:  j.Correlation,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Variables:    core.MergeVariables(j.Payload, variables),
		RaisedAt:     core.FormatTime(s.clock()),
	}
	if err := s.engine.OnJobBusinessError(ctx, be); err != nil {
		s.logger.Error("engine rejected business error", "job_id", j.ID, "topic", j.Topic, "error", err)
		return core.NewInternalError("business error recorded but the engine could not be notified: " + err.Error())
	}
	return nil
}

// Fail releases a held job with a new retry budget. A zero budget moves the
// job to the dead letter store; otherwise it becomes acquirable again after
// the optional backoff.
func (s *Service) Fail(ctx context.Context, req *core.FailRequest) (err error) {
	if verr := core.ValidateFailRequest(req); verr != nil {
		return verr
	}
	ctx, span := s.startSpan(ctx, "fail", req.JobID, "")
	defer func() { endSpan(span, err) }()

	j, err := s.heldJob(ctx, req.JobID, req.WorkerID)
	if err != nil {
		return err
	}

	now := s.clock()
	next := j.Unlocked()
	next.RetriesRemaining = req.Retries
	next.ExceptionMessage = req.ErrorMessage
	next.HasExceptionDetail = req.ErrorDetail != nil

	// Written while the lease is held, before the release makes the job
	// visible to other workers.
	restore := s.replaceDetail(ctx, j, req.ErrorDetail)

	var releaseErr error
	if req.Retries == 0 {
		_, releaseErr = s.moveToDeadLetter(ctx, next, now)
	} else {
		if req.Backoff != nil && *req.Backoff > 0 {
			visible := now.Add(*req.Backoff)
			next.LockExpiresAt = &visible
		}
		_, releaseErr = s.store.Swap(ctx, next)
	}
	if releaseErr != nil {
		restore()
		if lostRace(releaseErr) {
			return core.NewOwnershipError(req.WorkerID, req.JobID)
		}
		return translate(releaseErr, req.JobID)
	}

	metrics.JobsFailed.WithLabelValues(j.Topic).Inc()
	s.publish(core.EventJobFailed, j, req.WorkerID)
	s.logger.Debug("job failed", "job_id", j.ID, "topic", j.Topic, "worker_id", req.WorkerID, "retries", req.Retries)
	return nil
}

// replaceDetail swaps the out-of-line error detail of the held job j for
// detail. The returned func undoes the swap after a failed release, unless
// another writer has moved the job on since.
func (s *Service) replaceDetail(ctx context.Context, j *core.Job, detail *string) func() {
	var prev *string
	if j.HasExceptionDetail {
		if d, err := s.store.GetErrorDetail(ctx, j.ID); err == nil {
			prev = &d
		}
	}
	s.storeDetail(ctx, j.ID, detail)

	return func() {
		cur, err := s.store.Get(ctx, j.ID)
		switch {
		case err == nil:
			if cur.ExceptionMessage != j.ExceptionMessage || cur.HasExceptionDetail != j.HasExceptionDetail {
				return
			}
			s.storeDetail(ctx, j.ID, prev)
		case errors.Is(err, core.ErrJobNotFound):
			if _, dlErr := s.store.GetDeadLetter(ctx, j.ID); dlErr == nil {
				return
			}
			// Completed by someone else.
			s.storeDetail(ctx, j.ID, nil)
		default:
			s.logger.Warn("failed to restore error detail", "job_id", j.ID, "error", err)
		}
	}
}

// storeDetail replaces the out-of-line error detail of a job.
func (s *Service) storeDetail(ctx context.Context, jobID string, detail *string) {
	var err error
	if detail != nil {
		err = s.store.PutErrorDetail(ctx, jobID, *detail)
	} else {
		err = s.store.DeleteErrorDetail(ctx, jobID)
	}
	if err != nil {
		s.logger.Warn("failed to store error detail", "job_id", jobID, "error", err)
	}
}

// moveToDeadLetter quarantines j, conditional on j.Version.
func (s *Service) moveToDeadLetter(ctx context.Context, j *core.Job, failedAt time.Time) (*core.DeadLetterJob, error) {
	dl, err := s.store.MoveToDeadLetter(ctx, j, failedAt)
	if err != nil {
		return nil, err
	}
	metrics.JobsDeadLettered.WithLabelValues(j.Topic).Inc()
	s.publish(core.EventJobDeadLettered, j, "")
	s.logger.Info("job moved to dead letter", "job_id", j.ID, "topic", j.Topic, "exception", j.ExceptionMessage)
	return dl, nil
}
