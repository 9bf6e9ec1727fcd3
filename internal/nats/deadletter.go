package nats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/kv"
)

// Moves between BucketJobs and BucketDead are two-phase. The conditional
// write of a marker on the source record is the commit point; copying to
// the target and deleting the source follow and are idempotent. Readers that
// meet a marker finish the move before answering, and RecoverPending
// finishes moves whose writer died in between.

func (s *Store) MoveToDeadLetter(ctx context.Context, job *core.Job, failedAt time.Time) (*core.DeadLetterJob, error) {
	key := JobKey(job.Topic, job.ID)
	rec := &jobRecord{Job: job.Clone(), Move: &moveMarker{FailedAt: failedAt.UTC()}}

	rev, err := s.jobs.UpdateJSON(ctx, key, rec, job.Version)
	if err != nil {
		return nil, s.writeError(ctx, key, job.ID, err)
	}
	rec.Job.Version = rev
	return s.completeMove(ctx, key, rec)
}

// completeMove copies a committed move into BucketDead and drops the source.
func (s *Store) completeMove(ctx context.Context, key string, rec *jobRecord) (*core.DeadLetterJob, error) {
	dl := core.NewDeadLetterJob(rec.Job, rec.Move.FailedAt)
	if _, err := s.dead.CreateJSON(ctx, dl.ID, &deadRecord{Job: dl}); err != nil && !kv.IsConflict(err) {
		return nil, fmt.Errorf("store dead letter %s: %w", dl.ID, err)
	}
	if err := s.jobs.DeleteRevision(ctx, key, rec.Job.Version); err != nil && !kv.IsConflict(err) && !kv.IsNotFound(err) {
		return nil, fmt.Errorf("drop moved job %s: %w", dl.ID, err)
	}
	return dl, nil
}

// readDead loads a dead letter record with its revision.
func (s *Store) readDead(ctx context.Context, id string) (*deadRecord, uint64, error) {
	data, rev, err := s.dead.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	rec, err := decodeDeadRecord(data)
	if err != nil {
		return nil, 0, err
	}
	return rec, rev, nil
}

// finishPendingRevival completes a committed revival of id, if any, and
// returns the active job. It returns nil when no revival is pending.
func (s *Store) finishPendingRevival(ctx context.Context, id string) (*core.Job, error) {
	rec, rev, err := s.readDead(ctx, id)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	if rec.Revive == nil {
		return nil, nil
	}
	return s.completeRevival(ctx, rec, rev)
}

// completeRevival creates the active record of a committed revival and
// drops the dead letter.
func (s *Store) completeRevival(ctx context.Context, rec *deadRecord, deadRev uint64) (*core.Job, error) {
	job := rec.Job.Revived(rec.Revive.Retries)
	key := JobKey(job.Topic, job.ID)

	rev, err := s.jobs.CreateJSON(ctx, key, &jobRecord{Job: job})
	switch {
	case err == nil:
		job.Version = rev
	case kv.IsConflict(err):
		// Another reader finished it first.
		cur, rErr := s.readJob(ctx, key)
		if rErr != nil {
			return nil, fmt.Errorf("reread revived job %s: %w", job.ID, rErr)
		}
		job = cur.Job
	default:
		return nil, fmt.Errorf("store revived job %s: %w", job.ID, err)
	}

	if err := s.index.Set(ctx, job.ID, key); err != nil {
		return nil, fmt.Errorf("index revived job %s: %w", job.ID, err)
	}
	if err := s.dead.DeleteRevision(ctx, job.ID, deadRev); err != nil && !kv.IsConflict(err) && !kv.IsNotFound(err) {
		return nil, fmt.Errorf("drop revived dead letter %s: %w", job.ID, err)
	}
	return job, nil
}

// finishPendingMove completes a committed move of id, if any, and returns
// the dead letter. It returns nil when no move is pending.
func (s *Store) finishPendingMove(ctx context.Context, id string) (*core.DeadLetterJob, error) {
	key, err := s.index.Lookup(ctx, id)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup index %s: %w", id, err)
	}
	rec, err := s.readJob(ctx, key)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if rec.Move == nil {
		return nil, nil
	}
	return s.completeMove(ctx, key, rec)
}

func (s *Store) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterJob, error) {
	rec, rev, err := s.readDead(ctx, id)
	if err != nil {
		if !kv.IsNotFound(err) {
			return nil, fmt.Errorf("get dead letter %s: %w", id, err)
		}
		dl, mErr := s.finishPendingMove(ctx, id)
		if mErr != nil {
			return nil, mErr
		}
		if dl == nil {
			return nil, core.ErrDeadLetterNotFound
		}
		return dl, nil
	}
	if rec.Revive != nil {
		if _, err := s.completeRevival(ctx, rec, rev); err != nil {
			return nil, err
		}
		return nil, core.ErrDeadLetterNotFound
	}
	return rec.Job, nil
}

// ListDeadLetter scans the dead letter bucket. Records committed to a
// revival are already active and are left out.
func (s *Store) ListDeadLetter(ctx context.Context, q core.DeadLetterQuery) ([]*core.DeadLetterJob, int, error) {
	entries, err := s.dead.Scan(ctx, ">")
	if err != nil {
		return nil, 0, fmt.Errorf("scan dead letters: %w", err)
	}

	var all []*core.DeadLetterJob
	for _, e := range entries {
		rec, err := decodeDeadRecord(e.Value)
		if err != nil || rec.Revive != nil {
			continue
		}
		if q.Topic != "" && rec.Job.Topic != q.Topic {
			continue
		}
		all = append(all, rec.Job)
	}

	sort.Slice(all, func(a, b int) bool {
		if !all[a].FailedAt.Equal(all[b].FailedAt) {
			return all[a].FailedAt.Before(all[b].FailedAt)
		}
		return all[a].ID < all[b].ID
	})

	total := len(all)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*core.DeadLetterJob{}, total, nil
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}
	return all[offset:end], total, nil
}

func (s *Store) Revive(ctx context.Context, id string, retries int, now time.Time) (*core.Job, error) {
	if _, err := s.GetDeadLetter(ctx, id); err != nil {
		return nil, err
	}
	rec, rev, err := s.readDead(ctx, id)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, core.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	if rec.Revive != nil {
		// Another caller committed first.
		if _, err := s.completeRevival(ctx, rec, rev); err != nil {
			return nil, err
		}
		return nil, core.ErrDeadLetterNotFound
	}

	rec.Revive = &reviveMarker{Retries: retries, RevivedAt: now.UTC()}
	markRev, err := s.dead.UpdateJSON(ctx, id, rec, rev)
	if err != nil {
		if kv.IsConflict(err) || kv.IsNotFound(err) {
			return nil, core.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("mark dead letter %s: %w", id, err)
	}
	return s.completeRevival(ctx, rec, markRev)
}

func (s *Store) RemoveDeadLetter(ctx context.Context, id string) error {
	if _, err := s.GetDeadLetter(ctx, id); err != nil {
		return err
	}
	_, rev, err := s.readDead(ctx, id)
	if err != nil {
		if kv.IsNotFound(err) {
			return core.ErrDeadLetterNotFound
		}
		return fmt.Errorf("get dead letter %s: %w", id, err)
	}
	if err := s.dead.DeleteRevision(ctx, id, rev); err != nil {
		if kv.IsConflict(err) || kv.IsNotFound(err) {
			return core.ErrDeadLetterNotFound
		}
		return fmt.Errorf("delete dead letter %s: %w", id, err)
	}
	if err := s.index.Release(ctx, id); err != nil {
		s.logger.Warn("failed to release index entry", "job_id", id, "error", err)
	}
	return nil
}

// RecoverPending finishes moves and revivals left half-done by a writer
// that stopped between the commit point and the copy.
func (s *Store) RecoverPending(ctx context.Context) (int, error) {
	recovered := 0

	entries, err := s.jobs.Scan(ctx, ">")
	if err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}
	for _, e := range entries {
		rec, err := decodeJobRecord(e.Value, e.Revision)
		if err != nil || rec.Move == nil {
			continue
		}
		if _, err := s.completeMove(ctx, e.Key, rec); err != nil {
			s.logger.Error("failed to finish dead letter move", "job_id", rec.Job.ID, "error", err)
			continue
		}
		recovered++
	}

	entries, err = s.dead.Scan(ctx, ">")
	if err != nil {
		return recovered, fmt.Errorf("scan dead letters: %w", err)
	}
	for _, e := range entries {
		rec, err := decodeDeadRecord(e.Value)
		if err != nil || rec.Revive == nil {
			continue
		}
		if _, err := s.completeRevival(ctx, rec, e.Revision); err != nil {
			s.logger.Error("failed to finish revival", "job_id", rec.Job.ID, "error", err)
			continue
		}
		recovered++
	}

	return recovered, nil
}
