// Package memory is an in-process JobStore. A single mutex guards all state
// and serves as the conditional-write primitive.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// Store implements core.JobStore in memory.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*core.Job
	dead    map[string]*core.DeadLetterJob
	details map[string]string
	seq     uint64
	closed  bool
}

var _ core.JobStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*core.Job),
		dead:    make(map[string]*core.DeadLetterJob),
		details: make(map[string]string),
	}
}

func (s *Store) nextVersion() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) Insert(_ context.Context, job *core.Job) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return nil, fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
	}
	if _, ok := s.dead[job.ID]; ok {
		return nil, fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
	}
	stored := job.Clone()
	stored.Version = s.nextVersion()
	s.jobs[job.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) Candidates(_ context.Context, q core.CandidateQuery) ([]*core.Job, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	var out []*core.Job
	for _, j := range s.jobs {
		if q.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return q.Less(out[a], out[b]) })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// checkVersion must be called with s.mu held.
func (s *Store) checkVersion(id string, version uint64) (*core.Job, error) {
	cur, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	if cur.Version != version {
		return nil, fmt.Errorf("job %s at version %d, have %d: %w", id, cur.Version, version, core.ErrVersionConflict)
	}
	return cur, nil
}

func (s *Store) Swap(_ context.Context, job *core.Job) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkVersion(job.ID, job.Version); err != nil {
		return nil, err
	}
	stored := job.Clone()
	stored.Version = s.nextVersion()
	s.jobs[job.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) Remove(_ context.Context, id string, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkVersion(id, version); err != nil {
		return err
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) ExpiredLeases(_ context.Context, now time.Time, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	var out []*core.Job
	for _, j := range s.jobs {
		if j.LockOwner != "" && j.LockExpiresAt != nil && j.LockExpiresAt.Before(now) {
			out = append(out, j.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].LockExpiresAt.Before(*out[b].LockExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MoveToDeadLetter(_ context.Context, job *core.Job, failedAt time.Time) (*core.DeadLetterJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkVersion(job.ID, job.Version); err != nil {
		return nil, err
	}
	dl := core.NewDeadLetterJob(job, failedAt)
	delete(s.jobs, job.ID)
	s.dead[job.ID] = dl
	return dl.Clone(), nil
}

func (s *Store) GetDeadLetter(_ context.Context, id string) (*core.DeadLetterJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.dead[id]
	if !ok {
		return nil, core.ErrDeadLetterNotFound
	}
	return dl.Clone(), nil
}

func (s *Store) ListDeadLetter(_ context.Context, q core.DeadLetterQuery) ([]*core.DeadLetterJob, int, error) {
	s.mu.Lock()
	var all []*core.DeadLetterJob
	for _, dl := range s.dead {
		if q.Topic == "" || dl.Topic == q.Topic {
			all = append(all, dl.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(a, b int) bool {
		if !all[a].FailedAt.Equal(all[b].FailedAt) {
			return all[a].FailedAt.Before(all[b].FailedAt)
		}
		return all[a].ID < all[b].ID
	})
	total := len(all)
	return page(all, q.Offset, q.Limit), total, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func (s *Store) Revive(_ context.Context, id string, retries int, now time.Time) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.dead[id]
	if !ok {
		return nil, core.ErrDeadLetterNotFound
	}
	job := dl.Revived(retries)
	job.Version = s.nextVersion()
	delete(s.dead, id)
	s.jobs[id] = job
	return job.Clone(), nil
}

func (s *Store) RemoveDeadLetter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dead[id]; !ok {
		return core.ErrDeadLetterNotFound
	}
	delete(s.dead, id)
	return nil
}

func (s *Store) PutErrorDetail(_ context.Context, id, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[id] = detail
	return nil
}

func (s *Store) GetErrorDetail(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details[id], nil
}

func (s *Store) DeleteErrorDetail(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.details, id)
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
