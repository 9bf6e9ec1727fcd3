package core

import (
	"context"
	"time"
)

// CandidateQuery selects jobs eligible for acquisition.
type CandidateQuery struct {
	Topic string
	// Now is the reference time for lease expiry.
	Now time.Time
	// Limit bounds the number of candidates returned.
	Limit int
	// MinRetries, when set, excludes jobs with fewer retries remaining.
	MinRetries *int
	// UsePriority orders by priority (descending) before due time.
	UsePriority bool
}

// Matches reports whether j satisfies the query's filters.
func (q CandidateQuery) Matches(j *Job) bool {
	if j.Topic != q.Topic || !j.IsAcquirable(q.Now) {
		return false
	}
	if q.MinRetries != nil && j.RetriesRemaining < *q.MinRetries {
		return false
	}
	return true
}

// Less orders candidates: optional priority first, then oldest due time,
// then id (UUIDv7, creation order).
func (q CandidateQuery) Less(a, b *Job) bool {
	if q.UsePriority && a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	da, db := a.DueAt(), b.DueAt()
	if !da.Equal(db) {
		return da.Before(db)
	}
	return a.ID < b.ID
}

// DeadLetterQuery pages through dead letter jobs.
type DeadLetterQuery struct {
	// Topic filters by topic. Empty means all topics.
	Topic  string
	Limit  int
	Offset int
}

// JobStore is the durable home of active and dead-lettered jobs.
//
// Every mutation of an existing active job is conditional on the Version
// the caller read: Swap and Remove fail with ErrVersionConflict when the
// stored version differs, and a successful mutation always produces a new,
// higher version. MoveToDeadLetter and Revive move a job between the active
// and dead letter stores as one logical step.
type JobStore interface {
	// Insert stores a new active job and returns it with its initial version.
	Insert(ctx context.Context, job *Job) (*Job, error)

	// Get returns the active job with the given id or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Candidates returns up to q.Limit acquirable jobs in q's order.
	Candidates(ctx context.Context, q CandidateQuery) ([]*Job, error)

	// Swap replaces the stored job with job, conditional on job.Version.
	Swap(ctx context.Context, job *Job) (*Job, error)

	// Remove deletes the active job, conditional on version.
	Remove(ctx context.Context, id string, version uint64) error

	// ExpiredLeases returns up to limit leased jobs (LockOwner set) whose
	// LockExpiresAt is before now, earliest expiry first.
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// MoveToDeadLetter removes job from the active store and records it as
	// a dead letter, conditional on job.Version.
	MoveToDeadLetter(ctx context.Context, job *Job, failedAt time.Time) (*DeadLetterJob, error)

	// GetDeadLetter returns the dead letter job or ErrDeadLetterNotFound.
	GetDeadLetter(ctx context.Context, id string) (*DeadLetterJob, error)

	// ListDeadLetter pages through dead letters ordered by failure time and
	// reports the total matching the topic filter.
	ListDeadLetter(ctx context.Context, q DeadLetterQuery) ([]*DeadLetterJob, int, error)

	// Revive replaces a dead letter with an unlocked active job carrying
	// retries. Exactly one concurrent caller succeeds; the others get
	// ErrDeadLetterNotFound.
	Revive(ctx context.Context, id string, retries int, now time.Time) (*Job, error)

	// RemoveDeadLetter deletes a dead letter permanently.
	RemoveDeadLetter(ctx context.Context, id string) error

	// PutErrorDetail stores the failure detail of a job out of line.
	PutErrorDetail(ctx context.Context, id, detail string) error

	// GetErrorDetail returns the stored failure detail, "" when none.
	GetErrorDetail(ctx context.Context, id string) (string, error)

	// DeleteErrorDetail drops the stored failure detail, if any.
	DeleteErrorDetail(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// Recoverer is implemented by stores whose cross-record moves are not
// single-step and may leave work for a periodic repair pass.
type Recoverer interface {
	RecoverPending(ctx context.Context) (int, error)
}
