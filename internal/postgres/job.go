package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// Insert stores a new job unless an active or dead-lettered job already
// holds its id.
func (s *Store) Insert(ctx context.Context, job *core.Job) (*core.Job, error) {
	payload, correlation, err := encodeJSONColumns(job.Payload, job.Correlation)
	if err != nil {
		return nil, err
	}

	var version int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO ojs_lease_jobs (
			id, topic, handler_configuration, payload, retries_remaining, priority,
			lock_owner, lock_expires_at, exception_message, has_exception_detail,
			correlation, created_at, version
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, nextval('ojs_lease_version_seq')
		WHERE NOT EXISTS (SELECT 1 FROM ojs_lease_dead_letters WHERE id = $1)
		RETURNING version`,
		job.ID, job.Topic, job.HandlerConfiguration, payload, job.RetriesRemaining, job.Priority,
		job.LockOwner, nullableTime(job.LockExpiresAt), job.ExceptionMessage, job.HasExceptionDetail,
		correlation, job.CreatedAt.UTC(),
	).Scan(&version)
	if err != nil {
		if isDuplicateKey(err) || isNoRows(err) {
			return nil, fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
		}
		return nil, fmt.Errorf("postgres: insert job: %w", err)
	}

	stored := job.Clone()
	stored.Version = uint64(version)
	return stored, nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ojs_lease_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrJobNotFound
		}
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return j, nil
}

func (s *Store) Candidates(ctx context.Context, q core.CandidateQuery) ([]*core.Job, error) {
	if q.Limit <= 0 {
		return nil, nil
	}

	var order strings.Builder
	order.WriteString(" ORDER BY ")
	if q.UsePriority {
		order.WriteString("priority DESC, ")
	}
	order.WriteString("COALESCE(lock_expires_at, created_at) ASC, id ASC")

	var minRetries any
	if q.MinRetries != nil {
		minRetries = *q.MinRetries
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM ojs_lease_jobs
		WHERE topic = $1
		  AND (lock_expires_at IS NULL OR lock_expires_at <= $2)
		  AND ($3::integer IS NULL OR retries_remaining >= $3::integer)`+
		order.String()+`
		LIMIT $4`,
		q.Topic, q.Now.UTC(), minRetries, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: candidates: %w", err)
	}
	defer rows.Close()

	var out []*core.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan candidate: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// writeError classifies a conditional write that matched no row.
func (s *Store) writeError(ctx context.Context, id string, version uint64) error {
	var current int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM ojs_lease_jobs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return core.ErrJobNotFound
		}
		return fmt.Errorf("postgres: reread job: %w", err)
	}
	return fmt.Errorf("job %s at version %d, have %d: %w", id, current, version, core.ErrVersionConflict)
}

func (s *Store) Swap(ctx context.Context, job *core.Job) (*core.Job, error) {
	payload, correlation, err := encodeJSONColumns(job.Payload, job.Correlation)
	if err != nil {
		return nil, err
	}

	var version int64
	err = s.pool.QueryRow(ctx, `
		UPDATE ojs_lease_jobs SET
			handler_configuration = $3, payload = $4, retries_remaining = $5, priority = $6,
			lock_owner = $7, lock_expires_at = $8, exception_message = $9,
			has_exception_detail = $10, correlation = $11,
			version = nextval('ojs_lease_version_seq')
		WHERE id = $1 AND version = $2
		RETURNING version`,
		job.ID, int64(job.Version),
		job.HandlerConfiguration, payload, job.RetriesRemaining, job.Priority,
		job.LockOwner, nullableTime(job.LockExpiresAt), job.ExceptionMessage,
		job.HasExceptionDetail, correlation,
	).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			return nil, s.writeError(ctx, job.ID, job.Version)
		}
		return nil, fmt.Errorf("postgres: swap job: %w", err)
	}

	stored := job.Clone()
	stored.Version = uint64(version)
	return stored, nil
}

func (s *Store) Remove(ctx context.Context, id string, version uint64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ojs_lease_jobs WHERE id = $1 AND version = $2`,
		id, int64(version),
	)
	if err != nil {
		return fmt.Errorf("postgres: remove job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.writeError(ctx, id, version)
	}
	return nil
}

func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM ojs_lease_jobs
		WHERE lock_owner <> '' AND lock_expires_at < $1
		ORDER BY lock_expires_at ASC
		LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: expired leases: %w", err)
	}
	defer rows.Close()

	var out []*core.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan expired lease: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) PutErrorDetail(ctx context.Context, id, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ojs_lease_error_details (job_id, detail) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET detail = EXCLUDED.detail`,
		id, detail,
	)
	if err != nil {
		return fmt.Errorf("postgres: put error detail: %w", err)
	}
	return nil
}

func (s *Store) GetErrorDetail(ctx context.Context, id string) (string, error) {
	var detail string
	err := s.pool.QueryRow(ctx, `SELECT detail FROM ojs_lease_error_details WHERE job_id = $1`, id).Scan(&detail)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("postgres: get error detail: %w", err)
	}
	return detail, nil
}

func (s *Store) DeleteErrorDetail(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ojs_lease_error_details WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete error detail: %w", err)
	}
	return nil
}
