package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
)

func (s *Store) MoveToDeadLetter(ctx context.Context, job *core.Job, failedAt time.Time) (*core.DeadLetterJob, error) {
	dl := core.NewDeadLetterJob(job, failedAt)
	payload, correlation, err := encodeJSONColumns(dl.Payload, dl.Correlation)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin dead letter tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM ojs_lease_jobs WHERE id = $1 AND version = $2`,
		job.ID, int64(job.Version),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete active job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.writeError(ctx, job.ID, job.Version)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ojs_lease_dead_letters (`+deadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		dl.ID, dl.Topic, dl.HandlerConfiguration, payload, dl.RetriesRemaining, dl.Priority,
		dl.ExceptionMessage, dl.HasExceptionDetail, correlation, dl.CreatedAt.UTC(), dl.FailedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert dead letter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit dead letter tx: %w", err)
	}
	return dl, nil
}

func (s *Store) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deadColumns+` FROM ojs_lease_dead_letters WHERE id = $1`, id)
	d, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("postgres: get dead letter: %w", err)
	}
	return d, nil
}

func (s *Store) ListDeadLetter(ctx context.Context, q core.DeadLetterQuery) ([]*core.DeadLetterJob, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ojs_lease_dead_letters WHERE ($1 = '' OR topic = $1)`,
		q.Topic,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: count dead letters: %w", err)
	}

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+deadColumns+` FROM ojs_lease_dead_letters
		WHERE ($1 = '' OR topic = $1)
		ORDER BY failed_at ASC, id ASC
		LIMIT $2 OFFSET $3`,
		q.Topic, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	out := []*core.DeadLetterJob{}
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list dead letters: %w", err)
	}
	return out, total, nil
}

// Revive deletes the dead letter and inserts its active replacement in one
// transaction. Concurrent revivals serialize on the row lock taken by the
// DELETE; the losers see no row.
func (s *Store) Revive(ctx context.Context, id string, retries int, _ time.Time) (*core.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin revive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `DELETE FROM ojs_lease_dead_letters WHERE id = $1 RETURNING `+deadColumns, id)
	dl, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("postgres: delete dead letter: %w", err)
	}

	job := dl.Revived(retries)
	payload, correlation, err := encodeJSONColumns(job.Payload, job.Correlation)
	if err != nil {
		return nil, err
	}

	var version int64
	err = tx.QueryRow(ctx, `
		INSERT INTO ojs_lease_jobs (
			id, topic, handler_configuration, payload, retries_remaining, priority,
			exception_message, has_exception_detail, correlation, created_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, nextval('ojs_lease_version_seq'))
		RETURNING version`,
		job.ID, job.Topic, job.HandlerConfiguration, payload, job.RetriesRemaining, job.Priority,
		job.ExceptionMessage, job.HasExceptionDetail, correlation, job.CreatedAt.UTC(),
	).Scan(&version)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("revive %s: %w", id, core.ErrJobExists)
		}
		return nil, fmt.Errorf("postgres: insert revived job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit revive tx: %w", err)
	}

	job.Version = uint64(version)
	return job, nil
}

func (s *Store) RemoveDeadLetter(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ojs_lease_dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: remove dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrDeadLetterNotFound
	}
	return nil
}
