package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, topic, handler_configuration, payload, retries_remaining, priority,
	lock_owner, lock_expires_at, exception_message, has_exception_detail,
	correlation, created_at, version`

const deadColumns = `id, topic, handler_configuration, payload, retries_remaining, priority,
	exception_message, has_exception_detail, correlation, created_at, failed_at`

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		j           core.Job
		payload     []byte
		correlation []byte
		version     int64
	)
	err := row.Scan(
		&j.ID, &j.Topic, &j.HandlerConfiguration, &payload, &j.RetriesRemaining, &j.Priority,
		&j.LockOwner, &j.LockExpiresAt, &j.ExceptionMessage, &j.HasExceptionDetail,
		&correlation, &j.CreatedAt, &version,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumns(payload, &j.Payload, correlation, &j.Correlation); err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.CreatedAt = j.CreatedAt.UTC()
	if j.LockExpiresAt != nil {
		t := j.LockExpiresAt.UTC()
		j.LockExpiresAt = &t
	}
	j.Version = uint64(version)
	return &j, nil
}

func scanDeadLetter(row rowScanner) (*core.DeadLetterJob, error) {
	var (
		d           core.DeadLetterJob
		payload     []byte
		correlation []byte
	)
	err := row.Scan(
		&d.ID, &d.Topic, &d.HandlerConfiguration, &payload, &d.RetriesRemaining, &d.Priority,
		&d.ExceptionMessage, &d.HasExceptionDetail, &correlation, &d.CreatedAt, &d.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumns(payload, &d.Payload, correlation, &d.Correlation); err != nil {
		return nil, fmt.Errorf("dead letter %s: %w", d.ID, err)
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.FailedAt = d.FailedAt.UTC()
	return &d, nil
}

func decodeJSONColumns(payload []byte, payloadDst *map[string]any, correlation []byte, correlationDst *core.Correlation) error {
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, payloadDst); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(correlation) > 0 {
		if err := json.Unmarshal(correlation, correlationDst); err != nil {
			return fmt.Errorf("decode correlation: %w", err)
		}
	}
	return nil
}

// encodeJSONColumns marshals the payload and correlation columns.
func encodeJSONColumns(payload map[string]any, correlation core.Correlation) ([]byte, []byte, error) {
	var p []byte
	if payload != nil {
		var err error
		if p, err = json.Marshal(payload); err != nil {
			return nil, nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	c, err := json.Marshal(correlation)
	if err != nil {
		return nil, nil, fmt.Errorf("encode correlation: %w", err)
	}
	return p, c, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
