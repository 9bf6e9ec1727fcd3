package core

import (
	"time"
)

// TimeFormat is the wire format for timestamps (RFC 3339, millisecond precision, UTC).
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime formats t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time in TimeFormat.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// Correlation carries the engine-side identifiers of the execution that
// produced a job. The lease core never interprets them.
type Correlation struct {
	ProcessInstanceID    string `json:"process_instance_id,omitempty"`
	ProcessDefinitionKey string `json:"process_definition_key,omitempty"`
	ExecutionID          string `json:"execution_id,omitempty"`
	ActivityID           string `json:"activity_id,omitempty"`
	TenantID             string `json:"tenant_id,omitempty"`
	BusinessKey          string `json:"business_key,omitempty"`
}

// Job is a unit of distributable work in the active store.
type Job struct {
	ID                   string         `json:"id"`
	Topic                string         `json:"topic"`
	HandlerConfiguration string         `json:"handler_configuration,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	RetriesRemaining     int            `json:"retries_remaining"`
	Priority             int64          `json:"priority,omitempty"`
	LockOwner            string         `json:"lock_owner,omitempty"`
	LockExpiresAt        *time.Time     `json:"lock_expires_at,omitempty"`
	ExceptionMessage     string         `json:"exception_message,omitempty"`
	HasExceptionDetail   bool           `json:"has_exception_detail,omitempty"`
	Correlation          Correlation    `json:"correlation"`
	CreatedAt            time.Time      `json:"created_at"`
	Version              uint64         `json:"version"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Payload = CloneVariables(j.Payload)
	if j.LockExpiresAt != nil {
		t := *j.LockExpiresAt
		cp.LockExpiresAt = &t
	}
	return &cp
}

// DueAt is the time the job became (or becomes) eligible for acquisition:
// the end of its current lease or backoff when one is set, its creation
// time otherwise.
func (j *Job) DueAt() time.Time {
	if j.LockExpiresAt != nil {
		return *j.LockExpiresAt
	}
	return j.CreatedAt
}

// IsAcquirable reports whether the job is visible to acquisition at now.
func (j *Job) IsAcquirable(now time.Time) bool {
	return j.LockExpiresAt == nil || !j.LockExpiresAt.After(now)
}

// IsLeasedBy reports whether workerID holds a live lease on the job at now.
func (j *Job) IsLeasedBy(workerID string, now time.Time) bool {
	if j.LockOwner == "" || j.LockOwner != workerID || j.LockExpiresAt == nil {
		return false
	}
	return j.LockExpiresAt.After(now)
}

// Unlocked returns a copy of j with the lease cleared.
func (j *Job) Unlocked() *Job {
	cp := j.Clone()
	cp.LockOwner = ""
	cp.LockExpiresAt = nil
	return cp
}

// DeadLetterJob is a job whose retry budget was exhausted. It carries no
// lease and lives outside the active store.
type DeadLetterJob struct {
	ID                   string         `json:"id"`
	Topic                string         `json:"topic"`
	HandlerConfiguration string         `json:"handler_configuration,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	RetriesRemaining     int            `json:"retries_remaining"`
	Priority             int64          `json:"priority,omitempty"`
	ExceptionMessage     string         `json:"exception_message,omitempty"`
	HasExceptionDetail   bool           `json:"has_exception_detail,omitempty"`
	Correlation          Correlation    `json:"correlation"`
	CreatedAt            time.Time      `json:"created_at"`
	FailedAt             time.Time      `json:"failed_at"`
}

// NewDeadLetterJob builds the dead letter record for j.
func NewDeadLetterJob(j *Job, failedAt time.Time) *DeadLetterJob {
	return &DeadLetterJob{
		ID:                   j.ID,
		Topic:                j.Topic,
		HandlerConfiguration: j.HandlerConfiguration,
		Payload:              CloneVariables(j.Payload),
		RetriesRemaining:     j.RetriesRemaining,
		Priority:             j.Priority,
		ExceptionMessage:     j.ExceptionMessage,
		HasExceptionDetail:   j.HasExceptionDetail,
		Correlation:          j.Correlation,
		CreatedAt:            j.CreatedAt,
		FailedAt:             failedAt.UTC(),
	}
}

// Revived builds the unlocked active job that replaces d, with a new retry
// budget. The caller's store assigns the version.
func (d *DeadLetterJob) Revived(retries int) *Job {
	return &Job{
		ID:                   d.ID,
		Topic:                d.Topic,
		HandlerConfiguration: d.HandlerConfiguration,
		Payload:              CloneVariables(d.Payload),
		RetriesRemaining:     retries,
		Priority:             d.Priority,
		ExceptionMessage:     d.ExceptionMessage,
		HasExceptionDetail:   d.HasExceptionDetail,
		Correlation:          d.Correlation,
		CreatedAt:            d.CreatedAt,
	}
}

// Clone returns a deep copy of d.
func (d *DeadLetterJob) Clone() *DeadLetterJob {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Payload = CloneVariables(d.Payload)
	return &cp
}

// AcquiredJob is the snapshot handed to a worker when it wins a lease.
// Mutating it never affects the stored job.
type AcquiredJob struct {
	ID                   string         `json:"id"`
	Topic                string         `json:"topic"`
	WorkerID             string         `json:"worker_id"`
	HandlerConfiguration string         `json:"handler_configuration,omitempty"`
	Payload              map[string]any `json:"payload"`
	RetriesRemaining     int            `json:"retries_remaining"`
	Priority             int64          `json:"priority,omitempty"`
	ExceptionMessage     string         `json:"exception_message,omitempty"`
	Correlation          Correlation    `json:"correlation"`
	LockExpiresAt        time.Time      `json:"lock_expires_at"`
	CreatedAt            time.Time      `json:"created_at"`
}

// NewAcquiredJob snapshots a freshly leased job.
func NewAcquiredJob(j *Job) *AcquiredJob {
	a := &AcquiredJob{
		ID:                   j.ID,
		Topic:                j.Topic,
		WorkerID:             j.LockOwner,
		HandlerConfiguration: j.HandlerConfiguration,
		Payload:              CloneVariables(j.Payload),
		RetriesRemaining:     j.RetriesRemaining,
		Priority:             j.Priority,
		ExceptionMessage:     j.ExceptionMessage,
		Correlation:          j.Correlation,
		CreatedAt:            j.CreatedAt,
	}
	if a.Payload == nil {
		a.Payload = map[string]any{}
	}
	if j.LockExpiresAt != nil {
		a.LockExpiresAt = *j.LockExpiresAt
	}
	return a
}
