package core

import (
	"context"
	"time"
)

// Backend is the full set of operations the transports expose. It is
// implemented by lease.Service.
type Backend interface {
	// Engine-side producer.
	Enqueue(ctx context.Context, req *EnqueueRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetErrorDetail(ctx context.Context, jobID string) (string, error)

	// Worker operations.
	AcquireAndLock(ctx context.Context, req *AcquireRequest) ([]*AcquiredJob, error)
	FetchAndLock(ctx context.Context, req *FetchRequest) ([]*AcquiredJob, error)
	Complete(ctx context.Context, jobID, workerID string, variables map[string]any) error
	Fail(ctx context.Context, req *FailRequest) error
	BpmnError(ctx context.Context, jobID, workerID, errorCode, errorMessage string, variables map[string]any) error
	ExtendLock(ctx context.Context, jobID, workerID string, newDuration time.Duration) error

	// Operator actions.
	Unlock(ctx context.Context, jobID string) error
	SetRetries(ctx context.Context, jobID string, retries int) error
	ListDeadLetter(ctx context.Context, q DeadLetterQuery) ([]*DeadLetterJob, int, error)
	GetDeadLetter(ctx context.Context, jobID string) (*DeadLetterJob, error)
	ReviveFromDeadLetter(ctx context.Context, jobID string, retries int) (string, error)
	DeleteDeadLetter(ctx context.Context, jobID string) error

	Health(ctx context.Context) (*HealthResponse, error)
}

// HealthResponse reports the service and store status.
type HealthResponse struct {
	Status        string        `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Backend       BackendHealth `json:"backend"`
}

// BackendHealth reports the store status.
type BackendHealth struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}
