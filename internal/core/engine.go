package core

import "context"

// JobCompletion is handed to the engine after a successful complete.
type JobCompletion struct {
	JobID       string         `json:"job_id"`
	Topic       string         `json:"topic"`
	WorkerID    string         `json:"worker_id"`
	Correlation Correlation    `json:"correlation"`
	Variables   map[string]any `json:"variables"`
	CompletedAt string         `json:"completed_at"`
}

// JobBusinessError is handed to the engine after a successful bpmnError.
type JobBusinessError struct {
	JobID        string         `json:"job_id"`
	Topic        string         `json:"topic"`
	WorkerID     string         `json:"worker_id"`
	Correlation  Correlation    `json:"correlation"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Variables    map[string]any `json:"variables"`
	RaisedAt     string         `json:"raised_at"`
}

// Engine is the process engine collaborator that resumes executions once
// their jobs are done.
type Engine interface {
	OnJobCompleted(ctx context.Context, c *JobCompletion) error
	OnJobBusinessError(ctx context.Context, e *JobBusinessError) error
}
