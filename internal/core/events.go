package core

import "time"

// Lifecycle event types.
const (
	EventJobEnqueued     = "job.enqueued"
	EventJobAcquired     = "job.acquired"
	EventJobCompleted    = "job.completed"
	EventJobFailed       = "job.failed"
	EventJobBpmnError    = "job.bpmn_error"
	EventJobDeadLettered = "job.dead_lettered"
	EventJobRevived      = "job.revived"
	EventJobUnlocked     = "job.unlocked"
	EventJobLeaseReaped  = "job.lease_reaped"
)

// JobEvent is a best-effort notification of a job state transition.
type JobEvent struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Topic     string `json:"topic"`
	WorkerID  string `json:"worker_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewJobEvent creates an event stamped with at.
func NewJobEvent(eventType, jobID, topic, workerID string, at time.Time) *JobEvent {
	return &JobEvent{
		Type:      eventType,
		JobID:     jobID,
		Topic:     topic,
		WorkerID:  workerID,
		Timestamp: FormatTime(at),
	}
}

// EventPublisher publishes lifecycle events. Failures never affect the
// operation that produced the event.
type EventPublisher interface {
	PublishJobEvent(event *JobEvent) error
}
