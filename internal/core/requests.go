package core

import "time"

// DefaultRetries is the retry budget of an enqueued job that does not name one.
const DefaultRetries = 3

// MaxTopicLength bounds topic names.
const MaxTopicLength = 255

// AcquireRequest asks for up to MaxCount leases on jobs of one topic.
type AcquireRequest struct {
	Topic         string
	LeaseDuration time.Duration
	MaxCount      int
	WorkerID      string
	// RetryCountOverride, when set, excludes jobs with fewer retries remaining.
	RetryCountOverride *int
	UsePriority        bool
}

// TopicRequest is one topic of a FetchRequest.
type TopicRequest struct {
	Topic              string
	LeaseDuration      time.Duration
	RetryCountOverride *int
}

// FetchRequest acquires across several topics sharing one MaxCount budget.
type FetchRequest struct {
	WorkerID    string
	MaxCount    int
	UsePriority bool
	Topics      []TopicRequest
}

// FailRequest reports a retryable failure of a held job.
type FailRequest struct {
	JobID    string
	WorkerID string
	// Retries is the new retry budget. Zero moves the job to dead letter.
	Retries int
	// Backoff, when positive, keeps the job invisible for that long.
	Backoff      *time.Duration
	ErrorMessage string
	ErrorDetail  *string
}

// EnqueueRequest creates a job on behalf of the process engine.
type EnqueueRequest struct {
	Topic                string
	HandlerConfiguration string
	Payload              map[string]any
	Correlation          Correlation
	// Retries defaults to DefaultRetries when nil.
	Retries  *int
	Priority int64
}
