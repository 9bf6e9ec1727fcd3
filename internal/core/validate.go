package core

import (
	"fmt"
	"time"
	"unicode"
)

// ValidateTopic checks a topic name.
func ValidateTopic(topic string) *OJSError {
	if topic == "" {
		return NewValidationError("topic must not be empty", map[string]any{"field": "topic"})
	}
	if len(topic) > MaxTopicLength {
		return NewValidationError(
			fmt.Sprintf("topic must be at most %d bytes", MaxTopicLength),
			map[string]any{"field": "topic", "length": len(topic)},
		)
	}
	for _, r := range topic {
		if unicode.IsControl(r) {
			return NewValidationError("topic must not contain control characters", map[string]any{"field": "topic"})
		}
	}
	return nil
}

func validateWorkerID(workerID string) *OJSError {
	if workerID == "" {
		return NewValidationError("worker_id must not be empty", map[string]any{"field": "worker_id"})
	}
	return nil
}

func validateLeaseDuration(d time.Duration) *OJSError {
	if d <= 0 {
		return NewValidationError("lease duration must be positive", map[string]any{
			"field": "lease_duration",
			"value": d.String(),
		})
	}
	return nil
}

func validateMaxCount(n int) *OJSError {
	if n < 1 {
		return NewValidationError("max_count must be at least 1", map[string]any{
			"field": "max_count",
			"value": n,
		})
	}
	return nil
}

func validateRetryOverride(override *int) *OJSError {
	if override != nil && *override < 0 {
		return NewValidationError("retry count override must not be negative", map[string]any{
			"field": "retry_count_override",
			"value": *override,
		})
	}
	return nil
}

// ValidateAcquireRequest checks an acquisition request.
func ValidateAcquireRequest(req *AcquireRequest) *OJSError {
	if req == nil {
		return NewInvalidRequestError("request must not be nil", nil)
	}
	if err := ValidateTopic(req.Topic); err != nil {
		return err
	}
	if err := validateMaxCount(req.MaxCount); err != nil {
		return err
	}
	if err := validateWorkerID(req.WorkerID); err != nil {
		return err
	}
	if err := validateLeaseDuration(req.LeaseDuration); err != nil {
		return err
	}
	return validateRetryOverride(req.RetryCountOverride)
}

// ValidateFetchRequest checks a multi-topic fetch.
func ValidateFetchRequest(req *FetchRequest) *OJSError {
	if req == nil {
		return NewInvalidRequestError("request must not be nil", nil)
	}
	if err := validateMaxCount(req.MaxCount); err != nil {
		return err
	}
	if err := validateWorkerID(req.WorkerID); err != nil {
		return err
	}
	if len(req.Topics) == 0 {
		return NewValidationError("at least one topic is required", map[string]any{"field": "topics"})
	}
	for i, t := range req.Topics {
		if err := ValidateTopic(t.Topic); err != nil {
			err.Details["index"] = i
			return err
		}
		if err := validateLeaseDuration(t.LeaseDuration); err != nil {
			err.Details["index"] = i
			return err
		}
		if err := validateRetryOverride(t.RetryCountOverride); err != nil {
			err.Details["index"] = i
			return err
		}
	}
	return nil
}

// ValidateFailRequest checks a failure report.
func ValidateFailRequest(req *FailRequest) *OJSError {
	if req == nil {
		return NewInvalidRequestError("request must not be nil", nil)
	}
	if req.JobID == "" {
		return NewValidationError("job id must not be empty", map[string]any{"field": "job_id"})
	}
	if err := validateWorkerID(req.WorkerID); err != nil {
		return err
	}
	if req.Retries < 0 {
		return NewValidationError("retries must not be negative", map[string]any{
			"field": "retries",
			"value": req.Retries,
		})
	}
	if req.Backoff != nil && *req.Backoff < 0 {
		return NewValidationError("backoff must not be negative", map[string]any{
			"field": "backoff",
			"value": req.Backoff.String(),
		})
	}
	return nil
}

// ValidateEnqueueRequest checks an enqueue request.
func ValidateEnqueueRequest(req *EnqueueRequest) *OJSError {
	if req == nil {
		return NewInvalidRequestError("request must not be nil", nil)
	}
	if err := ValidateTopic(req.Topic); err != nil {
		return err
	}
	if req.Retries != nil && *req.Retries < 1 {
		return NewValidationError("retries must be at least 1", map[string]any{
			"field": "retries",
			"value": *req.Retries,
		})
	}
	return nil
}

// ValidateRetries checks an operator-supplied retry budget. minimum is 0 for
// set-retries and 1 for revival.
func ValidateRetries(retries, minimum int) *OJSError {
	if retries < minimum {
		return NewValidationError(fmt.Sprintf("retries must be at least %d", minimum), map[string]any{
			"field": "retries",
			"value": retries,
		})
	}
	return nil
}

// ValidateJobID checks that a job id was supplied.
func ValidateJobID(jobID string) *OJSError {
	if jobID == "" {
		return NewValidationError("job id must not be empty", map[string]any{"field": "job_id"})
	}
	return nil
}

// ValidateJobRef checks the job and worker ids of a worker operation.
func ValidateJobRef(jobID, workerID string) *OJSError {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	return validateWorkerID(workerID)
}

// ValidateLeaseDuration checks a lease extension.
func ValidateLeaseDuration(d time.Duration) *OJSError {
	return validateLeaseDuration(d)
}
