package core

import (
	"strings"
	"testing"
	"time"
)

func intPtr(n int) *int { return &n }

func validAcquireRequest() *AcquireRequest {
	return &AcquireRequest{
		Topic:         "simple",
		LeaseDuration: 30 * time.Minute,
		MaxCount:      3,
		WorkerID:      "w1",
	}
}

func TestValidateAcquireRequest_Valid(t *testing.T) {
	if err := ValidateAcquireRequest(validAcquireRequest()); err != nil {
		t.Errorf("ValidateAcquireRequest() unexpected error: %v", err)
	}
}

func TestValidateAcquireRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *AcquireRequest)
		field  string
	}{
		{"empty topic", func(r *AcquireRequest) { r.Topic = "" }, "topic"},
		{"long topic", func(r *AcquireRequest) { r.Topic = strings.Repeat("t", MaxTopicLength+1) }, "topic"},
		{"control char topic", func(r *AcquireRequest) { r.Topic = "a\nb" }, "topic"},
		{"zero count", func(r *AcquireRequest) { r.MaxCount = 0 }, "max_count"},
		{"negative count", func(r *AcquireRequest) { r.MaxCount = -1 }, "max_count"},
		{"missing worker", func(r *AcquireRequest) { r.WorkerID = "" }, "worker_id"},
		{"zero lease", func(r *AcquireRequest) { r.LeaseDuration = 0 }, "lease_duration"},
		{"negative override", func(r *AcquireRequest) { r.RetryCountOverride = intPtr(-1) }, "retry_count_override"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validAcquireRequest()
			tt.modify(req)
			err := ValidateAcquireRequest(req)
			if err == nil {
				t.Fatal("ValidateAcquireRequest() expected error")
			}
			if err.Code != ErrCodeValidationError {
				t.Errorf("error code = %q, want %q", err.Code, ErrCodeValidationError)
			}
			if err.Details["field"] != tt.field {
				t.Errorf("Details[field] = %v, want %q", err.Details["field"], tt.field)
			}
		})
	}
}

func TestValidateAcquireRequest_Nil(t *testing.T) {
	err := ValidateAcquireRequest(nil)
	if err == nil || err.Code != ErrCodeInvalidRequest {
		t.Fatalf("ValidateAcquireRequest(nil) = %v, want invalid_request", err)
	}
}

func TestValidateAcquireRequest_ZeroOverrideAllowed(t *testing.T) {
	req := validAcquireRequest()
	req.RetryCountOverride = intPtr(0)
	if err := ValidateAcquireRequest(req); err != nil {
		t.Errorf("unexpected error for override 0: %v", err)
	}
}

func TestValidateFetchRequest(t *testing.T) {
	valid := &FetchRequest{
		WorkerID: "w1",
		MaxCount: 5,
		Topics: []TopicRequest{
			{Topic: "a", LeaseDuration: time.Minute},
			{Topic: "b", LeaseDuration: time.Minute},
		},
	}
	if err := ValidateFetchRequest(valid); err != nil {
		t.Fatalf("ValidateFetchRequest() unexpected error: %v", err)
	}

	noTopics := &FetchRequest{WorkerID: "w1", MaxCount: 1}
	if err := ValidateFetchRequest(noTopics); err == nil {
		t.Error("expected error for missing topics")
	}

	badSecond := &FetchRequest{
		WorkerID: "w1",
		MaxCount: 1,
		Topics: []TopicRequest{
			{Topic: "a", LeaseDuration: time.Minute},
			{Topic: "b"},
		},
	}
	err := ValidateFetchRequest(badSecond)
	if err == nil {
		t.Fatal("expected error for zero lease duration")
	}
	if err.Details["index"] != 1 {
		t.Errorf("Details[index] = %v, want 1", err.Details["index"])
	}
}

func TestValidateFailRequest(t *testing.T) {
	backoff := time.Hour
	negative := -time.Second
	tests := []struct {
		name    string
		req     *FailRequest
		wantErr bool
	}{
		{"valid", &FailRequest{JobID: "j", WorkerID: "w1", Retries: 4, Backoff: &backoff}, false},
		{"zero retries", &FailRequest{JobID: "j", WorkerID: "w1", Retries: 0}, false},
		{"negative retries", &FailRequest{JobID: "j", WorkerID: "w1", Retries: -1}, true},
		{"missing job", &FailRequest{WorkerID: "w1", Retries: 1}, true},
		{"missing worker", &FailRequest{JobID: "j", Retries: 1}, true},
		{"negative backoff", &FailRequest{JobID: "j", WorkerID: "w1", Retries: 1, Backoff: &negative}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFailRequest(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFailRequest() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEnqueueRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *EnqueueRequest
		wantErr bool
	}{
		{"valid", &EnqueueRequest{Topic: "simple"}, false},
		{"explicit retries", &EnqueueRequest{Topic: "simple", Retries: intPtr(1)}, false},
		{"zero retries", &EnqueueRequest{Topic: "simple", Retries: intPtr(0)}, true},
		{"empty topic", &EnqueueRequest{}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnqueueRequest(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnqueueRequest() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRetries(t *testing.T) {
	if err := ValidateRetries(0, 0); err != nil {
		t.Errorf("ValidateRetries(0, 0) unexpected error: %v", err)
	}
	if err := ValidateRetries(0, 1); err == nil {
		t.Error("ValidateRetries(0, 1) expected error")
	}
	if err := ValidateRetries(4, 1); err != nil {
		t.Errorf("ValidateRetries(4, 1) unexpected error: %v", err)
	}
}

func TestValidateJobRef(t *testing.T) {
	tests := []struct {
		name     string
		jobID    string
		workerID string
		field    string
	}{
		{"valid", "job-1", "w1", ""},
		{"missing job", "", "w1", "job_id"},
		{"missing worker", "job-1", "", "worker_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobRef(tt.jobID, tt.workerID)
			if tt.field == "" {
				if err != nil {
					t.Errorf("ValidateJobRef() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateJobRef() expected error")
			}
			if err.Details["field"] != tt.field {
				t.Errorf("field = %v, want %s", err.Details["field"], tt.field)
			}
		})
	}
}

func TestValidateLeaseDuration(t *testing.T) {
	if err := ValidateLeaseDuration(time.Second); err != nil {
		t.Errorf("ValidateLeaseDuration(1s) unexpected error: %v", err)
	}
	if err := ValidateLeaseDuration(0); err == nil {
		t.Error("ValidateLeaseDuration(0) expected error")
	}
}

func TestCandidateQuery_MatchesAndOrder(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	earlier := now.Add(-time.Hour)

	q := CandidateQuery{Topic: "simple", Now: now, MinRetries: intPtr(2)}
	if q.Matches(&Job{Topic: "other", RetriesRemaining: 3}) {
		t.Error("Matches() accepted another topic")
	}
	if q.Matches(&Job{Topic: "simple", RetriesRemaining: 1}) {
		t.Error("Matches() accepted a job below the retry override")
	}
	if q.Matches(&Job{Topic: "simple", RetriesRemaining: 3, LockExpiresAt: &future}) {
		t.Error("Matches() accepted a leased job")
	}
	if !q.Matches(&Job{Topic: "simple", RetriesRemaining: 2}) {
		t.Error("Matches() rejected an eligible job")
	}

	old := &Job{ID: "b", CreatedAt: earlier}
	young := &Job{ID: "a", CreatedAt: now, Priority: 10}
	if !q.Less(old, young) {
		t.Error("Less() should order oldest due first")
	}
	q.UsePriority = true
	if !q.Less(young, old) {
		t.Error("Less() should order higher priority first when requested")
	}
}
