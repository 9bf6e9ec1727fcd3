package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
)

func TestDecodeJobRecord_VersionFromRevision(t *testing.T) {
	expiry := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	rec := jobRecord{Job: &core.Job{
		ID:            "a",
		Topic:         "simple",
		LockOwner:     "w1",
		LockExpiresAt: &expiry,
		Version:       3,
	}}
	data, err := json.Marshal(&rec)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	got, err := decodeJobRecord(data, 42)
	if err != nil {
		t.Fatalf("decodeJobRecord() error: %v", err)
	}
	if got.Job.Version != 42 {
		t.Errorf("Version = %d, want 42", got.Job.Version)
	}
	if got.Move != nil {
		t.Error("Move marker should be absent")
	}
	if !got.Job.LockExpiresAt.Equal(expiry) {
		t.Errorf("LockExpiresAt = %v, want %v", got.Job.LockExpiresAt, expiry)
	}
}

func TestDecodeJobRecord_Invalid(t *testing.T) {
	for _, input := range []string{`{`, `{}`, `{"move":{}}`} {
		if _, err := decodeJobRecord([]byte(input), 1); err == nil {
			t.Errorf("decodeJobRecord(%s) expected error", input)
		}
	}
}

func TestDecodeDeadRecord_ReviveMarker(t *testing.T) {
	data := []byte(`{"job":{"id":"a","topic":"simple","retries_remaining":0,"failed_at":"2024-06-15T12:00:00Z","created_at":"2024-06-15T11:00:00Z","correlation":{}},"revive":{"retries":4,"revived_at":"2024-06-15T13:00:00Z"}}`)
	got, err := decodeDeadRecord(data)
	if err != nil {
		t.Fatalf("decodeDeadRecord() error: %v", err)
	}
	if got.Revive == nil || got.Revive.Retries != 4 {
		t.Errorf("Revive = %+v, want retries 4", got.Revive)
	}
}

func TestJobKey(t *testing.T) {
	key := JobKey("billing/invoice send", "01908a9c-e4a5-7c8b-8d3e-0a1b2c3d4e5f")
	for _, r := range key {
		ok := r == '-' || r == '_' || r == '.' || r == '=' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			t.Fatalf("JobKey() = %q contains invalid KV key rune %q", key, r)
		}
	}
	if TopicToken("a") == TopicToken("b") {
		t.Error("TopicToken() collides")
	}
	if got, want := EngineCompletedSubject("simple"), "ojs.engine.completed."+TopicToken("simple"); got != want {
		t.Errorf("EngineCompletedSubject() = %q, want %q", got, want)
	}
}
