package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// jobRecord is the JSON value stored in BucketJobs. The KV revision of the
// entry is the job's version; Job.Version is not trusted on read.
type jobRecord struct {
	Job *core.Job `json:"job"`
	// Move is set once the record is committed to leave for the dead letter
	// bucket. From that point the job is logically a dead letter.
	Move *moveMarker `json:"move,omitempty"`
}

type moveMarker struct {
	FailedAt time.Time `json:"failed_at"`
}

// deadRecord is the JSON value stored in BucketDead.
type deadRecord struct {
	Job *core.DeadLetterJob `json:"job"`
	// Revive is set once the record is committed to return to the active
	// bucket. From that point the job is logically active.
	Revive *reviveMarker `json:"revive,omitempty"`
}

type reviveMarker struct {
	Retries   int       `json:"retries"`
	RevivedAt time.Time `json:"revived_at"`
}

func decodeJobRecord(data []byte, revision uint64) (*jobRecord, error) {
	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	if rec.Job == nil {
		return nil, fmt.Errorf("decode job record: missing job")
	}
	rec.Job.Version = revision
	return &rec, nil
}

func decodeDeadRecord(data []byte) (*deadRecord, error) {
	var rec deadRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode dead letter record: %w", err)
	}
	if rec.Job == nil {
		return nil, fmt.Errorf("decode dead letter record: missing job")
	}
	return &rec, nil
}
