package nats

import (
	"encoding/base64"
	"fmt"
)

// Subject and bucket layout.
//
//	ojs.engine.completed.{topic}   -- engine resume signals
//	ojs.engine.bpmn_error.{topic}  -- engine business-error signals
//	ojs.events.>                   -- lifecycle events (core NATS, wildcardable)
//
// KV keys in BucketJobs are "{topic}.{id}" so a topic scan is a single
// wildcard watch. {topic} is the base64url token of the topic name.
const (
	EngineStreamName = "OJS_LEASE_ENGINE"
	SubjectPrefix    = "ojs"

	// KV bucket names
	BucketJobs    = "ojs-lease-jobs"
	BucketIndex   = "ojs-lease-index"
	BucketDead    = "ojs-lease-dead"
	BucketDetails = "ojs-lease-details"
)

// TopicToken encodes a topic as a single NATS subject / KV key token.
func TopicToken(topic string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(topic))
}

// JobKey returns the BucketJobs key of a job.
// Example: c2ltcGxl.01908a9c-e4a5-7c8b-8d3e-0a1b2c3d4e5f
func JobKey(topic, id string) string {
	return TopicToken(topic) + "." + id
}

// TopicKeys returns the wildcard matching all BucketJobs keys of a topic.
func TopicKeys(topic string) string {
	return TopicToken(topic) + ".*"
}

// EngineCompletedSubject returns the subject of a completion signal.
// Example: ojs.engine.completed.c2ltcGxl
func EngineCompletedSubject(topic string) string {
	return fmt.Sprintf("%s.engine.completed.%s", SubjectPrefix, TopicToken(topic))
}

// EngineBpmnErrorSubject returns the subject of a business-error signal.
func EngineBpmnErrorSubject(topic string) string {
	return fmt.Sprintf("%s.engine.bpmn_error.%s", SubjectPrefix, TopicToken(topic))
}

// EngineAllSubject returns the wildcard subject of all engine signals.
// Used for stream subject filter.
func EngineAllSubject() string {
	return fmt.Sprintf("%s.engine.>", SubjectPrefix)
}
