package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-lease/internal/core"
	natsbackend "github.com/openjobspec/ojs-lease/internal/nats"
)

func TestStreamEvents_WritesJSONLines(t *testing.T) {
	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	events := make(chan *core.JobEvent, 2)
	events <- core.NewJobEvent(core.EventJobAcquired, "job-1", "invoice", "w-1", at)
	events <- core.NewJobEvent(core.EventJobCompleted, "job-1", "invoice", "w-1", at)
	close(events)

	var out bytes.Buffer
	if err := streamEvents(context.Background(), &out, events); err != nil {
		t.Fatalf("streamEvents() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out.String())
	}
	var first core.JobEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if first.Type != core.EventJobAcquired || first.Timestamp != "2024-06-15T12:00:00.000Z" {
		t.Errorf("first event = %+v", first)
	}
}

func TestStreamEvents_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := streamEvents(ctx, &bytes.Buffer{}, make(chan *core.JobEvent)); err != nil {
		t.Errorf("streamEvents() error = %v, want nil", err)
	}
}

func TestSubscribeEvents_SelectsSubject(t *testing.T) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Skipf("skipping integration test; NATS unavailable at %s: %v", natsURL, err)
	}
	defer nc.Close()

	broker := natsbackend.NewPubSubBroker(nc)
	defer broker.Close()

	topic := "cli-events-" + core.NewUUIDv7()
	jobID := core.NewUUIDv7()
	tests := []struct {
		name         string
		topic, jobID string
	}{
		{"all", "", ""},
		{"topic", topic, ""},
		{"job", "", jobID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, unsubscribe, err := subscribeEvents(broker, tt.topic, tt.jobID)
			if err != nil {
				t.Fatalf("subscribeEvents() error = %v", err)
			}
			defer unsubscribe()
			if err := nc.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}

			if err := broker.PublishJobEvent(core.NewJobEvent(core.EventJobEnqueued, jobID, topic, "", time.Now())); err != nil {
				t.Fatalf("PublishJobEvent() error = %v", err)
			}
			// Other publishers may share the global subject; wait for ours.
			deadline := time.After(5 * time.Second)
			for {
				select {
				case ev := <-events:
					if ev.JobID == jobID {
						return
					}
				case <-deadline:
					t.Fatal("timed out waiting for event")
				}
			}
		})
	}
}
