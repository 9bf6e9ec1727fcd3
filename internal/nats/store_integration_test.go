package nats

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.JobStore {
		return newIntegrationStore(t)
	})
}

func newTestJob(topic string) *core.Job {
	return &core.Job{
		ID:               core.NewUUIDv7(),
		Topic:            topic,
		Payload:          map[string]any{"k": "v"},
		RetriesRemaining: 1,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStoreFinishesCommittedMoveOnRead(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	topic := "it-move-" + core.NewUUIDv7()

	stored, err := s.Insert(ctx, newTestJob(topic))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// Commit the move without copying, as a writer that stopped right after
	// the commit point would.
	key := JobKey(topic, stored.ID)
	rec := &jobRecord{Job: stored.Clone(), Move: &moveMarker{FailedAt: time.Now().UTC()}}
	rec.Job.ExceptionMessage = "boom"
	if _, err := s.jobs.UpdateJSON(ctx, key, rec, stored.Version); err != nil {
		t.Fatalf("UpdateJSON() error = %v", err)
	}

	if _, err := s.Get(ctx, stored.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("Get() error = %v, want ErrJobNotFound", err)
	}
	dl, err := s.GetDeadLetter(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetDeadLetter() error = %v", err)
	}
	if dl.ExceptionMessage != "boom" {
		t.Errorf("ExceptionMessage = %q, want boom", dl.ExceptionMessage)
	}
	if s.jobs.Exists(ctx, key) {
		t.Error("active record still present after finished move")
	}
}

func TestStoreRecoverPendingRevival(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	topic := "it-revive-" + core.NewUUIDv7()

	stored, err := s.Insert(ctx, newTestJob(topic))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := s.MoveToDeadLetter(ctx, stored, time.Now()); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}

	rec, rev, err := s.readDead(ctx, stored.ID)
	if err != nil {
		t.Fatalf("readDead() error = %v", err)
	}
	rec.Revive = &reviveMarker{Retries: 4, RevivedAt: time.Now().UTC()}
	if _, err := s.dead.UpdateJSON(ctx, stored.ID, rec, rev); err != nil {
		t.Fatalf("UpdateJSON() error = %v", err)
	}

	n, err := s.RecoverPending(ctx)
	if err != nil {
		t.Fatalf("RecoverPending() error = %v", err)
	}
	if n < 1 {
		t.Errorf("RecoverPending() = %d, want at least 1", n)
	}

	job, err := s.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.RetriesRemaining != 4 {
		t.Errorf("RetriesRemaining = %d, want 4", job.RetriesRemaining)
	}
	if _, err := s.GetDeadLetter(ctx, stored.ID); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Errorf("GetDeadLetter() error = %v, want ErrDeadLetterNotFound", err)
	}
}

func TestEngineNotifierPublishes(t *testing.T) {
	s := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := "it-engine-" + core.NewUUIDv7()
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, EngineStreamName, jetstream.ConsumerConfig{
		FilterSubject: EngineCompletedSubject(topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("CreateOrUpdateConsumer() error = %v", err)
	}

	n := NewEngineNotifier(s.js)
	err = n.OnJobCompleted(ctx, &core.JobCompletion{
		JobID:     core.NewUUIDv7(),
		Topic:     topic,
		Variables: map[string]any{"approved": true},
	})
	if err != nil {
		t.Fatalf("OnJobCompleted() error = %v", err)
	}

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	got := 0
	for msg := range msgs.Messages() {
		got++
		_ = msg.Ack()
	}
	if got != 1 {
		t.Errorf("received %d engine signals, want 1", got)
	}
}

func TestPubSubBrokerDeliversTopicEvents(t *testing.T) {
	s := newIntegrationStore(t)
	broker := NewPubSubBroker(s.Conn())
	t.Cleanup(func() { _ = broker.Close() })

	topic := "it-events-" + core.NewUUIDv7()
	ch, unsubscribe, err := broker.SubscribeTopic(topic)
	if err != nil {
		t.Fatalf("SubscribeTopic() error = %v", err)
	}
	defer unsubscribe()
	if err := s.Conn().Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if err := broker.PublishJobEvent(core.NewJobEvent(core.EventJobAcquired, "job-1", topic, "w1", time.Now())); err != nil {
		t.Fatalf("PublishJobEvent() error = %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != core.EventJobAcquired || ev.WorkerID != "w1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func newIntegrationStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	s, err := New(natsURL, nil, opts...)
	if err != nil {
		t.Skipf("skipping integration test; NATS unavailable at %s: %v", natsURL, err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

type recordingEngine struct {
	completed []*core.JobCompletion
	bpmn      []*core.JobBusinessError
}

func (e *recordingEngine) OnJobCompleted(_ context.Context, c *core.JobCompletion) error {
	e.completed = append(e.completed, c)
	return nil
}

func (e *recordingEngine) OnJobBusinessError(_ context.Context, be *core.JobBusinessError) error {
	e.bpmn = append(e.bpmn, be)
	return nil
}

func TestEngineConsumerDeliversSignals(t *testing.T) {
	s := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := "it-consumer-" + core.NewUUIDv7()
	c := NewEngineConsumer(s.js, "it-consumer-"+core.NewUUIDv7(), []string{topic}, nil)
	t.Cleanup(func() { _ = c.Delete(context.Background()) })

	n := NewEngineNotifier(s.js)
	jobID := core.NewUUIDv7()
	if err := n.OnJobCompleted(ctx, &core.JobCompletion{JobID: jobID, Topic: topic}); err != nil {
		t.Fatalf("OnJobCompleted() error = %v", err)
	}
	if err := n.OnJobBusinessError(ctx, &core.JobBusinessError{JobID: jobID, Topic: topic, ErrorCode: "E1"}); err != nil {
		t.Fatalf("OnJobBusinessError() error = %v", err)
	}

	rec := &recordingEngine{}
	for len(rec.completed)+len(rec.bpmn) < 2 {
		if ctx.Err() != nil {
			t.Fatalf("timed out: completed = %d bpmn = %d, want 1/1", len(rec.completed), len(rec.bpmn))
		}
		if _, err := c.Poll(ctx, rec); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}
	if rec.completed[0].JobID != jobID {
		t.Errorf("completed job = %q, want %q", rec.completed[0].JobID, jobID)
	}
	if rec.bpmn[0].ErrorCode != "E1" {
		t.Errorf("bpmn error code = %q, want E1", rec.bpmn[0].ErrorCode)
	}
}

func TestStoreCandidatesRespectScanBudget(t *testing.T) {
	s := newIntegrationStore(t, WithScanBudget(2))
	ctx := context.Background()
	topic := "it-budget-" + core.NewUUIDv7()

	for i := 0; i < 5; i++ {
		if _, err := s.Insert(ctx, newTestJob(topic)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got, err := s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: time.Now().Add(time.Second), Limit: 10})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Candidates() = %d jobs, want 2 with a scan budget of 2", len(got))
	}

	wide := newIntegrationStore(t)
	got, err = wide.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: time.Now().Add(time.Second), Limit: 3})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Candidates() = %d jobs, want 3", len(got))
	}
}

func TestStoreMalformedIDIsNotFound(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "a*b"); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
	if _, err := s.GetDeadLetter(ctx, "a*b"); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Errorf("GetDeadLetter() error = %v, want ErrDeadLetterNotFound", err)
	}
}
