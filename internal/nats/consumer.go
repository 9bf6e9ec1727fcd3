package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// DefaultEngineConsumer is the durable consumer name used by the engine side.
const DefaultEngineConsumer = "ojs-lease-engine"

// EngineConsumer is the process-engine end of the OJS_LEASE_ENGINE stream:
// it pulls completion and business-error signals and hands them to a
// core.Engine. A signal is acked once the handler accepts it and
// redelivered after a delay otherwise.
type EngineConsumer struct {
	js       jetstream.JetStream
	name     string
	topics   []string
	cons     jetstream.Consumer
	batch    int
	maxWait  time.Duration
	nakDelay time.Duration
	logger   *slog.Logger
}

// NewEngineConsumer creates a consumer with the given durable name
// (DefaultEngineConsumer when empty) for the signals of topics, or of every
// topic when none are given. The stream is a work queue, so consumers must
// not overlap.
func NewEngineConsumer(js jetstream.JetStream, name string, topics []string, logger *slog.Logger) *EngineConsumer {
	if name == "" {
		name = DefaultEngineConsumer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineConsumer{
		js:       js,
		name:     name,
		topics:   topics,
		batch:    32,
		maxWait:  100 * time.Millisecond,
		nakDelay: time.Second,
		logger:   logger,
	}
}

func (c *EngineConsumer) consumer(ctx context.Context) (jetstream.Consumer, error) {
	if c.cons != nil {
		return c.cons, nil
	}

	cfg := jetstream.ConsumerConfig{
		Durable:   c.name,
		AckPolicy: jetstream.AckExplicitPolicy,
	}
	if len(c.topics) == 0 {
		cfg.FilterSubject = EngineAllSubject()
	}
	for _, topic := range c.topics {
		cfg.FilterSubjects = append(cfg.FilterSubjects, EngineCompletedSubject(topic), EngineBpmnErrorSubject(topic))
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, EngineStreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", c.name, err)
	}
	c.cons = consumer
	return consumer, nil
}

// Delete removes the durable consumer from the stream.
func (c *EngineConsumer) Delete(ctx context.Context) error {
	c.cons = nil
	if err := c.js.DeleteConsumer(ctx, EngineStreamName, c.name); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
		return fmt.Errorf("deleting consumer %s: %w", c.name, err)
	}
	return nil
}

// Poll fetches one batch of signals and delivers them to handler. It
// returns the number of signals the handler accepted.
func (c *EngineConsumer) Poll(ctx context.Context, handler core.Engine) (int, error) {
	consumer, err := c.consumer(ctx)
	if err != nil {
		return 0, err
	}

	msgs, err := consumer.Fetch(c.batch, jetstream.FetchMaxWait(c.maxWait))
	if err != nil {
		// Timeout or no messages is not an error
		return 0, nil
	}

	delivered := 0
	for msg := range msgs.Messages() {
		if err := c.deliver(ctx, msg, handler); err != nil {
			c.logger.Warn("engine signal rejected", "subject", msg.Subject(), "error", err)
			if errors.Is(err, errMalformedSignal) {
				_ = msg.Term()
			} else {
				_ = msg.NakWithDelay(c.nakDelay)
			}
			continue
		}
		if err := msg.Ack(); err != nil {
			c.logger.Warn("failed to ack engine signal", "subject", msg.Subject(), "error", err)
			continue
		}
		delivered++
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		c.logger.Debug("engine fetch ended early", "error", err)
	}
	return delivered, nil
}

// Run polls until ctx is done. It is not safe to run Poll concurrently on
// the same EngineConsumer.
func (c *EngineConsumer) Run(ctx context.Context, handler core.Engine) error {
	for {
		if _, err := c.Poll(ctx, handler); err != nil {
			c.logger.Error("engine consumer poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.nakDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

var errMalformedSignal = errors.New("malformed engine signal")

func (c *EngineConsumer) deliver(ctx context.Context, msg jetstream.Msg, handler core.Engine) error {
	switch subject := msg.Subject(); {
	case strings.HasPrefix(subject, SubjectPrefix+".engine.completed."):
		var done core.JobCompletion
		if err := json.Unmarshal(msg.Data(), &done); err != nil {
			return fmt.Errorf("%w: %v", errMalformedSignal, err)
		}
		return handler.OnJobCompleted(ctx, &done)
	case strings.HasPrefix(subject, SubjectPrefix+".engine.bpmn_error."):
		var be core.JobBusinessError
		if err := json.Unmarshal(msg.Data(), &be); err != nil {
			return fmt.Errorf("%w: %v", errMalformedSignal, err)
		}
		return handler.OnJobBusinessError(ctx, &be)
	default:
		return fmt.Errorf("%w: unexpected subject %s", errMalformedSignal, subject)
	}
}
