package nats

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// EngineNotifier implements core.Engine by publishing signals to the
// OJS_LEASE_ENGINE stream, from which the process engine resumes executions.
type EngineNotifier struct {
	js jetstream.JetStream
}

var _ core.Engine = (*EngineNotifier)(nil)

// NewEngineNotifier creates a notifier on js. The stream must exist
// (see SetupJetStream).
func NewEngineNotifier(js jetstream.JetStream) *EngineNotifier {
	return &EngineNotifier{js: js}
}

func (n *EngineNotifier) OnJobCompleted(ctx context.Context, c *core.JobCompletion) error {
	return publishJSON(ctx, n.js, EngineCompletedSubject(c.Topic), "completed-"+c.JobID, c)
}

func (n *EngineNotifier) OnJobBusinessError(ctx context.Context, e *core.JobBusinessError) error {
	return publishJSON(ctx, n.js, EngineBpmnErrorSubject(e.Topic), "bpmn_error-"+e.JobID, e)
}
