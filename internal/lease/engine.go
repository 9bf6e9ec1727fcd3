package lease

import (
	"context"
	"log/slog"

	"github.com/openjobspec/ojs-lease/internal/core"
)

var _ core.Engine = (*LogEngine)(nil)

// LogEngine is the engine collaborator used when no engine transport is
// configured. It only logs.
type LogEngine struct {
	logger *slog.Logger
}

// NewLogEngine returns a LogEngine writing to logger.
func NewLogEngine(logger *slog.Logger) *LogEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEngine{logger: logger}
}

func (e *LogEngine) OnJobCompleted(_ context.Context, c *core.JobCompletion) error {
	e.logger.Info("job completed",
		"job_id", c.JobID,
		"topic", c.Topic,
		"worker_id", c.WorkerID,
		"process_instance_id", c.Correlation.ProcessInstanceID,
		"variables", len(c.Variables),
	)
	return nil
}

func (e *LogEngine) OnJobBusinessError(_ context.Context, be *core.JobBusinessError) error {
	e.logger.Info("job raised business error",
		"job_id", be.JobID,
		"topic", be.Topic,
		"worker_id", be.WorkerID,
		"error_code", be.ErrorCode,
		"process_instance_id", be.Correlation.ProcessInstanceID,
	)
	return nil
}
