// Package lease implements the external-task lease services on top of a
// core.JobStore: acquisition, completion, failure and dead-letter handling,
// and lease reaping. The store's conditional write is the only
// synchronization point; a Service is safe for concurrent use.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openjobspec/ojs-lease/internal/core"
)

const (
	// DefaultCandidateFactor sizes the candidate window as a multiple of
	// the requested count.
	DefaultCandidateFactor = 4
	// DefaultMaxCandidates caps the candidate window.
	DefaultMaxCandidates = 1000

	// operatorAttempts bounds the retries of operator actions that lose a
	// race against a worker or the reaper.
	operatorAttempts = 5
)

var _ core.Backend = (*Service)(nil)

// Service implements core.Backend.
type Service struct {
	store           core.JobStore
	engine          core.Engine
	events          core.EventPublisher
	logger          *slog.Logger
	tracer          trace.Tracer
	now             func() time.Time
	candidateFactor int
	maxCandidates   int
	backendName     string
	startTime       time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the engine collaborator notified on complete and
// bpmnError. The default logs the notification.
func WithEngine(e core.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithEventPublisher publishes lifecycle events through p.
func WithEventPublisher(p core.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCandidateWindow sets how many candidates acquisition reads per
// requested job and the absolute cap on that window.
func WithCandidateWindow(factor, maxCandidates int) Option {
	return func(s *Service) {
		if factor > 0 {
			s.candidateFactor = factor
		}
		if maxCandidates > 0 {
			s.maxCandidates = maxCandidates
		}
	}
}

// WithBackendName labels the store in health responses.
func WithBackendName(name string) Option {
	return func(s *Service) { s.backendName = name }
}

// New creates a Service over store.
func New(store core.JobStore, opts ...Option) *Service {
	s := &Service{
		store:           store,
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		candidateFactor: DefaultCandidateFactor,
		maxCandidates:   DefaultMaxCandidates,
		backendName:     "unknown",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = NewLogEngine(s.logger)
	}
	s.startTime = s.now()
	return s
}

// Store returns the underlying job store.
func (s *Service) Store() core.JobStore {
	return s.store
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// publish emits a lifecycle event. Failures are logged only.
func (s *Service) publish(eventType string, j *core.Job, workerID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJobEvent(core.NewJobEvent(eventType, j.ID, j.Topic, workerID, s.clock())); err != nil {
		s.logger.Warn("failed to publish job event", "type", eventType, "job_id", j.ID, "error", err)
	}
}

// translate maps store sentinels onto caller-facing errors.
func translate(err error, id string) error {
	var ojsErr *core.OJSError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ojsErr):
		return err
	case errors.Is(err, core.ErrJobNotFound):
		return core.NewNotFoundError("job", id)
	case errors.Is(err, core.ErrDeadLetterNotFound):
		return core.NewNotFoundError("dead letter job", id)
	case errors.Is(err, core.ErrJobExists):
		return core.NewConflictError("a job with this id already exists", map[string]any{"job_id": id})
	case errors.Is(err, core.ErrVersionConflict):
		return core.NewConflictError("job was modified concurrently", map[string]any{"job_id": id})
	default:
		return fmt.Errorf("job %s: %w", id, err)
	}
}

// lostRace reports whether err means another writer got to the job first.
func lostRace(err error) bool {
	return errors.Is(err, core.ErrVersionConflict) || errors.Is(err, core.ErrJobNotFound)
}

// Enqueue creates an unlocked job on behalf of the engine.
func (s *Service) Enqueue(ctx context.Context, req *core.EnqueueRequest) (id string, err error) {
	if verr := core.ValidateEnqueueRequest(req); verr != nil {
		return "", verr
	}
	ctx, span := s.startSpan(ctx, "enqueue", "", req.Topic)
	defer func() { endSpan(span, err) }()

	retries := core.DefaultRetries
	if req.Retries != nil {
		retries = *req.Retries
	}

	job := &core.Job{
		ID:                   core.NewUUIDv7(),
		Topic:                req.Topic,
		HandlerConfiguration: req.HandlerConfiguration,
		Payload:              core.CloneVariables(req.Payload),
		RetriesRemaining:     retries,
		Priority:             req.Priority,
		Correlation:          req.Correlation,
		CreatedAt:            s.clock().Truncate(time.Millisecond),
	}

	stored, err := s.store.Insert(ctx, job)
	if err != nil {
		return "", translate(err, job.ID)
	}

	s.logger.Debug("job enqueued", "job_id", stored.ID, "topic", stored.Topic)
	s.publish(core.EventJobEnqueued, stored, "")
	return stored.ID, nil
}

// GetJob returns the active job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return nil, verr
	}
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, translate(err, jobID)
	}
	return j, nil
}

// GetErrorDetail returns the failure detail stored for a job, "" when none.
func (s *Service) GetErrorDetail(ctx context.Context, jobID string) (string, error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return "", verr
	}
	detail, err := s.store.GetErrorDetail(ctx, jobID)
	if err != nil {
		return "", translate(err, jobID)
	}
	return detail, nil
}

// heldJob loads the job and checks that workerID holds a live lease on it.
func (s *Service) heldJob(ctx context.Context, jobID, workerID string) (*core.Job, error) {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, translate(err, jobID)
	}
	if !j.IsLeasedBy(workerID, s.clock()) {
		return nil, core.NewOwnershipError(workerID, jobID)
	}
	return j, nil
}

// ExtendLock moves the lease expiry of a held job to now+newDuration.
func (s *Service) ExtendLock(ctx context.Context, jobID, workerID string, newDuration time.Duration) (err error) {
	if verr := core.ValidateJobRef(jobID, workerID); verr != nil {
		return verr
	}
	if verr := core.ValidateLeaseDuration(newDuration); verr != nil {
		return verr
	}
	ctx, span := s.startSpan(ctx, "extend_lock", jobID, "")
	defer func() { endSpan(span, err) }()

	j, err := s.heldJob(ctx, jobID, workerID)
	if err != nil {
		return err
	}

	next := j.Clone()
	expires := s.clock().Add(newDuration)
	next.LockExpiresAt = &expires
	if _, err := s.store.Swap(ctx, next); err != nil {
		if lostRace(err) {
			return core.NewOwnershipError(workerID, jobID)
		}
		return translate(err, jobID)
	}
	return nil
}

// Unlock clears the lease (and any backoff) of a job without touching its
// retries.
func (s *Service) Unlock(ctx context.Context, jobID string) (err error) {
	if verr := core.ValidateJobID(jobID); verr != nil {
		return verr
	}
	ctx, span := s.startSpan(ctx, "unlock", jobID, "")
	defer func() { endSpan(span, err) }()

	return s.retryOperator(ctx, jobID, func(j *core.Job) error {
		if j.LockOwner == "" && j.LockExpiresAt == nil {
			return nil
		}
		if _, err := s.store.Swap(ctx, j.Unlocked()); err != nil {
			return err
		}
		s.publish(core.EventJobUnlocked, j, j.LockOwner)
		return nil
	})
}

// retryOperator runs fn against a fresh read of the job, retrying when a
// concurrent writer wins.
func (s *Service) retryOperator(ctx context.Context, jobID string, fn func(j *core.Job) error) error {
	var err error
	for attempt := 0; attempt < operatorAttempts; attempt++ {
		var j *core.Job
		j, err = s.store.Get(ctx, jobID)
		if err != nil {
			return translate(err, jobID)
		}
		err = fn(j)
		if err == nil || !errors.Is(err, core.ErrVersionConflict) {
			return translate(err, jobID)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return translate(err, jobID)
}

// Health pings the store.
func (s *Service) Health(ctx context.Context) (*core.HealthResponse, error) {
	start := time.Now()
	err := s.store.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	resp := &core.HealthResponse{
		Status:        "ok",
		Version:       core.OJSVersion,
		UptimeSeconds: int64(s.now().Sub(s.startTime).Seconds()),
		Backend: core.BackendHealth{
			Type:      s.backendName,
			Status:    "connected",
			LatencyMs: latency,
		},
	}
	if err != nil {
		resp.Status = "degraded"
		resp.Backend.Status = "disconnected"
		resp.Backend.Error = err.Error()
		return resp, err
	}
	return resp, nil
}
