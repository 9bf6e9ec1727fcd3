package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/kv"
)

// Store implements core.JobStore on NATS JetStream KV. Every conditional
// write is a KV Update or Delete against the revision the caller read.
type Store struct {
	nc *nats.Conn
	js jetstream.JetStream

	// KV stores
	jobs    *kv.Store
	index   *kv.IndexStore
	dead    *kv.Store
	details *kv.Store

	scanBudget int
	logger     *slog.Logger
}

// DefaultScanBudget is how many job records one candidate or expired-lease
// read may examine.
const DefaultScanBudget = 10000

// Option configures a Store.
type Option func(*Store)

// WithScanBudget caps the records examined per candidate or expired-lease
// read. Records are visited least recently written first.
func WithScanBudget(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanBudget = n
		}
	}
}

var (
	_ core.JobStore  = (*Store)(nil)
	_ core.Recoverer = (*Store)(nil)
)

// New connects to NATS and sets up the JetStream resources.
func New(natsURL string, logger *slog.Logger, opts ...Option) (*Store, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(core.ServiceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	s, err := Open(nc, logger, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// Open sets up the JetStream resources on an existing connection. The
// returned Store owns nc.
func Open(nc *nats.Conn, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := SetupJetStream(ctx, js); err != nil {
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	openKV := func(name string) (jetstream.KeyValue, error) {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return bucket, nil
	}

	jobsKV, err := openKV(BucketJobs)
	if err != nil {
		return nil, err
	}
	indexKV, err := openKV(BucketIndex)
	if err != nil {
		return nil, err
	}
	deadKV, err := openKV(BucketDead)
	if err != nil {
		return nil, err
	}
	detailsKV, err := openKV(BucketDetails)
	if err != nil {
		return nil, err
	}

	s := &Store{
		nc:         nc,
		js:         js,
		jobs:       kv.NewStore(jobsKV),
		index:      kv.NewIndexStore(indexKV),
		dead:       kv.NewStore(deadKV),
		details:    kv.NewStore(detailsKV),
		scanBudget: DefaultScanBudget,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Conn returns the underlying NATS connection for auxiliary services
// (engine notifier, event broker).
func (s *Store) Conn() *nats.Conn {
	return s.nc
}

// JetStream returns the JetStream context.
func (s *Store) JetStream() jetstream.JetStream {
	return s.js
}

func (s *Store) Close() error {
	s.nc.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if status := s.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	if _, err := s.jobs.Status(ctx); err != nil {
		return fmt.Errorf("jobs bucket status: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, job *core.Job) (*core.Job, error) {
	key := JobKey(job.Topic, job.ID)

	existing, err := s.index.Claim(ctx, job.ID, key)
	if err != nil {
		return nil, fmt.Errorf("claim index %s: %w", job.ID, err)
	}
	if existing != "" {
		// The index entry can outlive its record; only a live record blocks the id.
		if s.jobs.Exists(ctx, existing) || s.dead.Exists(ctx, job.ID) {
			return nil, fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
		}
		if existing != key {
			if err := s.index.Set(ctx, job.ID, key); err != nil {
				return nil, fmt.Errorf("reset index %s: %w", job.ID, err)
			}
		}
	}

	stored := job.Clone()
	rev, err := s.jobs.CreateJSON(ctx, key, &jobRecord{Job: stored})
	if err != nil {
		if kv.IsConflict(err) {
			return nil, fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
		}
		return nil, fmt.Errorf("store job: %w", err)
	}
	stored.Version = rev
	return stored.Clone(), nil
}

// readJob loads the record at key with its revision as version.
func (s *Store) readJob(ctx context.Context, key string) (*jobRecord, error) {
	data, rev, err := s.jobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeJobRecord(data, rev)
}

func (s *Store) lookupKey(ctx context.Context, id string) (string, error) {
	key, err := s.index.Lookup(ctx, id)
	if err != nil {
		if kv.IsNotFound(err) {
			return "", core.ErrJobNotFound
		}
		return "", fmt.Errorf("lookup index %s: %w", id, err)
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.Job, error) {
	key, err := s.lookupKey(ctx, id)
	if err != nil {
		return nil, err
	}

	rec, err := s.readJob(ctx, key)
	if err != nil {
		if !kv.IsNotFound(err) {
			return nil, fmt.Errorf("get job %s: %w", id, err)
		}
		// A committed revival is active even before its record lands.
		job, rErr := s.finishPendingRevival(ctx, id)
		if rErr != nil {
			return nil, rErr
		}
		if job == nil {
			return nil, core.ErrJobNotFound
		}
		return job, nil
	}

	if rec.Move != nil {
		if _, err := s.completeMove(ctx, key, rec); err != nil {
			return nil, err
		}
		return nil, core.ErrJobNotFound
	}
	return rec.Job, nil
}

func (s *Store) Candidates(ctx context.Context, q core.CandidateQuery) ([]*core.Job, error) {
	if q.Limit <= 0 {
		return nil, nil
	}

	// Stop at Limit matches or the scan budget, whichever comes first.
	var out []*core.Job
	examined := 0
	err := s.jobs.Walk(ctx, TopicKeys(q.Topic), func(e kv.Entry) bool {
		examined++
		rec, err := decodeJobRecord(e.Value, e.Revision)
		if err != nil {
			s.logger.Warn("skipping undecodable job record", "key", e.Key, "error", err)
		} else if rec.Move == nil && q.Matches(rec.Job) {
			out = append(out, rec.Job)
		}
		return len(out) < q.Limit && examined < s.scanBudget
	})
	if err != nil {
		return nil, fmt.Errorf("scan topic %s: %w", q.Topic, err)
	}

	sort.Slice(out, func(a, b int) bool { return q.Less(out[a], out[b]) })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// writeError classifies a failed conditional write against key.
func (s *Store) writeError(ctx context.Context, key, id string, err error) error {
	if kv.IsNotFound(err) {
		return core.ErrJobNotFound
	}
	if !kv.IsConflict(err) {
		return fmt.Errorf("write job %s: %w", id, err)
	}
	rec, rErr := s.readJob(ctx, key)
	if rErr != nil {
		if kv.IsNotFound(rErr) {
			return core.ErrJobNotFound
		}
		return fmt.Errorf("reread job %s: %w", id, rErr)
	}
	if rec.Move != nil {
		return core.ErrJobNotFound
	}
	return fmt.Errorf("job %s at revision %d: %w", id, rec.Job.Version, core.ErrVersionConflict)
}

func (s *Store) Swap(ctx context.Context, job *core.Job) (*core.Job, error) {
	key := JobKey(job.Topic, job.ID)
	stored := job.Clone()
	rev, err := s.jobs.UpdateJSON(ctx, key, &jobRecord{Job: stored}, job.Version)
	if err != nil {
		return nil, s.writeError(ctx, key, job.ID, err)
	}
	stored.Version = rev
	return stored.Clone(), nil
}

func (s *Store) Remove(ctx context.Context, id string, version uint64) error {
	key, err := s.lookupKey(ctx, id)
	if err != nil {
		return err
	}
	if err := s.jobs.DeleteRevision(ctx, key, version); err != nil {
		return s.writeError(ctx, key, id, err)
	}
	if err := s.index.Release(ctx, id); err != nil {
		s.logger.Warn("failed to release index entry", "job_id", id, "error", err)
	}
	return nil
}

func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []*core.Job
	examined := 0
	err := s.jobs.Walk(ctx, ">", func(e kv.Entry) bool {
		examined++
		if rec, err := decodeJobRecord(e.Value, e.Revision); err == nil && rec.Move == nil {
			j := rec.Job
			if j.LockOwner != "" && j.LockExpiresAt != nil && j.LockExpiresAt.Before(now) {
				out = append(out, j)
			}
		}
		return len(out) < limit && examined < s.scanBudget
	})
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}

	sort.Slice(out, func(a, b int) bool { return out[a].LockExpiresAt.Before(*out[b].LockExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PutErrorDetail(ctx context.Context, id, detail string) error {
	if _, err := s.details.Put(ctx, id, []byte(detail)); err != nil {
		return fmt.Errorf("store error detail %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetErrorDetail(ctx context.Context, id string) (string, error) {
	data, _, err := s.details.Get(ctx, id)
	if err != nil {
		if kv.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("get error detail %s: %w", id, err)
	}
	return string(data), nil
}

func (s *Store) DeleteErrorDetail(ctx context.Context, id string) error {
	if err := s.details.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete error detail %s: %w", id, err)
	}
	return nil
}
