package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Store provides typed access to a NATS KV bucket. The KV revision of an
// entry is the optimistic-concurrency version of the value stored there.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Entry is one key of a bucket scan.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put stores a value at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Put(ctx, key, value)
}

// Create stores a value at key only if it doesn't already exist.
// Returns jetstream.ErrKeyExists if the key already exists.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Create(ctx, key, value)
}

// Update stores a value at key only if the revision matches.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.kv.Update(ctx, key, value, revision)
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// DeleteRevision removes a key only if its last revision matches.
func (s *Store) DeleteRevision(ctx context.Context, key string, revision uint64) error {
	return s.kv.Delete(ctx, key, jetstream.LastRevision(revision))
}

// Scan returns every live entry whose key matches pattern (NATS subject
// wildcards). Deleted and purged keys are skipped.
func (s *Store) Scan(ctx context.Context, pattern string) ([]Entry, error) {
	var entries []Entry
	err := s.Walk(ctx, pattern, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Walk calls fn for each live entry matching pattern, least recently
// written first, until fn returns false or the entries run out.
func (s *Store) Walk(ctx context.Context, pattern string, fn func(Entry) bool) error {
	w, err := s.kv.Watch(ctx, pattern, jetstream.IgnoreDeletes())
	if err != nil {
		return fmt.Errorf("watch %s: %w", pattern, err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-w.Updates():
			// A nil entry marks the end of the initial values.
			if !ok || e == nil {
				return nil
			}
			if !fn(Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()}) {
				return nil
			}
		}
	}
}

// CreateJSON marshals and creates a JSON value.
func (s *Store) CreateJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Create(ctx, key, data)
}

// UpdateJSON marshals v and stores it conditional on revision.
func (s *Store) UpdateJSON(ctx context.Context, key string, v any, revision uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal key %s: %w", key, err)
	}
	return s.Update(ctx, key, data, revision)
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.kv.Get(ctx, key)
	return err == nil
}

// Status reports the bucket status; it doubles as a liveness probe.
func (s *Store) Status(ctx context.Context) (jetstream.KeyValueStatus, error) {
	return s.kv.Status(ctx)
}

// IsNotFound reports whether err means the key is absent or deleted. A key
// the bucket rejects as malformed can never have been stored, so it counts
// as absent too.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		errors.Is(err, jetstream.ErrInvalidKey)
}

// IsConflict reports whether err is a failed revision check.
func IsConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
