// Package redis implements core.JobStore on Redis. Conditional writes use
// optimistic WATCH/MULTI transactions on the job key; a transaction that
// loses the race surfaces as core.ErrVersionConflict.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openjobspec/ojs-lease/internal/core"
)

var _ core.JobStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces every key the store touches.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithOwnedClient makes Close close the client.
func WithOwnedClient() Option {
	return func(s *Store) { s.owned = true }
}

// Store implements core.JobStore backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	prefix string
	owned  bool
}

// New creates a Redis-backed store. Unless WithOwnedClient is given the
// caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), prefix: defaultKeyPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects to a single Redis node and returns a store owning the client.
func Dial(addr, password string, opts ...Option) *Store {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password})
	return New(client, append([]Option{WithOwnedClient()}, opts...)...)
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when the store owns it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
