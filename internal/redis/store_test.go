package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis unavailable: %v", err)
	}

	s := New(client, WithKeyPrefix("ojs-lease-test:"), WithOwnedClient())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.JobStore {
		return newTestStore(t)
	})
}

func TestSwapMovesLeaseIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	stored, err := s.Insert(ctx, &core.Job{
		ID:               core.NewUUIDv7(),
		Topic:            "redis-" + core.NewUUIDv7(),
		RetriesRemaining: 1,
		CreatedAt:        now,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	until := now.Add(time.Minute)
	leased := stored.Clone()
	leased.LockOwner = "w1"
	leased.LockExpiresAt = &until
	leased, err = s.Swap(ctx, leased)
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if _, err := s.client.ZScore(ctx, s.leasesKey(), stored.ID).Result(); err != nil {
		t.Fatalf("lease index missing %s: %v", stored.ID, err)
	}

	if _, err := s.Swap(ctx, leased.Unlocked()); err != nil {
		t.Fatalf("Swap() unlock error = %v", err)
	}
	if _, err := s.client.ZScore(ctx, s.leasesKey(), stored.ID).Result(); err != goredis.Nil {
		t.Errorf("lease index still holds %s after unlock, err = %v", stored.ID, err)
	}
}

func TestKeyPrefix(t *testing.T) {
	s := New(nil, WithKeyPrefix("x:"))
	if got := s.jobKey("1"); got != "x:job:1" {
		t.Errorf("jobKey() = %q, want x:job:1", got)
	}
	if got := s.deadTopicKey("t"); got != "x:dead_topic:t" {
		t.Errorf("deadTopicKey() = %q, want x:dead_topic:t", got)
	}
}
