package postgres

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		t.Skipf("postgres unavailable: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.JobStore {
		return newTestStore(t)
	})
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var version int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(version_id) FROM goose_db_version WHERE is_applied`).Scan(&version); err != nil {
		t.Fatalf("read goose version: %v", err)
	}
	if version != 1 {
		t.Errorf("goose version = %d, want 1", version)
	}
}

func TestMigrationsAreGooseAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations")
	}
	for _, e := range entries {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", e.Name(), err)
		}
		sql := string(data)
		if !strings.HasPrefix(sql, "-- +goose Up") || !strings.Contains(sql, "-- +goose Down") {
			t.Errorf("%s lacks goose Up/Down annotations", e.Name())
		}
	}
}

func TestInsertRejectsDeadLetterID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &core.Job{
		ID:               core.NewUUIDv7(),
		Topic:            "pg-" + core.NewUUIDv7(),
		RetriesRemaining: 0,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	stored, err := s.Insert(ctx, job)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := s.MoveToDeadLetter(ctx, stored, time.Now()); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}
	if _, err := s.Insert(ctx, job); err == nil {
		t.Fatal("Insert() of dead-lettered id succeeded, want ErrJobExists")
	}
}
