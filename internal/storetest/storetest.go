// Package storetest is a conformance suite run against every core.JobStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// Factory returns a ready store. The suite uses unique topics per test so a
// shared, persistent backend does not need to be emptied between runs.
type Factory func(t *testing.T) core.JobStore

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s core.JobStore)
	}{
		{"InsertGet", testInsertGet},
		{"InsertDuplicate", testInsertDuplicate},
		{"GetMissing", testGetMissing},
		{"SwapConditional", testSwapConditional},
		{"RemoveConditional", testRemoveConditional},
		{"CandidatesOrderAndLimit", testCandidatesOrderAndLimit},
		{"CandidatesSkipLiveLeases", testCandidatesSkipLiveLeases},
		{"CandidatesMinRetries", testCandidatesMinRetries},
		{"CandidatesPriority", testCandidatesPriority},
		{"ExpiredLeases", testExpiredLeases},
		{"MoveToDeadLetter", testMoveToDeadLetter},
		{"MoveToDeadLetterStale", testMoveToDeadLetterStale},
		{"ReviveFreshVersion", testReviveFreshVersion},
		{"ListDeadLetter", testListDeadLetter},
		{"RemoveDeadLetter", testRemoveDeadLetter},
		{"ErrorDetail", testErrorDetail},
		{"ConcurrentSwapSingleWinner", testConcurrentSwap},
		{"ConcurrentReviveSingleWinner", testConcurrentRevive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func uniqueTopic() string {
	return "storetest-" + core.NewUUIDv7()
}

func newJob(topic string, created time.Time) *core.Job {
	return &core.Job{
		ID:                   core.NewUUIDv7(),
		Topic:                topic,
		HandlerConfiguration: "cfg",
		Payload:              map[string]any{"amount": float64(10), "nested": map[string]any{"k": "v"}},
		RetriesRemaining:     3,
		Correlation:          core.Correlation{ProcessInstanceID: "pi-1", ActivityID: "task"},
		CreatedAt:            created,
	}
}

func mustInsert(t *testing.T, s core.JobStore, j *core.Job) *core.Job {
	t.Helper()
	got, err := s.Insert(context.Background(), j)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return got
}

func lease(j *core.Job, worker string, until time.Time) *core.Job {
	cp := j.Clone()
	cp.LockOwner = worker
	cp.LockExpiresAt = &until
	return cp
}

func ids(jobs []*core.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func testInsertGet(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	j := newJob(uniqueTopic(), now())
	stored := mustInsert(t, s, j)
	if stored.Version == 0 {
		t.Error("Insert() returned version 0")
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Topic != j.Topic || got.HandlerConfiguration != "cfg" || got.RetriesRemaining != 3 {
		t.Errorf("Get() = %+v", got)
	}
	if got.Version != stored.Version {
		t.Errorf("Version = %d, want %d", got.Version, stored.Version)
	}
	if got.Payload["amount"] != float64(10) {
		t.Errorf("Payload[amount] = %v, want 10", got.Payload["amount"])
	}
	if got.Correlation.ProcessInstanceID != "pi-1" {
		t.Errorf("Correlation = %+v", got.Correlation)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}
}

func testInsertDuplicate(t *testing.T, s core.JobStore) {
	j := newJob(uniqueTopic(), now())
	mustInsert(t, s, j)
	_, err := s.Insert(context.Background(), j)
	if !errors.Is(err, core.ErrJobExists) {
		t.Errorf("Insert() duplicate error = %v, want ErrJobExists", err)
	}
}

func testGetMissing(t *testing.T, s core.JobStore) {
	_, err := s.Get(context.Background(), core.NewUUIDv7())
	if !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func testSwapConditional(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))

	leased, err := s.Swap(ctx, lease(stored, "w1", now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if leased.Version <= stored.Version {
		t.Errorf("Swap() version %d not above %d", leased.Version, stored.Version)
	}

	// The old version is stale now.
	_, err = s.Swap(ctx, lease(stored, "w2", now().Add(time.Minute)))
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale Swap() error = %v, want ErrVersionConflict", err)
	}
	got, _ := s.Get(ctx, stored.ID)
	if got.LockOwner != "w1" {
		t.Errorf("LockOwner = %q after rejected swap, want w1", got.LockOwner)
	}

	missing := newJob(stored.Topic, now())
	missing.Version = 1
	if _, err := s.Swap(ctx, missing); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Swap() on missing job error = %v, want ErrJobNotFound", err)
	}
}

func testRemoveConditional(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))
	leased, err := s.Swap(ctx, lease(stored, "w1", now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	if err := s.Remove(ctx, stored.ID, stored.Version); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale Remove() error = %v, want ErrVersionConflict", err)
	}
	if err := s.Remove(ctx, stored.ID, leased.Version); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := s.Get(ctx, stored.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Get() after Remove() error = %v, want ErrJobNotFound", err)
	}
	if err := s.Remove(ctx, stored.ID, leased.Version); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("second Remove() error = %v, want ErrJobNotFound", err)
	}
}

func testCandidatesOrderAndLimit(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	topic := uniqueTopic()
	base := now().Add(-time.Hour)
	var inserted []*core.Job
	for i := 0; i < 5; i++ {
		inserted = append(inserted, mustInsert(t, s, newJob(topic, base.Add(time.Duration(i)*time.Second))))
	}
	mustInsert(t, s, newJob(uniqueTopic(), base))

	got, err := s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: now(), Limit: 3})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	want := ids(inserted[:3])
	if gotIDs := ids(got); len(gotIDs) != 3 || gotIDs[0] != want[0] || gotIDs[1] != want[1] || gotIDs[2] != want[2] {
		t.Errorf("Candidates() = %v, want %v", gotIDs, want)
	}

	all, err := s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: now(), Limit: 100})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("len(Candidates()) = %d, want 5", len(all))
	}
}

func testCandidatesSkipLiveLeases(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	topic := uniqueTopic()
	base := now().Add(-time.Hour)
	live := mustInsert(t, s, newJob(topic, base))
	expired := mustInsert(t, s, newJob(topic, base.Add(time.Second)))
	backoff := mustInsert(t, s, newJob(topic, base.Add(2*time.Second)))
	free := mustInsert(t, s, newJob(topic, base.Add(3*time.Second)))

	if _, err := s.Swap(ctx, lease(live, "w1", now().Add(time.Hour))); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if _, err := s.Swap(ctx, lease(expired, "w1", now().Add(-time.Minute))); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	cooling := lease(backoff, "", now().Add(time.Hour))
	if _, err := s.Swap(ctx, cooling); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	got, err := s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: now(), Limit: 10})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	gotIDs := ids(got)
	if len(gotIDs) != 2 {
		t.Fatalf("Candidates() = %v, want [%s %s]", gotIDs, expired.ID, free.ID)
	}
	seen := map[string]bool{gotIDs[0]: true, gotIDs[1]: true}
	if !seen[expired.ID] || !seen[free.ID] {
		t.Errorf("Candidates() = %v, want expired and free jobs", gotIDs)
	}
}

func testCandidatesMinRetries(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	topic := uniqueTopic()
	low := newJob(topic, now().Add(-time.Minute))
	low.RetriesRemaining = 1
	mustInsert(t, s, low)
	high := mustInsert(t, s, newJob(topic, now()))

	minRetries := 2
	got, err := s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: now(), Limit: 10, MinRetries: &minRetries})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != high.ID {
		t.Errorf("Candidates() = %v, want [%s]", ids(got), high.ID)
	}
}

func testCandidatesPriority(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	topic := uniqueTopic()
	old := mustInsert(t, s, newJob(topic, now().Add(-time.Minute)))
	urgent := newJob(topic, now())
	urgent.Priority = 10
	urgent = mustInsert(t, s, urgent)

	got, err := s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: now(), Limit: 1, UsePriority: true})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != urgent.ID {
		t.Errorf("Candidates(priority) = %v, want [%s]", ids(got), urgent.ID)
	}

	got, err = s.Candidates(ctx, core.CandidateQuery{Topic: topic, Now: now(), Limit: 1})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Errorf("Candidates() = %v, want [%s]", ids(got), old.ID)
	}
}

func testExpiredLeases(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	topic := uniqueTopic()
	expired := mustInsert(t, s, newJob(topic, now()))
	live := mustInsert(t, s, newJob(topic, now()))
	if _, err := s.Swap(ctx, lease(expired, "w1", now().Add(-time.Second))); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if _, err := s.Swap(ctx, lease(live, "w1", now().Add(time.Hour))); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	got, err := s.ExpiredLeases(ctx, now(), 1000)
	if err != nil {
		t.Fatalf("ExpiredLeases() error = %v", err)
	}
	found := false
	for _, j := range got {
		if j.ID == live.ID {
			t.Errorf("ExpiredLeases() returned live lease %s", live.ID)
		}
		if j.ID == expired.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("ExpiredLeases() missing %s", expired.ID)
	}
}

func testMoveToDeadLetter(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))
	stored.ExceptionMessage = "boom"
	stored.RetriesRemaining = 0

	failedAt := now()
	dl, err := s.MoveToDeadLetter(ctx, stored, failedAt)
	if err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}
	if dl.ExceptionMessage != "boom" || !dl.FailedAt.Equal(failedAt) {
		t.Errorf("MoveToDeadLetter() = %+v", dl)
	}
	if _, err := s.Get(ctx, stored.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Get() after move error = %v, want ErrJobNotFound", err)
	}
	got, err := s.GetDeadLetter(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetDeadLetter() error = %v", err)
	}
	if got.ExceptionMessage != "boom" || got.Topic != stored.Topic {
		t.Errorf("GetDeadLetter() = %+v", got)
	}
	if got.Payload["amount"] != float64(10) {
		t.Errorf("dead letter payload = %v", got.Payload)
	}
}

func testMoveToDeadLetterStale(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))
	if _, err := s.Swap(ctx, lease(stored, "w1", now().Add(time.Minute))); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	_, err := s.MoveToDeadLetter(ctx, stored, now())
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale MoveToDeadLetter() error = %v, want ErrVersionConflict", err)
	}
	if _, err := s.Get(ctx, stored.ID); err != nil {
		t.Errorf("Get() after rejected move error = %v", err)
	}
	if _, err := s.GetDeadLetter(ctx, stored.ID); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Errorf("GetDeadLetter() after rejected move error = %v, want ErrDeadLetterNotFound", err)
	}
}

func testReviveFreshVersion(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))
	leased, err := s.Swap(ctx, lease(stored, "w1", now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	failed := leased.Unlocked()
	failed.RetriesRemaining = 0
	if _, err := s.MoveToDeadLetter(ctx, failed, now()); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}

	revived, err := s.Revive(ctx, stored.ID, 4, now())
	if err != nil {
		t.Fatalf("Revive() error = %v", err)
	}
	if revived.RetriesRemaining != 4 {
		t.Errorf("RetriesRemaining = %d, want 4", revived.RetriesRemaining)
	}
	if revived.Version <= leased.Version {
		t.Errorf("revived version %d not above %d", revived.Version, leased.Version)
	}
	if revived.LockOwner != "" || revived.LockExpiresAt != nil {
		t.Error("revived job carries a lease")
	}
	if _, err := s.GetDeadLetter(ctx, stored.ID); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Errorf("GetDeadLetter() after revive error = %v, want ErrDeadLetterNotFound", err)
	}

	got, err := s.Candidates(ctx, core.CandidateQuery{Topic: stored.Topic, Now: now(), Limit: 10})
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != stored.ID || got[0].Version != revived.Version {
		t.Errorf("Candidates() after revive = %v", ids(got))
	}

	if _, err := s.Revive(ctx, stored.ID, 4, now()); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Errorf("second Revive() error = %v, want ErrDeadLetterNotFound", err)
	}
}

func testListDeadLetter(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	topic := uniqueTopic()
	base := now()
	var want []string
	for i := 0; i < 3; i++ {
		stored := mustInsert(t, s, newJob(topic, base))
		if _, err := s.MoveToDeadLetter(ctx, stored, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("MoveToDeadLetter() error = %v", err)
		}
		want = append(want, stored.ID)
	}
	other := mustInsert(t, s, newJob(uniqueTopic(), base))
	if _, err := s.MoveToDeadLetter(ctx, other, base); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}

	got, total, err := s.ListDeadLetter(ctx, core.DeadLetterQuery{Topic: topic, Limit: 2})
	if err != nil {
		t.Fatalf("ListDeadLetter() error = %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(got) != 2 || got[0].ID != want[0] || got[1].ID != want[1] {
		t.Errorf("ListDeadLetter() page 1 = %d items", len(got))
	}

	got, _, err = s.ListDeadLetter(ctx, core.DeadLetterQuery{Topic: topic, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListDeadLetter() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != want[2] {
		t.Errorf("ListDeadLetter() page 2 = %d items", len(got))
	}
}

func testRemoveDeadLetter(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))
	if _, err := s.MoveToDeadLetter(ctx, stored, now()); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}
	if err := s.RemoveDeadLetter(ctx, stored.ID); err != nil {
		t.Fatalf("RemoveDeadLetter() error = %v", err)
	}
	if err := s.RemoveDeadLetter(ctx, stored.ID); !errors.Is(err, core.ErrDeadLetterNotFound) {
		t.Errorf("second RemoveDeadLetter() error = %v, want ErrDeadLetterNotFound", err)
	}
}

func testErrorDetail(t *testing.T, s core.JobStore) {
	ctx := context.Background()
	id := core.NewUUIDv7()
	if got, err := s.GetErrorDetail(ctx, id); err != nil || got != "" {
		t.Fatalf("GetErrorDetail() = %q, %v; want empty", got, err)
	}
	if err := s.PutErrorDetail(ctx, id, "stacktrace"); err != nil {
		t.Fatalf("PutErrorDetail() error = %v", err)
	}
	if got, err := s.GetErrorDetail(ctx, id); err != nil || got != "stacktrace" {
		t.Errorf("GetErrorDetail() = %q, %v; want stacktrace", got, err)
	}
	if err := s.DeleteErrorDetail(ctx, id); err != nil {
		t.Fatalf("DeleteErrorDetail() error = %v", err)
	}
	if got, _ := s.GetErrorDetail(ctx, id); got != "" {
		t.Errorf("GetErrorDetail() after delete = %q", got)
	}
	if err := s.DeleteErrorDetail(ctx, id); err != nil {
		t.Errorf("DeleteErrorDetail() on missing detail error = %v", err)
	}
}

func testConcurrentSwap(t *testing.T, s core.JobStore) {
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))

	var wins, conflicts atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		worker := string(rune('a' + i))
		g.Go(func() error {
			_, err := s.Swap(ctx, lease(stored, worker, now().Add(time.Minute)))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, core.ErrVersionConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	if wins.Load() != 1 || conflicts.Load() != 7 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and 7", wins.Load(), conflicts.Load())
	}
}

func testConcurrentRevive(t *testing.T, s core.JobStore) {
	stored := mustInsert(t, s, newJob(uniqueTopic(), now()))
	if _, err := s.MoveToDeadLetter(context.Background(), stored, now()); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}

	var wins atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := s.Revive(ctx, stored.ID, 2, now())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, core.ErrDeadLetterNotFound), errors.Is(err, core.ErrVersionConflict):
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Revive() error = %v", err)
	}
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}
