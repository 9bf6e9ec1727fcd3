package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openjobspec/ojs-lease/internal/core"
)

// nextVersion draws from the store-wide counter. Versions burned by an
// aborted transaction leave gaps, which is harmless.
func (s *Store) nextVersion(ctx context.Context, cmd goredis.Cmdable) (uint64, error) {
	v, err := cmd.Incr(ctx, s.versionKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: next version: %w", err)
	}
	return uint64(v), nil
}

func (s *Store) Insert(ctx context.Context, job *core.Job) (*core.Job, error) {
	key := s.jobKey(job.ID)
	var stored *core.Job
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key, s.deadKey(job.ID)).Result()
		if err != nil {
			return fmt.Errorf("redis: insert check exists: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
		}

		next := job.Clone()
		if next.Version, err = s.nextVersion(ctx, tx); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("redis: encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			s.indexJob(ctx, p, next)
			return nil
		})
		stored = next
		return err
	}, key, s.deadKey(job.ID))
	if err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			return nil, fmt.Errorf("insert %s: %w", job.ID, core.ErrJobExists)
		}
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.Job, error) {
	return readJob(ctx, s.client, s.jobKey(id))
}

// loadJobs fetches the listed jobs, skipping ids whose record is gone.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*core.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load jobs: %w", err)
	}
	out := make([]*core.Job, 0, len(vals))
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue
		}
		j, err := decodeJob(data)
		if err != nil {
			s.logger.Warn("skipping undecodable job", "id", ids[i], "error", err)
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// Candidates walks the topic's due-time index up to q.Now. Without priority
// ordering the index order is the result order, so it pages until Limit
// matches are found; with priority every due job is loaded and sorted.
func (s *Store) Candidates(ctx context.Context, q core.CandidateQuery) ([]*core.Job, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	key := s.topicKey(q.Topic)
	maxScore := msBound(q.Now)

	var out []*core.Job
	pageSize := int64(q.Limit)
	if q.UsePriority {
		pageSize = 0
	}
	for offset := int64(0); ; offset += pageSize {
		ids, err := s.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  pageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: candidates: %w", err)
		}
		jobs, err := s.loadJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if q.Matches(j) {
				out = append(out, j)
			}
		}
		if pageSize == 0 || len(out) >= q.Limit || int64(len(ids)) < pageSize {
			break
		}
	}

	sort.Slice(out, func(a, b int) bool { return q.Less(out[a], out[b]) })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// conditional runs fn inside a transaction watching the job key, after
// checking the stored version. fn queues the writes.
func (s *Store) conditional(ctx context.Context, id string, version uint64, fn func(tx *goredis.Tx, cur *core.Job) error) error {
	key := s.jobKey(id)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := readJob(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Version != version {
			return fmt.Errorf("job %s at version %d, have %d: %w", id, cur.Version, version, core.ErrVersionConflict)
		}
		return fn(tx, cur)
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("job %s changed concurrently: %w", id, core.ErrVersionConflict)
	}
	return err
}

func (s *Store) Swap(ctx context.Context, job *core.Job) (*core.Job, error) {
	var stored *core.Job
	err := s.conditional(ctx, job.ID, job.Version, func(tx *goredis.Tx, cur *core.Job) error {
		next := job.Clone()
		var err error
		if next.Version, err = s.nextVersion(ctx, tx); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("redis: encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if cur.Topic != next.Topic {
				p.ZRem(ctx, s.topicKey(cur.Topic), cur.ID)
			}
			p.Set(ctx, s.jobKey(next.ID), data, 0)
			s.indexJob(ctx, p, next)
			return nil
		})
		stored = next
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *Store) Remove(ctx context.Context, id string, version uint64) error {
	return s.conditional(ctx, id, version, func(tx *goredis.Tx, cur *core.Job) error {
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, s.jobKey(id))
			s.unindexJob(ctx, p, cur)
			return nil
		})
		return err
	})
}

func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRangeByScore(ctx, s.leasesKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   msBound(now),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: expired leases: %w", err)
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.LockOwner != "" && j.LockExpiresAt != nil && j.LockExpiresAt.Before(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *Store) PutErrorDetail(ctx context.Context, id, detail string) error {
	if err := s.client.Set(ctx, s.detailKey(id), detail, 0).Err(); err != nil {
		return fmt.Errorf("redis: put error detail: %w", err)
	}
	return nil
}

func (s *Store) GetErrorDetail(ctx context.Context, id string) (string, error) {
	detail, err := s.client.Get(ctx, s.detailKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis: get error detail: %w", err)
	}
	return detail, nil
}

func (s *Store) DeleteErrorDetail(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.detailKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: delete error detail: %w", err)
	}
	return nil
}
