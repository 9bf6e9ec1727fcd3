package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openjobspec/ojs-lease/internal/core"
)

func (s *Store) MoveToDeadLetter(ctx context.Context, job *core.Job, failedAt time.Time) (*core.DeadLetterJob, error) {
	dl := core.NewDeadLetterJob(job, failedAt)
	data, err := json.Marshal(dl)
	if err != nil {
		return nil, fmt.Errorf("redis: encode dead letter: %w", err)
	}

	err = s.conditional(ctx, job.ID, job.Version, func(tx *goredis.Tx, cur *core.Job) error {
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, s.jobKey(job.ID))
			s.unindexJob(ctx, p, cur)
			p.Set(ctx, s.deadKey(dl.ID), data, 0)
			z := goredis.Z{Score: msScore(dl.FailedAt), Member: dl.ID}
			p.ZAdd(ctx, s.deadIndexKey(), z)
			p.ZAdd(ctx, s.deadTopicKey(dl.Topic), z)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

func (s *Store) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterJob, error) {
	return readDead(ctx, s.client, s.deadKey(id))
}

func (s *Store) ListDeadLetter(ctx context.Context, q core.DeadLetterQuery) ([]*core.DeadLetterJob, int, error) {
	index := s.deadIndexKey()
	if q.Topic != "" {
		index = s.deadTopicKey(q.Topic)
	}

	total, err := s.client.ZCard(ctx, index).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: count dead letters: %w", err)
	}

	start := int64(max(q.Offset, 0))
	stop := int64(-1)
	if q.Limit > 0 {
		stop = start + int64(q.Limit) - 1
	}
	ids, err := s.client.ZRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: list dead letters: %w", err)
	}

	out := make([]*core.DeadLetterJob, 0, len(ids))
	if len(ids) == 0 {
		return out, int(total), nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.deadKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: load dead letters: %w", err)
	}
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decodeDead(data)
		if err != nil {
			s.logger.Warn("skipping undecodable dead letter", "id", ids[i], "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, int(total), nil
}

// Revive swaps the dead letter for a fresh active job in one transaction
// watching the dead letter key; concurrent revivals abort on that watch.
func (s *Store) Revive(ctx context.Context, id string, retries int, _ time.Time) (*core.Job, error) {
	deadKey := s.deadKey(id)
	jobKey := s.jobKey(id)
	var revived *core.Job
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		dl, err := readDead(ctx, tx, deadKey)
		if err != nil {
			return err
		}
		job := dl.Revived(retries)
		if job.Version, err = s.nextVersion(ctx, tx); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("redis: encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, deadKey)
			p.ZRem(ctx, s.deadIndexKey(), id)
			p.ZRem(ctx, s.deadTopicKey(dl.Topic), id)
			p.Set(ctx, jobKey, data, 0)
			s.indexJob(ctx, p, job)
			return nil
		})
		revived = job
		return err
	}, deadKey, jobKey)
	if err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			return nil, core.ErrDeadLetterNotFound
		}
		return nil, err
	}
	return revived.Clone(), nil
}

func (s *Store) RemoveDeadLetter(ctx context.Context, id string) error {
	deadKey := s.deadKey(id)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		dl, err := readDead(ctx, tx, deadKey)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, deadKey)
			p.ZRem(ctx, s.deadIndexKey(), id)
			p.ZRem(ctx, s.deadTopicKey(dl.Topic), id)
			return nil
		})
		return err
	}, deadKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return core.ErrDeadLetterNotFound
	}
	return err
}
