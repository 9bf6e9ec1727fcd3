package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openjobspec/ojs-lease/internal/core"
)

func msScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func msBound(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeJob(data string) (*core.Job, error) {
	var j core.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

func decodeDead(data string) (*core.DeadLetterJob, error) {
	var d core.DeadLetterJob
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("decode dead letter: %w", err)
	}
	return &d, nil
}

// readJob loads a job through cmd, which is either the client or a
// watching transaction.
func readJob(ctx context.Context, cmd goredis.Cmdable, key string) (*core.Job, error) {
	data, err := cmd.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, core.ErrJobNotFound
		}
		return nil, fmt.Errorf("redis: get job: %w", err)
	}
	return decodeJob(data)
}

func readDead(ctx context.Context, cmd goredis.Cmdable, key string) (*core.DeadLetterJob, error) {
	data, err := cmd.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, core.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("redis: get dead letter: %w", err)
	}
	return decodeDead(data)
}

// indexJob queues the index updates for a stored job on p.
func (s *Store) indexJob(ctx context.Context, p goredis.Pipeliner, j *core.Job) {
	p.ZAdd(ctx, s.topicKey(j.Topic), goredis.Z{Score: msScore(j.DueAt()), Member: j.ID})
	if j.LockOwner != "" && j.LockExpiresAt != nil {
		p.ZAdd(ctx, s.leasesKey(), goredis.Z{Score: msScore(*j.LockExpiresAt), Member: j.ID})
	} else {
		p.ZRem(ctx, s.leasesKey(), j.ID)
	}
}

func (s *Store) unindexJob(ctx context.Context, p goredis.Pipeliner, j *core.Job) {
	p.ZRem(ctx, s.topicKey(j.Topic), j.ID)
	p.ZRem(ctx, s.leasesKey(), j.ID)
}
