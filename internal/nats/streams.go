package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SetupJetStream creates the engine signal stream and the KV buckets.
func SetupJetStream(ctx context.Context, js jetstream.JetStream) error {
	// Engine signals are consumed once by the process engine.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EngineStreamName,
		Subjects:  []string{EngineAllSubject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", EngineStreamName, err)
	}

	for _, name := range []string{BucketJobs, BucketIndex, BucketDead, BucketDetails} {
		cfg := jetstream.KeyValueConfig{
			Bucket:  name,
			Storage: jetstream.FileStorage,
		}
		if _, err := js.CreateOrUpdateKeyValue(ctx, cfg); err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", name, err)
		}
	}

	return nil
}
