package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-lease/internal/core"
	natsbackend "github.com/openjobspec/ojs-lease/internal/nats"
)

func eventsCmd() *cobra.Command {
	var natsURL, topic, jobID string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream job lifecycle events published by a NATS-backed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if topic != "" && jobID != "" {
				return fmt.Errorf("--topic and --job are mutually exclusive")
			}

			nc, err := nats.Connect(natsURL, nats.Name("ojs-leasectl"))
			if err != nil {
				return fmt.Errorf("connecting to NATS: %w", err)
			}
			defer nc.Close()

			broker := natsbackend.NewPubSubBroker(nc)
			defer broker.Close()

			events, unsubscribe, err := subscribeEvents(broker, topic, jobID)
			if err != nil {
				return err
			}
			defer unsubscribe()

			return streamEvents(cmd.Context(), cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", envOr("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	cmd.Flags().StringVar(&topic, "topic", "", "only events of this topic")
	cmd.Flags().StringVar(&jobID, "job", "", "only events of this job")
	return cmd
}

func subscribeEvents(b *natsbackend.PubSubBroker, topic, jobID string) (<-chan *core.JobEvent, func(), error) {
	switch {
	case jobID != "":
		return b.SubscribeJob(jobID)
	case topic != "":
		return b.SubscribeTopic(topic)
	default:
		return b.SubscribeAll()
	}
}

// streamEvents writes one JSON line per event until ctx is done or events
// is closed.
func streamEvents(ctx context.Context, w io.Writer, events <-chan *core.JobEvent) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}
