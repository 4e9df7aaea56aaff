package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/messaging"
	"github.com/jwalitptl/consult-api/pkg/messaging/redis"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect events relayed from the outbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "Print recorded consultations as the worker publishes them",
		Long: `Subscribes to the configured Redis channel and prints one line per
relayed event until interrupted. Visit times are shown in UTC.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			broker, err := redis.NewRedisBroker(ctx, redis.Config{
				URL:          cfg.Redis.URL,
				MaxRetries:   cfg.Redis.MaxRetries,
				RetryBackoff: cfg.Redis.RetryBackoff,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			}, &log.Logger, nil)
			if err != nil {
				return err
			}
			defer broker.Close()

			return tailEvents(ctx, broker, cfg.Redis.Channel, cmd.OutOrStdout())
		},
	})

	return cmd
}

// tailEvents prints every message received on channel until ctx ends or the
// subscription closes. Undecodable messages are logged and skipped.
func tailEvents(ctx context.Context, broker messaging.Broker, channel string, w io.Writer) error {
	msgs, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("tailing events")

	for raw := range msgs {
		if err := printEvent(w, raw); err != nil {
			log.Warn().Err(err).Msg("skipping malformed event")
		}
	}
	return nil
}

func printEvent(w io.Writer, raw []byte) error {
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	if msg.Type != model.EventConsultationRecorded {
		_, err := fmt.Fprintf(w, "%s %s\n", msg.Type, msg.ID)
		return err
	}

	var visit model.Visit
	if err := json.Unmarshal(msg.Payload, &visit); err != nil {
		return fmt.Errorf("failed to decode visit %s: %w", msg.ID, err)
	}
	_, err := fmt.Fprintf(w, "%s UTC  %s  %s  %s  %s\n",
		visit.CreatedAt.UTC().Format(model.VisitTimeLayout),
		visit.PatientID,
		visit.PatientName,
		visit.Assessment,
		visit.FollowUp)
	return err
}
