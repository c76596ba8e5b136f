/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/notezilla/apiserver/internal/logging"
	"github.com/notezilla/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// eventsCmd groups commands that inspect the video event channel.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect video lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log every event published on the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := logging.NewLogger(cfg.Log, nil)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := mq.NewBackend(ctx, cfg.Events)
		if err != nil {
			return fmt.Errorf("init events failed: %w", err)
		}
		broker := mq.New(backend, cfg.Events.Channel)
		defer broker.Close()

		logger.Info().Str("backend", cfg.Events.Backend).Str("channel", cfg.Events.Channel).Msg("tailing events")
		err = broker.Tail(ctx, func(event mq.VideoEvent, msg mq.Message) {
			logger.Info().
				Str("message_id", msg.ID).
				Str("type", event.Type).
				Int("video_id", event.VideoID).
				Int("user_id", event.UserID).
				Str("title", event.Title).
				Time("occurred_at", event.OccurredAt).
				Str("published_at", msg.Attributes[mq.AttrPublishedAt]).
				Msg("event received")
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
