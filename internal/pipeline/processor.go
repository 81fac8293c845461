package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
)

// NewProcessor registers the rotated credential and retires the one it replaced.
// Events with no token are dropped; there is nothing to register.
func NewProcessor(
	store credential.Store,
	source string,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[RotationEvent] {

	return func(ctx context.Context, original messagepipeline.Message, event *RotationEvent) error {
		procLogger := logger.With(
			"device_id", event.DeviceID.String(),
			"pubsub_msg_id", original.ID,
		)

		if event.Token == "" {
			procLogger.Info("Rotation event carried no token; dropping.")
			return nil
		}

		err := store.Register(ctx, event.DeviceID, credential.Record{
			Token:     event.Token,
			Platform:  event.Platform,
			Source:    source,
			Active:    true,
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			procLogger.Error("Failed to register rotated credential", "err", err)
			return fmt.Errorf("failed to register rotated credential: %w", err)
		}

		if event.PreviousToken != "" && event.PreviousToken != event.Token {
			// The new token is already live; a stale one lingering is not worth a redelivery.
			if err := store.Deactivate(ctx, event.DeviceID, event.PreviousToken); err != nil {
				procLogger.Warn("Failed to deactivate previous credential",
					"previous", credential.Redact(event.PreviousToken), "err", err)
			}
		}

		procLogger.Info("Credential rotated", "credential", credential.Redact(event.Token))
		return nil
	}
}
