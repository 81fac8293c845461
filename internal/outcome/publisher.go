package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
)

// Publisher defines the subset of the Pub/Sub publisher we use.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// pubsubPublisher adapts *pubsub.Publisher, waiting for the server ack.
type pubsubPublisher struct {
	publisher *pubsub.Publisher
}

func NewPubsubPublisher(p *pubsub.Publisher) Publisher {
	return &pubsubPublisher{publisher: p}
}

func (p *pubsubPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	res := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	return res.Get(ctx)
}

// Event is the wire form of an outcome. The credential itself never leaves the
// process on this path; only its redacted preview does.
type Event struct {
	CampaignID        string            `json:"campaign_id"`
	Status            credential.Status `json:"status"`
	Attempts          int               `json:"attempts"`
	CredentialPreview string            `json:"credential_preview,omitempty"`
	Cause             string            `json:"cause,omitempty"`
	DeviceID          string            `json:"device_id"`
	CompletedAt       time.Time         `json:"completed_at"`
}

// PublishSink announces outcomes on a topic for other services.
type PublishSink struct {
	publisher Publisher
	deviceID  string
	logger    *slog.Logger
}

func NewPublishSink(publisher Publisher, deviceID string, logger *slog.Logger) *PublishSink {
	return &PublishSink{
		publisher: publisher,
		deviceID:  deviceID,
		logger:    logger.With("component", "OutcomePublisher"),
	}
}

func (s *PublishSink) Deliver(ctx context.Context, o credential.Outcome) error {
	event := Event{
		CampaignID:  o.CampaignID,
		Status:      o.Status,
		Attempts:    o.Attempts,
		DeviceID:    s.deviceID,
		CompletedAt: o.CompletedAt,
	}
	if o.Acquired() {
		event.CredentialPreview = credential.Redact(o.Credential)
	}
	if o.Cause != nil {
		event.Cause = o.Cause.Error()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	id, err := s.publisher.Publish(ctx, payload, map[string]string{
		"status":    string(o.Status),
		"device_id": s.deviceID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish outcome event: %w", err)
	}
	s.logger.Debug("Outcome published", "campaign_id", o.CampaignID, "message_id", id)
	return nil
}
