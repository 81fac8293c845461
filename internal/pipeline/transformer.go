// Package pipeline consumes credential rotation events and applies them to the store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// RotationEvent announces that a device's push credential was replaced.
type RotationEvent struct {
	DeviceID      urn.URN
	Token         string
	Platform      string
	PreviousToken string
}

type rotationEventJSON struct {
	DeviceID      string `json:"device_id"`
	Token         string `json:"token"`
	Platform      string `json:"platform"`
	PreviousToken string `json:"previous_token,omitempty"`
}

// MarshalJSON writes the event in its wire form.
func (e RotationEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(rotationEventJSON{
		DeviceID:      e.DeviceID.String(),
		Token:         e.Token,
		Platform:      e.Platform,
		PreviousToken: e.PreviousToken,
	})
}

// UnmarshalJSON reads the wire form and validates the device URN.
func (e *RotationEvent) UnmarshalJSON(data []byte) error {
	var raw rotationEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	device, err := urn.Parse(raw.DeviceID)
	if err != nil {
		return fmt.Errorf("invalid device_id %q: %w", raw.DeviceID, err)
	}
	*e = RotationEvent{
		DeviceID:      device,
		Token:         raw.Token,
		Platform:      raw.Platform,
		PreviousToken: raw.PreviousToken,
	}
	return nil
}

// RotationEventTransformer is a dataflow Transformer that unmarshals a raw
// payload into a RotationEvent. Bad payloads are skipped so the consumer can
// Nack or dead-letter them.
func RotationEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*RotationEvent, bool, error) {
	var event RotationEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal rotation event from message %s: %w", msg.ID, err)
	}
	return &event, false, nil
}
