// Package outcome contains the sinks that receive terminal campaign outcomes.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Multi delivers to every sink in order and joins their errors.
func Multi(sinks ...credential.Sink) credential.Sink {
	return credential.SinkFunc(func(ctx context.Context, o credential.Outcome) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Deliver(ctx, o); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// LogSink reports outcomes to a structured logger. Credentials are redacted.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "OutcomeLog")}
}

func (s *LogSink) Deliver(ctx context.Context, o credential.Outcome) error {
	if o.Acquired() {
		s.logger.InfoContext(ctx, "CredentialAcquired",
			"campaign_id", o.CampaignID,
			"attempts", o.Attempts,
			"credential", credential.Redact(o.Credential),
		)
		return nil
	}
	s.logger.ErrorContext(ctx, "AcquisitionAbandoned",
		"campaign_id", o.CampaignID,
		"attempts", o.Attempts,
		"err", o.Cause,
	)
	return nil
}

// Device describes the identity the acquired credential is registered under.
type Device struct {
	URN      urn.URN
	Platform string
	Name     string
	// Source names the provider that issued the credential.
	Source string
}

// StoreSink persists acquired credentials. Abandoned outcomes are ignored.
type StoreSink struct {
	store  credential.Store
	device Device
}

func NewStoreSink(store credential.Store, device Device) *StoreSink {
	return &StoreSink{store: store, device: device}
}

func (s *StoreSink) Deliver(ctx context.Context, o credential.Outcome) error {
	if !o.Acquired() {
		return nil
	}
	err := s.store.Register(ctx, s.device.URN, credential.Record{
		Token:      o.Credential,
		Platform:   s.device.Platform,
		DeviceName: s.device.Name,
		Source:     s.device.Source,
		Active:     true,
		UpdatedAt:  o.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store acquired credential: %w", err)
	}
	return nil
}
