// Package credential contains the public interfaces and domain models shared by
// the acquisition campaign, its providers and its sinks.
package credential

import (
	"context"
	"errors"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// ErrNotFound is returned by a Store when no active credential exists for a device.
var ErrNotFound = errors.New("credential not found")

// Provider is the external asynchronous service that hands out credentials
// (registration tokens, access tokens, signed bearers).
type Provider interface {
	// FetchCredential performs exactly one fetch. It blocks until the provider
	// signals completion. An empty string with a nil error is a valid signal;
	// callers decide what it means.
	FetchCredential(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (string, error)

// FetchCredential implements Provider.
func (f ProviderFunc) FetchCredential(ctx context.Context) (string, error) {
	return f(ctx)
}

// Status is the terminal result of a campaign.
type Status string

const (
	StatusAcquired  Status = "acquired"
	StatusAbandoned Status = "abandoned"
)

// Outcome is delivered once per campaign to the configured Sink.
type Outcome struct {
	CampaignID  string
	Status      Status
	Credential  string // set only when Status is StatusAcquired
	Attempts    int
	Cause       error // set only when Status is StatusAbandoned
	CompletedAt time.Time
}

// Acquired reports whether the campaign ended with a credential.
func (o Outcome) Acquired() bool {
	return o.Status == StatusAcquired && o.Credential != ""
}

// Sink receives terminal campaign outcomes.
type Sink interface {
	Deliver(ctx context.Context, outcome Outcome) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, outcome Outcome) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// Record is the persisted view of a credential bound to a device.
type Record struct {
	Token      string    `json:"token"`
	Platform   string    `json:"platform"`
	DeviceName string    `json:"device_name"`
	Source     string    `json:"source"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store defines the contract for persisting device credentials.
type Store interface {
	// Register upserts the credential for the device. Registering the same
	// token twice updates the existing record.
	Register(ctx context.Context, device urn.URN, record Record) error

	// Lookup returns the most recently updated active credential, or ErrNotFound.
	Lookup(ctx context.Context, device urn.URN) (*Record, error)

	// Deactivate marks a token as no longer active. Unknown tokens are not an error.
	Deactivate(ctx context.Context, device urn.URN, token string) error
}
