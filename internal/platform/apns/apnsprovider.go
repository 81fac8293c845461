// Package apns provides the provider authentication token for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2/token"
)

// BearerSource defines the subset of the apns2 token.Token methods we use.
// This allows mocking for unit tests.
type BearerSource interface {
	GenerateIfExpired() string
	Generate() (bool, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID  string
	TeamID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
}

type Provider struct {
	source BearerSource
	logger *slog.Logger
}

// NewProvider parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, fmt.Errorf("apns key_id and team_id are required")
	}
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	return NewProviderWithSource(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}, logger), nil
}

func NewProviderWithSource(source BearerSource, logger *slog.Logger) *Provider {
	return &Provider{
		source: source,
		logger: logger.With("component", "APNSTokenProvider"),
	}
}

// FetchCredential returns the cached provider JWT, signing a new one when it has expired.
// GenerateIfExpired swallows signing errors, so an empty bearer is retried with
// Generate to surface the cause.
func (p *Provider) FetchCredential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if bearer := p.source.GenerateIfExpired(); bearer != "" {
		return bearer, nil
	}
	if _, err := p.source.Generate(); err != nil {
		return "", fmt.Errorf("apns token signing failed: %w", err)
	}
	return p.source.GenerateIfExpired(), nil
}
