// Package web provides VAPID application server keys for Web Push registration.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SherClockHolmes/webpush-go"
)

// ErrIncompleteKeyPair is returned when either half of a VAPID pair is missing.
var ErrIncompleteKeyPair = errors.New("vapid key pair requires both a public and a private key")

// KeyPair is a VAPID key pair, base64url encoded as webpush-go produces it.
type KeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// GenerateKeyPair creates a new pair. The private key must be stored by the
// operator: subscriptions made against the public key are only usable while
// the matching private key signs the pushes.
func GenerateKeyPair() (KeyPair, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return KeyPair{}, fmt.Errorf("vapid key generation failed: %w", err)
	}
	return KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// Provider hands out the configured public application server key that
// browsers need to subscribe.
type Provider struct {
	pair   KeyPair
	logger *slog.Logger
}

// NewProvider rejects a pair with either half missing.
func NewProvider(pair KeyPair, logger *slog.Logger) (*Provider, error) {
	if pair.PublicKey == "" || pair.PrivateKey == "" {
		return nil, ErrIncompleteKeyPair
	}
	return &Provider{
		pair:   pair,
		logger: logger.With("component", "VAPIDKeyProvider"),
	}, nil
}

// FetchCredential returns the public key.
func (p *Provider) FetchCredential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.logger.Debug("Serving configured VAPID public key")
	return p.pair.PublicKey, nil
}
