// Package firebase mints Firebase Authentication custom tokens for a device identity.
package firebase

import (
	"context"
	"fmt"
	"log/slog"

	fb "firebase.google.com/go/v4"
)

// TokenMinter defines the subset of the Firebase Auth API we use.
// *auth.Client satisfies this interface.
type TokenMinter interface {
	CustomToken(ctx context.Context, uid string) (string, error)
}

type Provider struct {
	minter TokenMinter
	uid    string
	logger *slog.Logger
}

func NewProvider(minter TokenMinter, uid string, logger *slog.Logger) *Provider {
	return &Provider{
		minter: minter,
		uid:    uid,
		logger: logger.With("component", "FirebaseTokenProvider", "uid", uid),
	}
}

// NewProviderFromApp builds the Auth client from an initialised Firebase app.
func NewProviderFromApp(ctx context.Context, app *fb.App, uid string, logger *slog.Logger) (*Provider, error) {
	if uid == "" {
		return nil, fmt.Errorf("firebase uid is required")
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase auth client: %w", err)
	}
	return NewProvider(client, uid, logger), nil
}

// FetchCredential signs a new custom token for the configured uid.
func (p *Provider) FetchCredential(ctx context.Context) (string, error) {
	token, err := p.minter.CustomToken(ctx, p.uid)
	if err != nil {
		return "", fmt.Errorf("firebase custom token failed: %w", err)
	}
	return token, nil
}
