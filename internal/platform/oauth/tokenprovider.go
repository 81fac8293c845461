// Package oauth acquires Google OAuth2 access tokens, such as the bearer used by
// the FCM HTTP v1 API.
package oauth

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// FirebaseMessagingScope is the scope required to send through FCM HTTP v1.
const FirebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

type Provider struct {
	source oauth2.TokenSource
	logger *slog.Logger
}

// NewProvider wraps any oauth2.TokenSource. This allows tests to inject a static source.
func NewProvider(source oauth2.TokenSource, logger *slog.Logger) *Provider {
	return &Provider{
		source: source,
		logger: logger.With("component", "OAuthTokenProvider"),
	}
}

// NewDefaultProvider resolves Application Default Credentials for the given scopes.
// With no scopes, the FCM messaging scope is requested.
func NewDefaultProvider(ctx context.Context, logger *slog.Logger, scopes ...string) (*Provider, error) {
	if len(scopes) == 0 {
		scopes = []string{FirebaseMessagingScope}
	}
	source, err := google.DefaultTokenSource(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default google credentials: %w", err)
	}
	return NewProvider(source, logger), nil
}

// FetchCredential returns the current access token, refreshing it if needed.
func (p *Provider) FetchCredential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth token source failed: %w", err)
	}
	if !tok.Valid() {
		p.logger.Warn("Token source returned an invalid or expired token", "expiry", tok.Expiry)
		return "", nil
	}
	return tok.AccessToken, nil
}
