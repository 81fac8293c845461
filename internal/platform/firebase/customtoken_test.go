package firebase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-registrar/internal/platform/firebase"
)

// MockMinter satisfies the TokenMinter interface
type MockMinter struct {
	mock.Mock
}

func (m *MockMinter) CustomToken(ctx context.Context, uid string) (string, error) {
	args := m.Called(ctx, uid)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProvider_FetchCredential(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Happy Path", func(t *testing.T) {
		minter := new(MockMinter)
		minter.On("CustomToken", ctx, "device-42").Return("eyJhbGciOi.custom", nil)

		p := firebase.NewProvider(minter, "device-42", logger)
		token, err := p.FetchCredential(ctx)

		require.NoError(t, err)
		assert.Equal(t, "eyJhbGciOi.custom", token)
		minter.AssertExpectations(t)
	})

	t.Run("Signing Failure", func(t *testing.T) {
		minter := new(MockMinter)
		minter.On("CustomToken", ctx, "device-42").Return("", errors.New("iam signBlob denied"))

		p := firebase.NewProvider(minter, "device-42", logger)
		_, err := p.FetchCredential(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "custom token failed")
	})
}
