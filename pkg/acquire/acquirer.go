// Package acquire obtains a single credential from an external provider,
// retrying failed or empty results with linear backoff up to a fixed ceiling.
//
// A campaign waits a grace period, then calls the provider. Every failed
// attempt k (k < MaxAttempts) is followed by attempt k+1 after k*BaseDelay.
// Each campaign runs on its own goroutine, so Start returns immediately. The
// terminal outcome is delivered once to the configured sink.
package acquire

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bjaus/retry"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
)

// Acquirer owns at most one non-terminal campaign at a time.
type Acquirer struct {
	cfg      Config
	backoff  retry.Backoff
	clock    retry.Clock
	policy   *retry.Policy
	provider credential.Provider
	sink     credential.Sink
	logger   *slog.Logger

	mu      sync.Mutex
	current *Campaign
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithClock replaces the wall clock used for the grace period and backoff waits.
// Useful for testing.
func WithClock(clock retry.Clock) Option {
	return func(a *Acquirer) {
		a.clock = clock
	}
}

// WithBackoff replaces the default retry.Linear(cfg.BaseDelay) backoff.
func WithBackoff(b retry.Backoff) Option {
	return func(a *Acquirer) {
		a.backoff = b
	}
}

// New creates an Acquirer. A nil sink discards outcomes.
func New(cfg Config, provider credential.Provider, sink credential.Sink, logger *slog.Logger, opts ...Option) (*Acquirer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("credential provider is required")
	}
	if sink == nil {
		sink = credential.SinkFunc(func(context.Context, credential.Outcome) error { return nil })
	}

	a := &Acquirer{
		cfg:      cfg,
		backoff:  retry.Linear(cfg.BaseDelay),
		clock:    systemClock{},
		provider: provider,
		sink:     sink,
		logger:   logger.With("component", "CredentialAcquirer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.policy = retry.New(
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithBackoff(a.backoff),
		retry.WithClock(a.clock),
	)
	return a, nil
}

// Config returns the campaign budget.
func (a *Acquirer) Config() Config {
	return a.cfg
}

// Start begins a new campaign and returns without waiting for any attempt.
// It fails with ErrCampaignInProgress while the previous campaign is not terminal.
// The campaign keeps ctx's values but not its cancellation; use Cancel to stop it.
func (a *Acquirer) Start(ctx context.Context) (*Campaign, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && !a.current.State().Terminal() {
		return nil, ErrCampaignInProgress
	}

	c := newCampaign(ctx, a)
	a.current = c
	c.begin()
	return c, nil
}

// Launch is Start returning the new campaign's snapshot.
func (a *Acquirer) Launch(ctx context.Context) (Snapshot, error) {
	c, err := a.Start(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// Current returns the snapshot of the latest campaign, if any was started.
func (a *Acquirer) Current() (Snapshot, bool) {
	a.mu.Lock()
	c := a.current
	a.mu.Unlock()

	if c == nil {
		return Snapshot{}, false
	}
	return c.Snapshot(), true
}

// Cancel cancels the latest campaign. It reports false if there is none in progress.
func (a *Acquirer) Cancel() bool {
	a.mu.Lock()
	c := a.current
	a.mu.Unlock()

	if c == nil {
		return false
	}
	return c.Cancel()
}
