package acquire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bjaus/retry"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
)

// State is the position of a campaign in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further attempts can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Snapshot is a point-in-time view of a campaign.
type Snapshot struct {
	ID                string     `json:"id"`
	State             State      `json:"state"`
	Attempt           int        `json:"attempt"`
	MaxAttempts       int        `json:"max_attempts"`
	CredentialPreview string     `json:"credential_preview,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Campaign is one attempt sequence from Start to a terminal outcome.
// A single goroutine drives it: a grace-period sleep followed by a retry policy.
type Campaign struct {
	id       string
	cfg      Config
	policy   *retry.Policy
	clock    retry.Clock
	provider credential.Provider
	sink     credential.Sink
	logger   *slog.Logger

	// base carries the caller's values but not its cancellation.
	base   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       State
	attempt     int
	token       string
	preview     string
	startedAt   time.Time
	completedAt time.Time

	// written once before done is closed
	result credential.Outcome
	err    error
}

func newCampaign(ctx context.Context, a *Acquirer) *Campaign {
	id := uuid.NewString()
	base := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(base)

	return &Campaign{
		id:       id,
		cfg:      a.cfg,
		policy:   a.policy,
		clock:    a.clock,
		provider: a.provider,
		sink:     a.sink,
		logger:   a.logger.With("campaign_id", id),
		base:     base,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// ID returns the campaign identifier.
func (c *Campaign) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Campaign) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a point-in-time view of the campaign.
func (c *Campaign) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:                c.id,
		State:             c.state,
		Attempt:           c.attempt,
		MaxAttempts:       c.cfg.MaxAttempts,
		CredentialPreview: c.preview,
		StartedAt:         c.startedAt,
	}
	if !c.completedAt.IsZero() {
		completed := c.completedAt
		snap.CompletedAt = &completed
	}
	return snap
}

// Done is closed once the campaign reaches a terminal state and, for
// succeeded or failed campaigns, the sink has been called.
func (c *Campaign) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the campaign is terminal or ctx is done.
// An abandoned campaign returns an error matching ErrAcquisitionExhausted;
// a cancelled one returns ErrCampaignCancelled.
func (c *Campaign) Wait(ctx context.Context) (credential.Outcome, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return credential.Outcome{}, ctx.Err()
	}
}

// Cancel stops the campaign: the pending wait is interrupted and an in-flight
// provider call has its context cancelled. Nothing is delivered to the sink.
// It reports false if the campaign was already terminal.
func (c *Campaign) Cancel() bool {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = StateCancelled
	c.completedAt = time.Now()
	attempts := c.attempt
	c.mu.Unlock()

	c.cancel()
	c.logger.Info("Credential campaign cancelled", "attempts", attempts)

	c.result = credential.Outcome{
		CampaignID:  c.id,
		Attempts:    attempts,
		Cause:       ErrCampaignCancelled,
		CompletedAt: time.Now(),
	}
	c.err = ErrCampaignCancelled
	close(c.done)
	return true
}

// begin moves the campaign out of Idle and hands it to its own goroutine.
func (c *Campaign) begin() {
	c.mu.Lock()
	c.state = StateWaiting
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("Credential campaign started",
		"grace_period", c.cfg.GracePeriod,
		"max_attempts", c.cfg.MaxAttempts,
	)
	go c.run()
}

func (c *Campaign) run() {
	if err := c.clock.Sleep(c.ctx, c.cfg.GracePeriod); err != nil {
		c.logger.Debug("Grace period interrupted", "err", err)
		return
	}

	err := c.policy.Do(c.ctx, c.fetch,
		retry.OnRetry(func(_ context.Context, attempt int, err error, delay time.Duration) {
			c.logger.Warn("Credential fetch failed",
				"attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "err", err, "retry_in", delay)
		}),
		retry.OnExhausted(func(_ context.Context, attempt int, err error) {
			c.logger.Warn("Credential fetch failed",
				"attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "err", err)
		}),
	)

	c.mu.Lock()
	if c.state != StateWaiting {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Discarding campaign result", "state", state)
		return
	}
	n := c.attempt
	token := c.token
	c.completedAt = time.Now()

	if err == nil {
		c.state = StateSucceeded
		c.preview = credential.Redact(token)
		c.mu.Unlock()

		c.logger.Info("Credential acquired",
			"attempt", n, "credential", credential.Redact(token), "length", len(token))
		c.finish(credential.Outcome{
			CampaignID:  c.id,
			Status:      credential.StatusAcquired,
			Credential:  token,
			Attempts:    n,
			CompletedAt: time.Now(),
		}, nil)
		return
	}

	c.state = StateFailed
	c.mu.Unlock()

	cause := &ExhaustedError{Attempts: n, Last: err}
	c.logger.Error("Abandoning credential acquisition", "err", cause)
	c.finish(credential.Outcome{
		CampaignID:  c.id,
		Status:      credential.StatusAbandoned,
		Attempts:    n,
		Cause:       cause,
		CompletedAt: time.Now(),
	}, cause)
}

// fetch is one attempt. An empty credential counts as a failure so the
// policy backs off and retries it like any other error.
func (c *Campaign) fetch(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateWaiting {
		c.mu.Unlock()
		return retry.Stop(ErrCampaignCancelled)
	}
	c.attempt++
	n := c.attempt
	c.mu.Unlock()

	c.logger.Info("Attempting to fetch credential", "attempt", n, "max_attempts", c.cfg.MaxAttempts)

	token, err := c.provider.FetchCredential(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrEmptyCredential
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *Campaign) finish(outcome credential.Outcome, err error) {
	c.cancel()
	c.result = outcome
	c.err = err

	if deliverErr := c.sink.Deliver(c.base, outcome); deliverErr != nil {
		c.logger.Error("Failed to deliver campaign outcome", "status", outcome.Status, "err", deliverErr)
	}
	close(c.done)
}
