package acquire_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bjaus/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-registrar/pkg/acquire"
	"github.com/tinywideclouds/go-push-registrar/pkg/credential"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fakes ---

// fakeClock parks every Sleep until the test lets the wait elapse.
type fakeClock struct {
	mu       sync.Mutex
	delays   []time.Duration
	sleeping chan time.Duration
	wake     chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		sleeping: make(chan time.Duration),
		wake:     make(chan struct{}),
	}
}

func (c *fakeClock) Now() time.Time {
	return time.Time{}
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	select {
	case c.sleeping <- d:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitSleep blocks until the campaign is parked in Sleep and returns the requested wait.
func (c *fakeClock) awaitSleep(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.sleeping:
		return d
	case <-time.After(time.Second):
		t.Fatal("campaign did not start a wait")
		return 0
	}
}

// elapse ends the wait the campaign is parked in.
func (c *fakeClock) elapse(t *testing.T) {
	t.Helper()
	select {
	case c.wake <- struct{}{}:
	case <-time.After(time.Second):
		t.Fatal("no wait to elapse")
	}
}

// advance waits for the next Sleep and lets it elapse at once.
func (c *fakeClock) advance(t *testing.T) time.Duration {
	t.Helper()
	d := c.awaitSleep(t)
	c.elapse(t)
	return d
}

// assertNoSleep fails if the campaign starts another wait.
func (c *fakeClock) assertNoSleep(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.sleeping:
		t.Fatalf("unexpected wait of %s", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *fakeClock) recordedDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type response struct {
	token string
	err   error
}

// scriptedProvider replays responses in order and counts calls.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []response
	calls     int
}

func (p *scriptedProvider) FetchCredential(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r.token, r.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []credential.Outcome
}

func (s *recordingSink) Deliver(_ context.Context, o credential.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *recordingSink) delivered() []credential.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]credential.Outcome(nil), s.outcomes...)
}

func newTestAcquirer(t *testing.T, provider credential.Provider, sink credential.Sink, opts ...acquire.Option) (*acquire.Acquirer, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]acquire.Option{acquire.WithClock(clock)}, opts...)
	a, err := acquire.New(acquire.DefaultConfig(), provider, sink, newTestLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Cancel() })
	return a, clock
}

func failure(msg string) response {
	return response{err: errors.New(msg)}
}

func waitOutcome(t *testing.T, c *acquire.Campaign) (credential.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "campaign did not finish")
	return outcome, err
}

// --- Tests ---

func TestCampaign_GracePeriod(t *testing.T) {
	provider := &scriptedProvider{responses: []response{{token: "tok"}}}
	a, clock := newTestAcquirer(t, provider, nil)

	c, err := a.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, clock.awaitSleep(t))
	assert.Equal(t, 0, provider.callCount(), "no provider call before the grace period elapses")
	assert.Equal(t, acquire.StateWaiting, c.State())
	assert.Equal(t, 0, c.Snapshot().Attempt)
}

func TestCampaign_ConcreteScenario(t *testing.T) {
	provider := &scriptedProvider{responses: []response{
		failure("service unavailable"),
		failure("timeout"),
		{token: "tok-xyz"},
	}}
	sink := &recordingSink{}
	a, clock := newTestAcquirer(t, provider, sink)

	c, err := a.Start(context.Background())
	require.NoError(t, err)

	clock.advance(t) // grace period
	clock.advance(t) // after attempt 1
	clock.advance(t) // after attempt 2

	outcome, err := waitOutcome(t, c)
	require.NoError(t, err)

	assert.Equal(t, credential.StatusAcquired, outcome.Status)
	assert.Equal(t, "tok-xyz", outcome.Credential)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, provider.callCount(), "no fourth attempt")
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, clock.recordedDelays())
	clock.assertNoSleep(t)

	require.Len(t, sink.delivered(), 1)
	assert.Equal(t, c.ID(), sink.delivered()[0].CampaignID)

	snap := c.Snapshot()
	assert.Equal(t, acquire.StateSucceeded, snap.State)
	assert.Equal(t, "tok...", snap.CredentialPreview)
	assert.NotNil(t, snap.CompletedAt)
}

func TestCampaign_Exhaustion(t *testing.T) {
	lastCause := errors.New("SERVICE_NOT_AVAILABLE")
	provider := &scriptedProvider{responses: []response{
		failure("a"), failure("b"), failure("c"), failure("d"), {err: lastCause},
		{token: "never-reached"},
	}}
	sink := &recordingSink{}
	a, clock := newTestAcquirer(t, provider, sink)

	c, err := a.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, clock.advance(t))
	for k := 1; k < 5; k++ {
		assert.Equal(t, time.Duration(k)*10*time.Second, clock.awaitSleep(t), "wait after attempt %d", k)
		assert.Equal(t, k, c.Snapshot().Attempt, "counter advances by exactly one per attempt")
		clock.elapse(t)
	}

	outcome, err := waitOutcome(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, acquire.ErrAcquisitionExhausted)
	assert.ErrorIs(t, err, lastCause)

	var exhausted *acquire.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)

	assert.Equal(t, credential.StatusAbandoned, outcome.Status)
	assert.Equal(t, 5, outcome.Attempts)
	assert.Empty(t, outcome.Credential)
	assert.Equal(t, 5, provider.callCount(), "no sixth attempt")
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second, 20 * time.Second, 30 * time.Second, 40 * time.Second,
	}, clock.recordedDelays())
	clock.assertNoSleep(t)

	require.Len(t, sink.delivered(), 1)
	assert.Equal(t, credential.StatusAbandoned, sink.delivered()[0].Status)
	assert.Equal(t, acquire.StateFailed, c.State())
	assert.Equal(t, 5, c.Snapshot().Attempt)
}

func TestCampaign_EmptyCredentialIsFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []response{{token: ""}, {token: "abc123"}}}
	a, clock := newTestAcquirer(t, provider, nil)

	c, err := a.Start(context.Background())
	require.NoError(t, err)

	clock.advance(t) // grace period -> attempt 1 (empty)
	assert.Equal(t, 10*time.Second, clock.awaitSleep(t), "empty success triggers backoff")
	assert.Equal(t, acquire.StateWaiting, c.State())
	clock.elapse(t) // attempt 2

	outcome, err := waitOutcome(t, c)
	require.NoError(t, err)
	assert.Equal(t, "abc123", outcome.Credential)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestCampaign_ImmediateSuccessStopsScheduling(t *testing.T) {
	provider := &scriptedProvider{responses: []response{{token: "abc123"}}}
	a, clock := newTestAcquirer(t, provider, nil)

	c, err := a.Start(context.Background())
	require.NoError(t, err)
	clock.advance(t)

	outcome, err := waitOutcome(t, c)
	require.NoError(t, err)
	clock.assertNoSleep(t)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, provider.callCount())
}

func TestAcquirer_SingleCampaign(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []response{{token: "first"}, failure("x"), {token: "second"}}}
	a, clock := newTestAcquirer(t, provider, nil)

	_, ok := a.Current()
	assert.False(t, ok)

	first, err := a.Start(ctx)
	require.NoError(t, err)

	t.Run("Rejects duplicate start while waiting", func(t *testing.T) {
		_, err := a.Start(ctx)
		assert.ErrorIs(t, err, acquire.ErrCampaignInProgress)
	})

	clock.advance(t)
	_, err = waitOutcome(t, first)
	require.NoError(t, err)

	t.Run("Fresh campaign after terminal state has its own counter", func(t *testing.T) {
		snap, err := a.Launch(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID(), snap.ID)
		assert.Equal(t, 0, snap.Attempt)

		clock.advance(t)    // grace period -> attempt 1 fails
		clock.awaitSleep(t) // backoff after attempt 1
		current, ok := a.Current()
		require.True(t, ok)
		assert.Equal(t, 1, current.Attempt)

		clock.elapse(t) // attempt 2 succeeds
		assert.Eventually(t, func() bool {
			current, _ := a.Current()
			return current.State == acquire.StateSucceeded
		}, time.Second, 5*time.Millisecond)
		current, _ = a.Current()
		assert.Equal(t, 2, current.Attempt)
		assert.Equal(t, 1, first.Snapshot().Attempt, "previous campaign untouched")
	})
}

func TestCampaign_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending attempt never fires", func(t *testing.T) {
		provider := &scriptedProvider{responses: []response{failure("x"), {token: "late"}}}
		sink := &recordingSink{}
		a, clock := newTestAcquirer(t, provider, sink)

		c, err := a.Start(ctx)
		require.NoError(t, err)
		clock.advance(t)    // attempt 1 fails
		clock.awaitSleep(t) // parked before attempt 2

		assert.True(t, a.Cancel())
		assert.False(t, c.Cancel(), "already terminal")

		_, err = waitOutcome(t, c)
		assert.ErrorIs(t, err, acquire.ErrCampaignCancelled)
		clock.assertNoSleep(t)
		assert.Equal(t, 1, provider.callCount())
		assert.Empty(t, sink.delivered())
		assert.Equal(t, acquire.StateCancelled, c.State())
	})

	t.Run("Grace period is interrupted", func(t *testing.T) {
		provider := &scriptedProvider{responses: []response{{token: "never"}}}
		a, clock := newTestAcquirer(t, provider, nil)

		c, err := a.Start(ctx)
		require.NoError(t, err)
		clock.awaitSleep(t)

		assert.True(t, c.Cancel())
		clock.assertNoSleep(t)
		assert.Zero(t, provider.callCount())
	})

	t.Run("In-flight result is discarded", func(t *testing.T) {
		var c *acquire.Campaign
		provider := credential.ProviderFunc(func(ctx context.Context) (string, error) {
			c.Cancel()
			<-ctx.Done()
			return "too-late", nil
		})
		sink := &recordingSink{}
		a, clock := newTestAcquirer(t, provider, sink)

		var err error
		c, err = a.Start(ctx)
		require.NoError(t, err)
		clock.advance(t)

		_, err = waitOutcome(t, c)
		assert.ErrorIs(t, err, acquire.ErrCampaignCancelled)
		assert.Never(t, func() bool { return len(sink.delivered()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
		assert.Equal(t, acquire.StateCancelled, c.State())
		assert.Empty(t, c.Snapshot().CredentialPreview)
	})

	t.Run("Nothing to cancel", func(t *testing.T) {
		a, _ := newTestAcquirer(t, &scriptedProvider{}, nil)
		assert.False(t, a.Cancel())
	})
}

func TestCampaign_DetachedFromStartContext(t *testing.T) {
	provider := &scriptedProvider{responses: []response{{token: "abc123"}}}
	a, clock := newTestAcquirer(t, provider, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	c, err := a.Start(reqCtx)
	require.NoError(t, err)
	cancel()

	clock.advance(t)
	outcome, err := waitOutcome(t, c)
	require.NoError(t, err)
	assert.Equal(t, "abc123", outcome.Credential)
}

func TestCampaign_WaitHonoursContext(t *testing.T) {
	a, _ := newTestAcquirer(t, &scriptedProvider{}, nil)
	c, err := a.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCampaign_SinkErrorDoesNotBlockCompletion(t *testing.T) {
	provider := &scriptedProvider{responses: []response{{token: "abc123"}}}
	sink := credential.SinkFunc(func(context.Context, credential.Outcome) error {
		return errors.New("sink down")
	})
	a, clock := newTestAcquirer(t, provider, sink)

	c, err := a.Start(context.Background())
	require.NoError(t, err)
	clock.advance(t)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("campaign should be done")
	}
}

func TestAcquirer_WithBackoff(t *testing.T) {
	provider := &scriptedProvider{responses: []response{failure("x"), failure("y"), {token: "abc123"}}}
	a, clock := newTestAcquirer(t, provider, nil, acquire.WithBackoff(retry.Constant(time.Second)))

	c, err := a.Start(context.Background())
	require.NoError(t, err)
	clock.advance(t)
	clock.advance(t)
	clock.advance(t)

	_, err = waitOutcome(t, c)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, time.Second, time.Second}, clock.recordedDelays(),
		"grace period is not part of the backoff")
}

func TestCampaign_WallClock(t *testing.T) {
	provider := &scriptedProvider{responses: []response{failure("x"), {token: ""}, {token: "real-token"}}}
	cfg := acquire.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, GracePeriod: time.Millisecond}
	a, err := acquire.New(cfg, provider, nil, newTestLogger())
	require.NoError(t, err)

	c, err := a.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "real-token", outcome.Credential)
	assert.Equal(t, 3, outcome.Attempts)
}

func TestNew_Validation(t *testing.T) {
	provider := &scriptedProvider{}
	logger := newTestLogger()

	testCases := []struct {
		name string
		cfg  acquire.Config
	}{
		{name: "Zero attempts", cfg: acquire.Config{MaxAttempts: 0, BaseDelay: time.Second, GracePeriod: time.Second}},
		{name: "Negative delay", cfg: acquire.Config{MaxAttempts: 1, BaseDelay: -time.Second, GracePeriod: time.Second}},
		{name: "Zero delay", cfg: acquire.Config{MaxAttempts: 1, BaseDelay: 0, GracePeriod: time.Second}},
		{name: "Negative grace", cfg: acquire.Config{MaxAttempts: 1, BaseDelay: time.Second, GracePeriod: -time.Second}},
		{name: "Zero grace", cfg: acquire.Config{MaxAttempts: 1, BaseDelay: time.Second, GracePeriod: 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := acquire.New(tc.cfg, provider, nil, logger)
			assert.ErrorIs(t, err, acquire.ErrInvalidConfig)
		})
	}

	t.Run("Nil provider", func(t *testing.T) {
		_, err := acquire.New(acquire.DefaultConfig(), nil, nil, logger)
		assert.Error(t, err)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := acquire.DefaultConfig()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.NoError(t, cfg.Validate())
}
