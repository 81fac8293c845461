package acquire

import (
	"context"
	"time"
)

// systemClock is the wall-clock retry.Clock. The policy and the grace period
// share it so a test clock replaces both.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
