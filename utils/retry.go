package utils

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// RetryConfig describes an exponential back-off policy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
	Logger      *Logger
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// At least one attempt is always made.
func (r *RetryConfig) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := max(r.MaxAttempts, 1)
	log := r.Logger
	if log == nil {
		log = NewNopLogger()
	}

	delay := r.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		log.Warn("[retry] %s failed (attempt %d/%d): %v, next try in %v", op, attempt, attempts, err, delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return eris.Wrapf(ctx.Err(), "%s interrupted after %d attempts", op, attempt)
		case <-t.C:
		}

		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}
	return eris.Wrapf(err, "%s failed after %d attempts", op, attempts)
}
