package retry

import (
	"context"
	"errors"
	"time"
)

// ErrStillProcessing is returned when the condition was not met within the
// configured attempt budget. Callers surface it as a distinct "still
// processing" state rather than a hard failure, since the underlying write
// (usually webhook-driven) may land later.
var ErrStillProcessing = errors.New("retry: condition not met after all attempts")

// Config controls a bounded retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts. Defaults to 2.
	Multiplier float64
}

// DefaultConfig returns the default retry configuration used for observing
// eventual consistency after webhook-driven writes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2,
	}
}

// Until calls fn until it reports done, the attempt budget is exhausted, or
// the context is canceled. fn returning an error stops the loop immediately;
// exhausting the budget returns ErrStillProcessing.
func Until(ctx context.Context, cfg Config, fn func(ctx context.Context) (done bool, err error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return ErrStillProcessing
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
