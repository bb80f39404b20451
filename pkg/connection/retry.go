package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Connection errors.
var (
	ErrAttemptsExhausted = errors.New("connect attempts exhausted")
)

// DefaultAttempts is the number of connect attempts made at startup.
const DefaultAttempts = 5

// ConnectFunc establishes a connection. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// RetryConfig configures Retry.
type RetryConfig struct {
	// Attempts is the total number of tries. Zero means DefaultAttempts.
	Attempts int

	// Backoff is the delay schedule between tries.
	Backoff BackoffConfig

	// Rand is the jitter source. Nil uses math/rand.
	Rand func() float64

	// OnRetry, if set, is called before waiting for the next try.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry calls connect until it succeeds, the attempts run out or ctx is
// cancelled.
func Retry(ctx context.Context, cfg RetryConfig, connect ConnectFunc) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		delay := cfg.Backoff.Delay(attempt, cfg.Rand)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d tries: %w", ErrAttemptsExhausted, attempts, lastErr)
}
