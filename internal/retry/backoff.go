// Package retry provides exponential backoff shared by the database
// connection and the scope poller.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Backoff retries an operation with exponentially growing, jittered delays.
type Backoff struct {
	maxRetries int // negative: retry until the context ends
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithMaxRetries bounds the number of retries after the first attempt. A
// negative value retries until the context is done.
func WithMaxRetries(n int) Option { return func(b *Backoff) { b.maxRetries = n } }

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option { return func(b *Backoff) { b.baseDelay = d } }

// WithMaxDelay caps the delay between attempts.
func WithMaxDelay(d time.Duration) Option { return func(b *Backoff) { b.maxDelay = d } }

// WithoutJitter makes delays deterministic.
func WithoutJitter() Option { return func(b *Backoff) { b.jitter = false } }

// New creates a Backoff with sensible defaults: 5 retries starting at
// 100ms, doubling up to 30s, with up to 25% jitter.
func New(opts ...Option) *Backoff {
	b := &Backoff{
		maxRetries: 5,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   30 * time.Second,
		multiplier: 2.0,
		jitter:     true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Retry runs fn until it succeeds, the retries are used up or ctx is done.
func (b *Backoff) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; b.maxRetries < 0 || attempt <= b.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.maxRetries {
			break
		}

		delay := b.Delay(attempt)
		slog.DebugContext(ctx, "Retry attempt failed, waiting before next attempt",
			"attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", b.maxRetries+1, lastErr)
}

// Delay returns the wait before retry number attempt+1.
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.baseDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	if b.jitter {
		// up to 25% on top
		delay += rand.Float64() * delay * 0.25
	}

	return time.Duration(delay)
}
