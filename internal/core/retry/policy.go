package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy retries an operation with exponential backoff.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// Retryable decides whether an error deserves another attempt. Nil retries nothing.
	Retryable func(error) bool
	// OnRetry is called before each wait, mainly for logging.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NextDelay returns the wait before attempt+1, doubling from Initial up to Max.
func (p Policy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		return 0
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Do runs op until it succeeds, returns a non-retryable error, attempts run out or ctx ends.
// The returned error is the last one op produced.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == attempts || p.Retryable == nil || !p.Retryable(err) {
			break
		}

		delay := p.NextDelay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (retry aborted: %v)", err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
