// Package retryutil provides the retry-with-backoff combinator and the
// bounded polling helper shared by the pipeline lanes, the sync client,
// and the anti-bot challenge wait.
package retryutil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrPollTimeout is returned by Poll when the predicate never becomes true
// within the configured timeout.
var ErrPollTimeout = errors.New("poll timed out")

// terminalError marks an error that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so that Do stops retrying immediately and surfaces it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// Policy configures Do. The delay before retry attempt n (1-based) is
// BaseBackoff * Multiplier^n, capped at MaxBackoff when set.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

// Backoff returns the wait duration before the given retry attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1.5
	}
	delay := float64(p.BaseBackoff) * math.Pow(mult, float64(attempt))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	return time.Duration(delay)
}

// Do runs fn, retrying up to MaxRetries times with exponential backoff.
// Terminal errors and context cancellation stop the loop immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsTerminal(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt > p.MaxRetries {
			break
		}
		if err := Sleep(ctx, p.Backoff(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Sleep pauses for the given duration or until the context finishes.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Poll invokes fn every interval until it reports done, an error occurs, or
// timeout elapses. A timeout yields ErrPollTimeout.
func Poll(ctx context.Context, interval, timeout time.Duration, fn func(ctx context.Context) (bool, error)) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		done, err := fn(pollCtx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := Sleep(pollCtx, interval); err != nil {
			if errors.Is(pollCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return ErrPollTimeout
			}
			return err
		}
	}
}
