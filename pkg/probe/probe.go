// Package probe blocks callers until a freshly provisioned sandbox's
// internal services are all running, or gives up after a bounded number of
// attempts. The retry loop is a combinator parameterized over the check and
// the sleep function so it can be unit-tested without real delays.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is the result of one readiness check attempt.
type Outcome int

const (
	// NotReady means try again: services still starting, or the endpoint
	// is not accepting connections yet.
	NotReady Outcome = iota
	// Ready means every service reports running.
	Ready
	// Broken means a service is in a terminal failed state. The loop only
	// aborts after observing Broken on consecutive attempts, so a benign
	// restart blip does not kill the sandbox.
	Broken
)

// ErrTimeout is returned when the attempt budget is exhausted without the
// check ever reporting Ready.
var ErrTimeout = errors.New("readiness probe timed out")

// Check performs one readiness observation. The returned error is the
// broken-state detail when the outcome is Broken; it is ignored otherwise.
type Check func(ctx context.Context) (Outcome, error)

// Policy bounds the retry loop.
type Policy struct {
	// Attempts is the maximum number of checks.
	Attempts int
	// Interval is the pause between attempts. Linear, not exponential:
	// sandbox startup order is fixed and the expected wait is short.
	Interval time.Duration
	// Sleep is injectable for tests; nil uses a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy waits up to 30 attempts, 2 seconds apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: 30, Interval: 2 * time.Second}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Until runs check up to p.Attempts times, p.Interval apart, until it
// reports Ready. Two consecutive Broken observations abort early with the
// check's error. Exhausting the budget returns ErrTimeout.
func Until(ctx context.Context, p Policy, check Check) error {
	if p.Attempts <= 0 {
		return fmt.Errorf("probe policy: attempts must be positive, got %d", p.Attempts)
	}

	consecutiveBroken := 0
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.Interval); err != nil {
				return fmt.Errorf("probe interrupted: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("probe interrupted: %w", err)
		}

		outcome, err := check(ctx)
		switch outcome {
		case Ready:
			return nil
		case Broken:
			consecutiveBroken++
			if consecutiveBroken >= 2 {
				if err == nil {
					err = errors.New("service in terminal state")
				}
				return err
			}
		default:
			consecutiveBroken = 0
		}
	}
	return fmt.Errorf("%w after %d attempts (%s apart)", ErrTimeout, p.Attempts, p.Interval)
}
