// Package pacing serialises calls to the external record store behind one
// process-wide token bucket and retries transient failures with backoff.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"comisioane/internal/core"
)

// Gate is the process-wide pacing gate. Construct one per process and pass
// it to every adapter that talks to the rate-limited store. A nil Gate
// never blocks.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate allows perSecond calls per second with the given burst.
// perSecond <= 0 disables pacing.
func NewGate(perSecond float64, burst int) *Gate {
	if perSecond <= 0 {
		return &Gate{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Gate{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until the next call may proceed or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil || g.limiter == nil {
		return ctx.Err()
	}
	return g.limiter.Wait(ctx)
}

// Policy controls Retry.
type Policy struct {
	Attempts int           // total attempts, at least 1
	Base     time.Duration // delay before the second attempt
	Max      time.Duration // cap on any single delay
}

// DefaultPolicy retries three times starting at 500ms, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the backoff before attempt n (n starts at 1 for the first retry).
func (p Policy) Delay(n int) time.Duration {
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Retryable reports whether Retry should try again after err.
func Retryable(err error) bool {
	var p permanent
	switch {
	case err == nil:
		return false
	case errors.As(err, &p):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, core.ErrCredentialOrConfig), errors.Is(err, core.ErrValidationSkip):
		return false
	}
	return true
}

// Client couples the gate with a retry policy. Every attempt waits on the
// gate first.
type Client struct {
	Gate   *Gate
	Policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewClient(gate *Gate, policy Policy) *Client {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Client{Gate: gate, Policy: policy, sleep: sleepCtx}
}

// Do runs fn under the gate, retrying transient failures. op names the
// call in logs.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= c.Policy.Attempts; attempt++ {
		if werr := c.Gate.Wait(ctx); werr != nil {
			return werr
		}
		err = fn(ctx)
		if !Retryable(err) {
			return err
		}
		if attempt == c.Policy.Attempts {
			break
		}
		delay := c.Policy.Delay(attempt)
		slog.WarnContext(ctx, "Store call failed, retrying",
			"component", "pacing",
			"operation", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, c.Policy.Attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
