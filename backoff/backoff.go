// Package backoff provides pluggable retry delay strategies shared by the
// workflow engine and the saga orchestrator. All strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max when Max > 0.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if d < 0 { // overflow
		d = e.Max
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Jittered wraps another strategy and adds up to Fraction of random jitter,
// spreading out retry storms from many runs failing at once.
type Jittered struct {
	Inner    Strategy
	Fraction float64
}

// NewJittered wraps inner with the given jitter fraction (clamped to [0,1]).
func NewJittered(inner Strategy, fraction float64) *Jittered {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return &Jittered{Inner: inner, Fraction: fraction}
}

// Delay returns the inner delay plus a random jitter in
// [0, inner*Fraction).
func (j *Jittered) Delay(attempt int) time.Duration {
	d := j.Inner.Delay(attempt)
	if j.Fraction <= 0 || d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Float64() * j.Fraction * float64(d))
	return d + jitter
}

// FromPolicy builds the exponential strategy described by a retry policy:
// BaseDelay * 2^(attempt-1) capped at MaxDelay.
func FromPolicy(p api.RetryPolicy) Strategy {
	return &Exponential{Initial: p.BaseDelay, Max: p.MaxDelay}
}
