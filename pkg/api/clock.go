package api

import (
	"context"
	"time"
)

type clockKey struct{}

// WithClock returns a context carrying a clock. The engine attaches its own
// clock to the context it passes into steps, so time-based step helpers and
// the engine's resume-condition checks agree on what time it is.
func WithClock(ctx context.Context, now func() time.Time) context.Context {
	return context.WithValue(ctx, clockKey{}, now)
}

// Now returns the time according to the clock carried by ctx, or wall-clock
// UTC time when none is attached.
func Now(ctx context.Context) time.Time {
	if now, ok := ctx.Value(clockKey{}).(func() time.Time); ok {
		return now()
	}
	return time.Now().UTC()
}
