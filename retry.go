package kesto

import "time"

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for use with FlowBuilder.StepWithRetry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder allowing the given number of retries after
// the first attempt. maxRetries < 0 is treated as 0 (single attempt).
func Retry(maxRetries int) RetryBuilder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryBuilder{
		policy: RetryPolicy{
			MaxRetries: maxRetries,
		},
	}
}

// WithBaseDelay sets the delay before the first retry. Subsequent retries
// double the delay each attempt.
func (r RetryBuilder) WithBaseDelay(d time.Duration) RetryBuilder {
	p := r.policy
	p.BaseDelay = d
	return RetryBuilder{policy: p}
}

// WithMaxDelay caps the backoff delay. A zero cap means no cap.
func (r RetryBuilder) WithMaxDelay(d time.Duration) RetryBuilder {
	p := r.policy
	p.MaxDelay = d
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries. Retries still respect
// MaxRetries.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.BaseDelay = 0
	p.MaxDelay = 0
	return RetryBuilder{policy: p}
}

// Policy returns the built RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
