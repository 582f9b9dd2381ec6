package kesto

import (
	"context"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// Step helpers. All of them are idempotent: a resume re-runs the step that
// suspended, so each helper checks whether its condition is already met
// before suspending again.

// SleepUntilStep suspends the run until the given wall-clock time. The
// wake-up worker (or an explicit resume after the deadline) continues it.
// Time is read from the engine's clock on the context, so the step and the
// engine's resume-condition check always agree.
func SleepUntilStep(until time.Time) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		if api.Now(ctx).Before(until) {
			return api.Suspend(api.Sleep(until)), nil
		}
		return api.Continue(), nil
	}
}

// SleepStep suspends the run for the given duration, measured from the
// step's first execution. The deadline is stored in the variables under
// key so the resumed step sees the original deadline, not a fresh one.
func SleepStep(key string, d time.Duration) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		until := api.Now(ctx).Add(d)
		if v, ok := ec.Variable(key); ok {
			if stored, err := time.Parse(time.RFC3339Nano, v.(string)); err == nil {
				until = stored
			}
		} else {
			ec.SetVariable(key, until.Format(time.RFC3339Nano))
		}

		if api.Now(ctx).Before(until) {
			return api.Suspend(api.Sleep(until)), nil
		}
		return api.Continue(), nil
	}
}

// WaitForEventStep suspends the run until the named event is delivered.
// The event's payload is available in the variables under the event name.
func WaitForEventStep(event string) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		if _, ok := ec.Variable(event); ok {
			return api.Continue(), nil
		}
		return api.Suspend(api.WaitingForEvent(event)), nil
	}
}

// WaitForApprovalStep suspends the run until an approval event arrives.
func WaitForApprovalStep() StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		if _, ok := ec.Variable(api.ApprovalEvent); ok {
			return api.Continue(), nil
		}
		return api.Suspend(api.WaitingForApproval()), nil
	}
}

// ExternalDependencyStep suspends the run until the named dependency
// reports back via event delivery.
func ExternalDependencyStep(name string) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		if _, ok := ec.Variable(name); ok {
			return api.Continue(), nil
		}
		return api.Suspend(api.ExternalDependency(name)), nil
	}
}

// PauseStep suspends the run once and continues on the next resume. The
// key marks the pause as taken so the re-run does not suspend again.
func PauseStep(key string) StepFunc {
	marker := "paused:" + key
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		if _, ok := ec.Variable(marker); ok {
			return api.Continue(), nil
		}
		ec.SetVariable(marker, true)
		return api.Suspend(api.UserPause()), nil
	}
}

// SetVariableStep writes a variable and continues.
func SetVariableStep(key string, value any) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		ec.SetVariable(key, value)
		return api.Continue(), nil
	}
}

// CompleteStep terminates the run successfully with the given value.
func CompleteStep(value any) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		return api.Complete(value), nil
	}
}

// CompleteWithVariableStep terminates the run with the named variable as
// its output.
func CompleteWithVariableStep(key string) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		v, _ := ec.Variable(key)
		return api.Complete(v), nil
	}
}

// FailStep terminates the run with the given error.
func FailStep(err error) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		return api.Fail(err), nil
	}
}
