package saga

import (
	"context"
	"time"

	"github.com/aleksih/kesto/backoff"
	"github.com/aleksih/kesto/pkg/api"
)

// Orchestrator drives a fixed sequence of saga steps: forward until a step
// fails, then compensation of the completed prefix in reverse order.
type Orchestrator struct {
	name     string
	steps    []*Step
	observer api.Observer
}

// NewOrchestrator creates an empty orchestrator for the named saga.
func NewOrchestrator(name string) *Orchestrator {
	return &Orchestrator{
		name:     name,
		observer: api.NoopObserver{},
	}
}

// AddStep appends a step and returns the orchestrator for chaining.
func (o *Orchestrator) AddStep(step *Step) *Orchestrator {
	o.steps = append(o.steps, step)
	return o
}

// WithObserver sets the observer notified of compensation actions.
func (o *Orchestrator) WithObserver(obs api.Observer) *Orchestrator {
	if obs != nil {
		o.observer = obs
	}
	return o
}

// Name returns the saga's name.
func (o *Orchestrator) Name() string { return o.name }

// Steps returns the configured steps in execution order.
func (o *Orchestrator) Steps() []*Step { return o.steps }

// Execute runs the saga to one of its three terminal outcomes. The result
// is always well-formed; a failed saga is reported through the outcome and
// its error fields rather than a returned error, so callers can distinguish
// a clean rollback from one needing manual intervention.
func (o *Orchestrator) Execute(ctx context.Context, sc *Context) Result {
	for index, step := range o.steps {
		sc.markExecuting(step.ID)

		result, err := o.executeWithRetry(ctx, step, sc)
		if err != nil {
			sc.markFailed(step.ID)
			return o.compensateFrom(ctx, sc, index, err)
		}
		sc.markCompleted(step.ID, result)
	}

	sc.EndedAt = time.Now().UTC()

	var value any
	if n := len(sc.Executed); n > 0 {
		value = sc.Executed[n-1].Result
	}
	return Result{Outcome: OutcomeCompleted, Value: value}
}

// executeWithRetry runs one forward action under the step's retry policy.
// A non-retryable step gets exactly one attempt.
func (o *Orchestrator) executeWithRetry(ctx context.Context, step *Step, sc *Context) (any, error) {
	maxAttempts := 1
	if step.Retryable {
		maxAttempts = step.Retry.MaxRetries + 1
	}
	strategy := backoff.FromPolicy(step.Retry)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			sc.Retries[step.ID]++
			select {
			case <-ctx.Done():
				return nil, api.WrapError(api.KindStepExecution, ctx.Err(),
					"saga step %q interrupted", step.Name)
			case <-time.After(strategy.Delay(attempt - 1)):
			}
		}

		result, err := step.Action(ctx, sc.Exec)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if api.KindOf(lastErr) == "" {
		lastErr = api.WrapError(api.KindStepExecution, lastErr,
			"saga step %q failed after %d attempts", step.Name, maxAttempts)
	}
	return nil, lastErr
}

// compensateFrom rolls back the completed prefix of the saga after the step
// at failedIndex failed with cause.
func (o *Orchestrator) compensateFrom(ctx context.Context, sc *Context, failedIndex int, cause error) Result {
	compensated, failedAt, compErr := o.Compensate(ctx, sc, failedIndex)
	sc.EndedAt = time.Now().UTC()

	if compErr != nil {
		return Result{
			Outcome:          OutcomeCompensationFailed,
			Err:              cause,
			CompensationErr:  compErr,
			CompensatedSteps: compensated,
			FailedAtStep:     failedAt,
		}
	}
	return Result{
		Outcome:          OutcomeCompensated,
		Err:              cause,
		CompensatedSteps: compensated,
	}
}

// Compensate undoes the completed steps before failedIndex in reverse
// execution order. It stops at the first compensation failure and returns
// the ids rolled back so far and, on failure, the id it stopped at.
// Compensation actions get a single attempt each; a failure here means the
// system needs a human, and blind re-execution of an undo is not safe.
//
// Exported so hosts can run a rollback on their own trigger, e.g. after
// an external cancellation of a half-finished business transaction.
func (o *Orchestrator) Compensate(ctx context.Context, sc *Context, failedIndex int) (compensated []string, failedAt string, err error) {
	if failedIndex > len(o.steps) {
		failedIndex = len(o.steps)
	}

	for index := failedIndex - 1; index >= 0; index-- {
		step := o.steps[index]
		if !sc.Completed(step.ID) {
			continue
		}

		sc.markCompensating(step.ID)
		if step.Compensation == nil {
			// Nothing to undo, but the step still counts as rolled back
			// so the report reflects the whole prefix.
			sc.markCompensated(step.ID)
			compensated = append(compensated, step.ID)
			o.observer.OnCompensation(ctx, o.name, step.ID, nil)
			continue
		}

		cerr := step.Compensation(ctx, sc.Exec, sc.Results[step.ID])
		o.observer.OnCompensation(ctx, o.name, step.ID, cerr)
		if cerr != nil {
			sc.markCompensationFailed(step.ID)
			return compensated, step.ID, cerr
		}
		sc.markCompensated(step.ID)
		compensated = append(compensated, step.ID)
	}
	return compensated, "", nil
}
