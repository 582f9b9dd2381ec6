// Package saga implements compensating transactions over a sequence of
// steps. Each step pairs a forward action with a compensation; when a
// forward action fails, the orchestrator undoes the completed steps in
// reverse order and reports how far it got.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aleksih/kesto/pkg/api"
)

// StepState tracks where a step is in the saga lifecycle.
type StepState string

const (
	StatePending            StepState = "PENDING"
	StateExecuting          StepState = "EXECUTING"
	StateCompleted          StepState = "COMPLETED"
	StateFailed             StepState = "FAILED"
	StateCompensating       StepState = "COMPENSATING"
	StateCompensated        StepState = "COMPENSATED"
	StateCompensationFailed StepState = "COMPENSATION_FAILED"
)

// ActionFunc is a step's forward action. Its returned value is recorded and
// later handed to the step's compensation.
type ActionFunc func(ctx context.Context, ec *api.ExecutionContext) (any, error)

// CompensationFunc undoes a completed forward action. It receives the value
// the action returned, which typically carries the identifiers needed to
// undo the work (a reservation id, a charge id).
type CompensationFunc func(ctx context.Context, ec *api.ExecutionContext, result any) error

// Step is a single saga step: a forward action paired with its
// compensation.
type Step struct {
	ID           string
	Name         string
	Action       ActionFunc
	Compensation CompensationFunc

	// Retryable steps are re-attempted on a returned error with
	// exponential backoff. Compensations are never retried.
	Retryable bool
	Retry     api.RetryPolicy
}

// NewStep creates a retryable step with the default policy of three retries
// starting at a 100ms delay. A nil compensation marks the step as having no
// work to undo; it still participates in the compensation bookkeeping.
func NewStep(id, name string, action ActionFunc, compensation CompensationFunc) *Step {
	return &Step{
		ID:           id,
		Name:         name,
		Action:       action,
		Compensation: compensation,
		Retryable:    true,
		Retry:        api.RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond},
	}
}

// WithRetries overrides the retry count.
func (s *Step) WithRetries(maxRetries int) *Step {
	s.Retry.MaxRetries = maxRetries
	return s
}

// WithBaseDelay overrides the initial backoff delay.
func (s *Step) WithBaseDelay(d time.Duration) *Step {
	s.Retry.BaseDelay = d
	return s
}

// NonRetryable disables retries for this step.
func (s *Step) NonRetryable() *Step {
	s.Retryable = false
	s.Retry.MaxRetries = 0
	return s
}

// ExecutedStep records one completed forward action in execution order.
type ExecutedStep struct {
	StepID string
	Result any
}

// Context carries the state of one saga execution: per-step states, the
// recorded forward results, and retry counts.
type Context struct {
	ID        string
	Name      string
	StartedAt time.Time
	EndedAt   time.Time

	// Exec is the surrounding workflow context, shared with the step
	// actions for variable access.
	Exec *api.ExecutionContext

	States  map[string]StepState
	Results map[string]any
	Retries map[string]int

	// Executed lists completed forward steps in execution order, which is
	// the order compensation later reverses.
	Executed []ExecutedStep

	// Compensated lists the ids of successfully compensated steps.
	Compensated []string
}

// NewContext creates a fresh saga context bound to the given workflow
// execution context. Exec may be nil for standalone sagas.
func NewContext(name string, exec *api.ExecutionContext) *Context {
	if exec == nil {
		exec = api.NewExecutionContext(uuid.NewString(), name, nil, 0)
	}
	return &Context{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now().UTC(),
		Exec:      exec,
		States:    make(map[string]StepState),
		Results:   make(map[string]any),
		Retries:   make(map[string]int),
	}
}

// State returns the recorded state of the step, or StatePending.
func (c *Context) State(stepID string) StepState {
	if s, ok := c.States[stepID]; ok {
		return s
	}
	return StatePending
}

// Completed reports whether the step's forward action completed.
func (c *Context) Completed(stepID string) bool {
	return c.States[stepID] == StateCompleted
}

func (c *Context) markExecuting(stepID string) {
	c.States[stepID] = StateExecuting
}

func (c *Context) markCompleted(stepID string, result any) {
	c.States[stepID] = StateCompleted
	c.Results[stepID] = result
	c.Executed = append(c.Executed, ExecutedStep{StepID: stepID, Result: result})
}

func (c *Context) markFailed(stepID string) {
	c.States[stepID] = StateFailed
}

func (c *Context) markCompensating(stepID string) {
	c.States[stepID] = StateCompensating
}

func (c *Context) markCompensated(stepID string) {
	c.States[stepID] = StateCompensated
	c.Compensated = append(c.Compensated, stepID)
}

func (c *Context) markCompensationFailed(stepID string) {
	c.States[stepID] = StateCompensationFailed
}

// Outcome classifies how a saga execution ended.
type Outcome string

const (
	// OutcomeCompleted means every forward action succeeded.
	OutcomeCompleted Outcome = "COMPLETED"

	// OutcomeCompensated means a forward action failed and every completed
	// step was successfully rolled back.
	OutcomeCompensated Outcome = "COMPENSATED"

	// OutcomeCompensationFailed means the rollback itself failed partway.
	// The remaining steps are left un-compensated for manual intervention.
	OutcomeCompensationFailed Outcome = "COMPENSATION_FAILED"
)

// Result is the terminal report of a saga execution.
type Result struct {
	Outcome Outcome

	// Value is the last forward result, set for OutcomeCompleted.
	Value any

	// Err is the forward failure that triggered compensation.
	Err error

	// CompensationErr is the compensation failure, set for
	// OutcomeCompensationFailed.
	CompensationErr error

	// CompensatedSteps lists the ids that were rolled back, in the order
	// the rollback ran (reverse of execution).
	CompensatedSteps []string

	// FailedAtStep is the id of the step whose compensation failed.
	FailedAtStep string
}
