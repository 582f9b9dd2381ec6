package api

import "time"

// Status represents the lifecycle state of an execution context.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSuspended Status = "SUSPENDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final. A terminal context is never
// executed again; the engine archives it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepOutcome is one entry of a context's append-only history.
// For parallel groups, one outcome per member is appended in the order the
// members were declared, never in completion order.
type StepOutcome struct {
	StepIndex int           `json:"step_index"`
	Name      string        `json:"name"`
	Decision  DecisionKind  `json:"decision"`
	Err       string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// ExecutionContext is the mutable, serializable state bag for one workflow
// run. It is exclusively owned by the engine goroutine driving the run; step
// actions receive it at the engine's merge point and must not share it with
// concurrent work of their own.
type ExecutionContext struct {
	// ID is the opaque run identifier.
	ID string `json:"id"`

	// WorkflowName names the registered definition this run executes.
	WorkflowName string `json:"workflow_name"`

	// StepIndex is the monotonic cursor into the definition's steps. It
	// never decreases except through an explicit resume that restores a
	// prior snapshot.
	StepIndex int `json:"step_index"`

	// MaxSteps bounds the run. Reaching it while still running fails the
	// run with a step budget error.
	MaxSteps int `json:"max_steps"`

	// Variables is the shared scratch space across steps.
	Variables map[string]any `json:"variables"`

	Status Status `json:"status"`

	// SuspendReason is set if and only if Status is StatusSuspended.
	SuspendReason *SuspendReason `json:"suspend_reason,omitempty"`

	// SnapshotID identifies the snapshot backing the current suspension.
	// Empty unless Status is StatusSuspended.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// Output is the value passed to Complete, if the run completed.
	Output any `json:"output,omitempty"`

	// Err holds the failure that terminated the run, if any.
	Err error `json:"-"`

	// History is the append-only ordered sequence of per-step outcomes.
	History []StepOutcome `json:"history,omitempty"`
}

// NewExecutionContext creates a running context with the given bound and
// initial variables. The variables map is used as is; pass a copy if the
// caller keeps mutating its own.
func NewExecutionContext(id, workflowName string, variables map[string]any, maxSteps int) *ExecutionContext {
	if variables == nil {
		variables = make(map[string]any)
	}
	return &ExecutionContext{
		ID:           id,
		WorkflowName: workflowName,
		MaxSteps:     maxSteps,
		Variables:    variables,
		Status:       StatusRunning,
	}
}

// Variable returns the named variable and whether it is set.
func (ec *ExecutionContext) Variable(key string) (any, bool) {
	v, ok := ec.Variables[key]
	return v, ok
}

// SetVariable sets a variable in the shared scratch space.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	ec.Variables[key] = value
}

// CanContinue reports whether the engine loop should keep driving steps.
func (ec *ExecutionContext) CanContinue() bool {
	return ec.Status == StatusRunning && ec.StepIndex < ec.MaxSteps
}

// markSuspended and markResumed keep the suspend_reason/status invariant in
// one place: the reason is present exactly while the context is suspended.

// MarkSuspended transitions the context to StatusSuspended with the given
// reason and backing snapshot.
func (ec *ExecutionContext) MarkSuspended(reason SuspendReason, snapshotID string) {
	ec.Status = StatusSuspended
	ec.SuspendReason = &reason
	ec.SnapshotID = snapshotID
}

// MarkResumed transitions a suspended context back to StatusRunning and
// clears the suspension fields.
func (ec *ExecutionContext) MarkResumed() {
	ec.Status = StatusRunning
	ec.SuspendReason = nil
	ec.SnapshotID = ""
}
