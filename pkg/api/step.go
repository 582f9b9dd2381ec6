package api

import (
	"context"
	"time"
)

// SuspendKind tags the cause of a suspension.
type SuspendKind string

const (
	SuspendUserPause          SuspendKind = "USER_PAUSE"
	SuspendWaitingForEvent    SuspendKind = "WAITING_FOR_EVENT"
	SuspendSleep              SuspendKind = "SLEEP"
	SuspendWaitingForApproval SuspendKind = "WAITING_FOR_APPROVAL"
	SuspendExternalDependency SuspendKind = "EXTERNAL_DEPENDENCY"
)

// SuspendReason is the tagged cause a workflow paused. Name carries the
// event or dependency name for the kinds that have one; Until carries the
// wake deadline for SuspendSleep.
type SuspendReason struct {
	Kind  SuspendKind `json:"kind"`
	Name  string      `json:"name,omitempty"`
	Until time.Time   `json:"until,omitzero"`
}

func UserPause() SuspendReason { return SuspendReason{Kind: SuspendUserPause} }
func WaitingForEvent(name string) SuspendReason {
	return SuspendReason{Kind: SuspendWaitingForEvent, Name: name}
}
func Sleep(until time.Time) SuspendReason {
	return SuspendReason{Kind: SuspendSleep, Until: until}
}
func WaitingForApproval() SuspendReason { return SuspendReason{Kind: SuspendWaitingForApproval} }
func ExternalDependency(name string) SuspendReason {
	return SuspendReason{Kind: SuspendExternalDependency, Name: name}
}

// ApprovalEvent is the event name that satisfies a WaitingForApproval
// suspension.
const ApprovalEvent = "approval"

// Condition derives the resume condition implied by the reason: a sleep
// waits for its deadline, an event wait (including approval and external
// dependencies) waits for its named event, and a user pause can be resumed
// at any time.
func (r SuspendReason) Condition() ResumeCondition {
	switch r.Kind {
	case SuspendSleep:
		return ResumeCondition{Kind: ConditionTime, Until: r.Until}
	case SuspendWaitingForEvent, SuspendExternalDependency:
		return ResumeCondition{Kind: ConditionEvent, Event: r.Name}
	case SuspendWaitingForApproval:
		return ResumeCondition{Kind: ConditionEvent, Event: ApprovalEvent}
	}
	return ResumeCondition{Kind: ConditionNone}
}

// ConditionKind tags what must hold before a snapshot may be resumed.
type ConditionKind string

const (
	// ConditionNone means the snapshot can be resumed at any time.
	ConditionNone ConditionKind = "NONE"
	// ConditionEvent requires the resume payload to carry the named event.
	ConditionEvent ConditionKind = "EVENT"
	// ConditionTime requires wall-clock time at or past Until.
	ConditionTime ConditionKind = "TIME"
)

// ResumeCondition is the persisted precondition on resuming a snapshot.
type ResumeCondition struct {
	Kind  ConditionKind `json:"kind"`
	Event string        `json:"event,omitempty"`
	Until time.Time     `json:"until,omitzero"`
}

// ResumePayload is the optional data supplied with a resume call, e.g. the
// event that satisfies the snapshot's resume condition.
type ResumePayload struct {
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Satisfied checks the condition against the payload and clock. It returns
// nil when the resume may proceed, or a precondition error describing what
// is still missing.
func (c ResumeCondition) Satisfied(payload *ResumePayload, now time.Time) error {
	switch c.Kind {
	case ConditionTime:
		if now.Before(c.Until) {
			return NewError(KindPreconditionNotMet,
				"sleeping until %s (now %s)", c.Until.Format(time.RFC3339), now.Format(time.RFC3339))
		}
	case ConditionEvent:
		if payload == nil || payload.Event != c.Event {
			return NewError(KindPreconditionNotMet, "waiting for event %q", c.Event)
		}
	}
	return nil
}

// DecisionKind tags a step's transition decision.
type DecisionKind string

const (
	DecisionContinue DecisionKind = "CONTINUE"
	DecisionSuspend  DecisionKind = "SUSPEND"
	DecisionComplete DecisionKind = "COMPLETE"
	DecisionFail     DecisionKind = "FAIL"
)

// Decision is what a step returns to the engine: advance, suspend the run
// behind a durable snapshot, complete it with a value, or fail it.
type Decision struct {
	Kind      DecisionKind
	Value     any
	Err       error
	Reason    SuspendReason
	Condition ResumeCondition
}

// Continue advances the cursor and keeps the run running.
func Continue() Decision { return Decision{Kind: DecisionContinue} }

// Complete terminates the run successfully with the given value.
func Complete(value any) Decision { return Decision{Kind: DecisionComplete, Value: value} }

// Fail terminates the run (or, inside a saga, triggers compensation).
func Fail(err error) Decision { return Decision{Kind: DecisionFail, Err: err} }

// Suspend parks the run behind a snapshot. The resume condition is derived
// from the reason; use SuspendWithCondition to override it.
func Suspend(reason SuspendReason) Decision {
	return Decision{Kind: DecisionSuspend, Reason: reason, Condition: reason.Condition()}
}

// SuspendWithCondition parks the run with an explicit resume condition.
func SuspendWithCondition(reason SuspendReason, cond ResumeCondition) Decision {
	return Decision{Kind: DecisionSuspend, Reason: reason, Condition: cond}
}

// StepFunc is a single step in a workflow. It runs to completion before the
// engine evaluates the decision, so suspension always happens at a clean
// step boundary. A returned error is a retryable execution failure; a
// deliberate terminal failure is Fail.
type StepFunc func(ctx context.Context, ec *ExecutionContext) (Decision, error)

// RetryPolicy controls local retries of a failing action. MaxRetries is the
// number of retries after the first attempt, so a step is attempted at most
// MaxRetries+1 times. The delay before retry n is BaseDelay*2^(n-1), capped
// at MaxDelay when MaxDelay is positive.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
}

// StepDefinition describes a named step. Exactly one of Fn or Group is set:
// a plain step runs Fn; a parallel group dispatches its members
// concurrently, joins on all of them, and records their outcomes in
// declared order.
type StepDefinition struct {
	Name  string
	Fn    StepFunc
	Retry *RetryPolicy
	Group []StepDefinition
}

// WorkflowDefinition describes a workflow as an ordered sequence of steps.
type WorkflowDefinition struct {
	Name  string
	Steps []StepDefinition
}
