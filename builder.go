package kesto

import (
	"fmt"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := kesto.New("onboarding").
//	    Step("create-account", createAccount).
//	    WaitForEvent("await-activation", "activated").
//	    Step("send-welcome", sendWelcome)
//
//	flow.MustRegister(eng)
type FlowBuilder struct {
	def api.WorkflowDefinition
}

// New creates a new workflow builder with the given name.
func New(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.WorkflowDefinition{
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Name returns the workflow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() WorkflowDefinition {
	return b.def
}

// Step appends a basic step to the workflow.
func (b *FlowBuilder) Step(name string, fn StepFunc) *FlowBuilder {
	if name == "" {
		panic("kesto: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("kesto: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name: name,
		Fn:   fn,
	})
	return b
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *FlowBuilder) StepWithRetry(name string, fn StepFunc, retry RetryPolicy) *FlowBuilder {
	if name == "" {
		panic("kesto: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("kesto: step %q has nil function", name))
	}

	// Make a copy so callers can mutate their RetryPolicy after the call
	// without affecting the stored definition.
	r := retry

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Retry: &r,
	})
	return b
}

// Parallel appends a group whose members run concurrently and join before
// the next step. Members may only continue or fail.
func (b *FlowBuilder) Parallel(name string, members ...StepDefinition) *FlowBuilder {
	if name == "" {
		panic("kesto: step name must not be empty")
	}
	if len(members) == 0 {
		panic(fmt.Sprintf("kesto: parallel group %q has no members", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Group: members,
	})
	return b
}

// Member builds a named group member for Parallel.
func Member(name string, fn StepFunc) StepDefinition {
	return api.StepDefinition{Name: name, Fn: fn}
}

// MemberWithRetry builds a group member with its own retry policy.
func MemberWithRetry(name string, fn StepFunc, retry RetryPolicy) StepDefinition {
	r := retry
	return api.StepDefinition{Name: name, Fn: fn, Retry: &r}
}

// SleepUntil appends a step that suspends the run until the given time.
func (b *FlowBuilder) SleepUntil(stepName string, until time.Time) *FlowBuilder {
	return b.Step(stepName, SleepUntilStep(until))
}

// WaitForEvent appends a step that suspends until the named event is
// delivered.
func (b *FlowBuilder) WaitForEvent(stepName, event string) *FlowBuilder {
	return b.Step(stepName, WaitForEventStep(event))
}

// WaitForApproval appends a step that suspends until an approval event is
// delivered.
func (b *FlowBuilder) WaitForApproval(stepName string) *FlowBuilder {
	return b.Step(stepName, WaitForApprovalStep())
}

// Pause appends a step that suspends once and continues when resumed.
func (b *FlowBuilder) Pause(stepName string) *FlowBuilder {
	return b.Step(stepName, PauseStep(stepName))
}

// Register registers the built workflow with the given engine.
func (b *FlowBuilder) Register(eng Engine) error {
	return eng.Register(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
