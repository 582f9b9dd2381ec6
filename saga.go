package kesto

import (
	"context"

	"github.com/aleksih/kesto/pkg/saga"
)

// Re-export the saga surface so simple uses don't need pkg/saga.

type (
	SagaStep             = saga.Step
	SagaContext          = saga.Context
	SagaResult           = saga.Result
	SagaOutcome          = saga.Outcome
	SagaActionFunc       = saga.ActionFunc
	SagaCompensationFunc = saga.CompensationFunc
)

const (
	SagaCompleted          = saga.OutcomeCompleted
	SagaCompensated        = saga.OutcomeCompensated
	SagaCompensationFailed = saga.OutcomeCompensationFailed
)

// SagaBuilder provides a fluent API for defining sagas:
//
//	orch := kesto.NewSaga("order").
//	    Step("reserve", "Reserve stock", reserve, release).
//	    Step("charge", "Charge card", charge, refund).
//	    Orchestrator()
type SagaBuilder struct {
	orch *saga.Orchestrator
}

// NewSaga creates a new saga builder with the given name.
func NewSaga(name string) *SagaBuilder {
	return &SagaBuilder{orch: saga.NewOrchestrator(name)}
}

// Step appends a saga step with the default retry policy. A nil
// compensation means the step needs no rollback.
func (b *SagaBuilder) Step(id, name string, action SagaActionFunc, compensation SagaCompensationFunc) *SagaBuilder {
	b.orch.AddStep(saga.NewStep(id, name, action, compensation))
	return b
}

// StepFrom appends a pre-built saga step, for steps that need a custom
// retry policy.
func (b *SagaBuilder) StepFrom(step *SagaStep) *SagaBuilder {
	b.orch.AddStep(step)
	return b
}

// WithObserver attaches an observer notified of step and compensation
// lifecycle events.
func (b *SagaBuilder) WithObserver(obs Observer) *SagaBuilder {
	b.orch.WithObserver(obs)
	return b
}

// Orchestrator returns the built orchestrator.
func (b *SagaBuilder) Orchestrator() *saga.Orchestrator {
	return b.orch
}

// AsWorkflowStep wraps the saga as a single workflow step for use with
// FlowBuilder.
func (b *SagaBuilder) AsWorkflowStep() StepDefinition {
	return saga.WorkflowStep(b.orch.Name(), b.orch)
}

// Execute runs the saga standalone, outside any workflow.
func (b *SagaBuilder) Execute(ctx context.Context) SagaResult {
	return b.orch.Execute(ctx, saga.NewContext(b.orch.Name(), nil))
}

// NewSagaStep builds a saga step for use with SagaBuilder.StepFrom; chain
// WithRetries, WithBaseDelay, or NonRetryable to tune its retry policy.
func NewSagaStep(id, name string, action SagaActionFunc, compensation SagaCompensationFunc) *SagaStep {
	return saga.NewStep(id, name, action, compensation)
}

// Saga appends a saga to a workflow as one step. Sugar over
// saga.WorkflowStep for FlowBuilder chains:
//
//	kesto.New("place-order").
//	    Step("order", kesto.Saga(orderSaga)).
//	    Step("confirm", confirm)
func Saga(orch *saga.Orchestrator) StepFunc {
	def := saga.WorkflowStep(orch.Name(), orch)
	return def.Fn
}
