package engine

import (
	"context"
	"testing"

	"github.com/aleksih/kesto/pkg/api"
)

func TestRun_StepBudgetExceeded(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t, Config{})

			executed := 0
			def := api.WorkflowDefinition{
				Name: "long",
				Steps: []api.StepDefinition{
					{Name: "s0", Fn: countingStep(&executed)},
					{Name: "s1", Fn: countingStep(&executed)},
					{Name: "s2", Fn: countingStep(&executed)},
					{Name: "s3", Fn: countingStep(&executed)},
				},
			}
			if err := eng.Register(def); err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			ec, err := eng.Create(context.Background(), "long", nil, 2)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			ec, err = eng.Run(context.Background(), ec.ID)
			if !api.IsStepBudgetExceeded(err) {
				t.Fatalf("expected step budget error, got %v", err)
			}
			if ec.Status != api.StatusFailed {
				t.Fatalf("expected FAILED, got %s", ec.Status)
			}
			if executed != 2 {
				t.Fatalf("expected exactly 2 steps before the budget tripped, got %d", executed)
			}
		})
	}
}

func TestRun_BudgetDefaultsToStepCount(t *testing.T) {
	eng := newMemoryEngine(t, Config{})

	def := api.WorkflowDefinition{
		Name: "pair",
		Steps: []api.StepDefinition{
			{Name: "a", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				return api.Continue(), nil
			}},
			{Name: "b", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				return api.Continue(), nil
			}},
		},
	}
	if err := eng.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ec, err := eng.Create(context.Background(), "pair", nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ec.MaxSteps != 2 {
		t.Fatalf("expected default budget of 2, got %d", ec.MaxSteps)
	}
	if ec, err = eng.Run(context.Background(), ec.ID); err != nil || ec.Status != api.StatusCompleted {
		t.Fatalf("expected a clean completion, got %s, %v", ec.Status, err)
	}
}

func countingStep(n *int) api.StepFunc {
	return func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
		*n++
		return api.Continue(), nil
	}
}
