package kesto

import (
	"context"
	"errors"
	"testing"
)

func TestSagaBuilder_ExecuteStandalone(t *testing.T) {
	var log []string

	result := NewSaga("order").
		Step("reserve", "Reserve stock",
			func(ctx context.Context, sc *ExecutionContext) (any, error) {
				log = append(log, "reserve")
				return "reservation-1", nil
			},
			func(ctx context.Context, sc *ExecutionContext, result any) error {
				log = append(log, "release")
				return nil
			}).
		Step("charge", "Charge card",
			func(ctx context.Context, sc *ExecutionContext) (any, error) {
				log = append(log, "charge")
				return "charge-1", nil
			},
			nil).
		Execute(context.Background())

	if result.Outcome != SagaCompleted {
		t.Fatalf("outcome = %s, want %s", result.Outcome, SagaCompleted)
	}
	if result.Value != "charge-1" {
		t.Fatalf("value = %v", result.Value)
	}
	if len(log) != 2 || log[0] != "reserve" || log[1] != "charge" {
		t.Fatalf("unexpected execution order: %v", log)
	}
}

func TestSagaBuilder_CompensatesInReverseOrder(t *testing.T) {
	var log []string

	result := NewSaga("order").
		Step("reserve", "Reserve stock",
			func(ctx context.Context, sc *ExecutionContext) (any, error) {
				return "reservation-1", nil
			},
			func(ctx context.Context, sc *ExecutionContext, result any) error {
				log = append(log, "release")
				return nil
			}).
		Step("charge", "Charge card",
			func(ctx context.Context, sc *ExecutionContext) (any, error) {
				return "charge-1", nil
			},
			func(ctx context.Context, sc *ExecutionContext, result any) error {
				log = append(log, "refund")
				return nil
			}).
		StepFrom(NewSagaStep("ship", "Ship order",
			func(ctx context.Context, sc *ExecutionContext) (any, error) {
				return nil, errors.New("no carrier")
			},
			nil).NonRetryable()).
		Execute(context.Background())

	if result.Outcome != SagaCompensated {
		t.Fatalf("outcome = %s, want %s", result.Outcome, SagaCompensated)
	}
	if len(log) != 2 || log[0] != "refund" || log[1] != "release" {
		t.Fatalf("compensation order = %v, want [refund release]", log)
	}
}

func TestSaga_AsWorkflowStep(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	orderSaga := NewSaga("order").
		Step("reserve", "Reserve stock",
			func(ctx context.Context, sc *ExecutionContext) (any, error) {
				return "reservation-1", nil
			},
			nil).
		Orchestrator()

	New("place-order").
		Step("order", Saga(orderSaga)).
		Step("confirm", func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
			v, _ := ec.Variable("saga:order")
			return Complete(v), nil
		}).
		MustRegister(eng)

	ec, err := Start(ctx, eng, "place-order", nil, 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if ec.Output != "reservation-1" {
		t.Fatalf("output = %v", ec.Output)
	}
}

func TestNewEngine_RetainsSnapshotsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(EngineConfig{RetainSnapshots: true})

	New("hold").
		Pause("hold").
		Step("finish", CompleteStep("done")).
		MustRegister(eng)

	ec, err := Start(ctx, eng, "hold", nil, 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	resumed, err := Resume(ctx, eng, ec.SnapshotID, nil)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("status = %s", resumed.Status)
	}

	// The terminal snapshot stays in the store for audit.
	if _, err := eng.Snapshots().Load(ctx, ec.SnapshotID); err != nil {
		t.Fatalf("snapshot was not retained: %v", err)
	}
}
