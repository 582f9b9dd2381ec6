package kesto

import (
	"context"
	"testing"
	"time"
)

// simple helper used by multiple tests
func setConst(key string, value any) StepFunc {
	return func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
		ec.SetVariable(key, value)
		return Continue(), nil
	}
}

func TestFlowBuilder_BuildAndRegister(t *testing.T) {
	eng := NewInMemoryEngine()

	rb := Retry(3).Immediate() // exercise RetryBuilder + StepWithRetry

	flow := New("builder-sample").
		Step("s1", setConst("a", 1)).
		StepWithRetry("s2", setConst("b", 2), rb.Policy()).
		Parallel("par",
			Member("m1", setConst("c", 3)),
			MemberWithRetry("m2", setConst("d", 4), Retry(1).WithBaseDelay(time.Millisecond).Policy()),
		).
		WaitForEvent("await", "go").
		WaitForApproval("sign-off").
		Pause("hold").
		SleepUntil("nap", time.Now().Add(-time.Second))

	if err := flow.Register(eng); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if flow.Name() != "builder-sample" {
		t.Fatalf("unexpected name: %s", flow.Name())
	}

	// sanity: Definition() should not be empty
	def := flow.Definition()
	if def.Name == "" || len(def.Steps) != 7 {
		t.Fatalf("unexpected definition: %q with %d steps", def.Name, len(def.Steps))
	}
}

func TestFlowBuilder_PanicsOnEmptyStepName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for empty step name")
		}
	}()
	New("bad").Step("", setConst("a", 1))
}

func TestFlowBuilder_PanicsOnNilStepFunc(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil step function")
		}
	}()
	New("bad").Step("s1", nil)
}

func TestFlowBuilder_PanicsOnEmptyParallelGroup(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for empty group")
		}
	}()
	New("bad").Parallel("par")
}

func TestStart_RunsToCompletion(t *testing.T) {
	eng := NewInMemoryEngine()

	New("greeting").
		Step("compose", func(ctx context.Context, ec *ExecutionContext) (Decision, error) {
			name, _ := ec.Variable("name")
			return Complete("hello, " + name.(string)), nil
		}).
		MustRegister(eng)

	ec, err := Start(context.Background(), eng, "greeting", map[string]any{"name": "gopher"}, 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if ec.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", ec.Status, StatusCompleted)
	}
	if ec.Output != "hello, gopher" {
		t.Fatalf("output = %v", ec.Output)
	}
}

func TestRetryBuilder_Policy(t *testing.T) {
	p := Retry(4).WithBaseDelay(50 * time.Millisecond).WithMaxDelay(time.Second).Policy()
	if p.MaxRetries != 4 {
		t.Fatalf("MaxRetries = %d", p.MaxRetries)
	}
	if p.BaseDelay != 50*time.Millisecond {
		t.Fatalf("BaseDelay = %v", p.BaseDelay)
	}
	if p.MaxDelay != time.Second {
		t.Fatalf("MaxDelay = %v", p.MaxDelay)
	}

	if got := Retry(-1).Policy().MaxRetries; got != 0 {
		t.Fatalf("negative retries should clamp to 0, got %d", got)
	}
	imm := Retry(2).WithBaseDelay(time.Second).Immediate().Policy()
	if imm.BaseDelay != 0 || imm.MaxDelay != 0 {
		t.Fatalf("Immediate should zero delays: %+v", imm)
	}
}
