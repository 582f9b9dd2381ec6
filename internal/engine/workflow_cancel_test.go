package engine

import (
	"context"
	"testing"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

func TestCancel_SuspendedRun(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t, Config{})

			def := api.WorkflowDefinition{
				Name: "waiting",
				Steps: []api.StepDefinition{
					{Name: "await", Fn: waitForEventStep("go")},
				},
			}
			if err := eng.Register(def); err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			ec := runWorkflow(t, eng, "waiting", nil)
			if ec.Status != api.StatusSuspended {
				t.Fatalf("expected SUSPENDED, got %s", ec.Status)
			}
			snapID := ec.SnapshotID

			cancelled, err := eng.Cancel(ctx, ec.ID)
			if err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
			if cancelled.Status != api.StatusCancelled {
				t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
			}

			// The orphaned snapshot is removed with the run.
			if _, err := eng.Snapshots().Load(ctx, snapID); !api.IsNotFound(err) {
				t.Fatalf("expected snapshot to be gone, got %v", err)
			}
		})
	}
}

func TestCancel_MidFlightStepFinishesFirst(t *testing.T) {
	eng := newMemoryEngine(t, Config{})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	secondRan := false

	def := api.WorkflowDefinition{
		Name: "two-step",
		Steps: []api.StepDefinition{
			{Name: "slow", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				close(entered)
				<-release
				ec.SetVariable("slow-done", true)
				return api.Continue(), nil
			}},
			{Name: "second", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				secondRan = true
				return api.Continue(), nil
			}},
		},
	}
	if err := eng.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ec, err := eng.Create(ctx, "two-step", nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	done := make(chan *api.ExecutionContext, 1)
	go func() {
		res, _ := eng.Run(ctx, ec.ID)
		done <- res
	}()

	<-entered
	if _, err := eng.Cancel(ctx, ec.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(release)

	res := <-done
	if res.Status != api.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", res.Status)
	}
	// The in-flight step ran to completion; the next one never started.
	if v, _ := res.Variable("slow-done"); v != true {
		t.Fatal("expected the mid-flight step to finish")
	}
	if secondRan {
		t.Fatal("no step may start after cancellation")
	}
	if len(res.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(res.History))
	}
}

func TestCancel_IsIdempotentOnTerminalRuns(t *testing.T) {
	eng := newMemoryEngine(t, Config{})
	ctx := context.Background()

	def := api.WorkflowDefinition{
		Name: "done",
		Steps: []api.StepDefinition{
			{Name: "a", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				return api.Complete("ok"), nil
			}},
		},
	}
	if err := eng.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ec := runWorkflow(t, eng, "done", nil)
	got, err := eng.Cancel(ctx, ec.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got.Status != api.StatusCompleted {
		t.Fatalf("cancelling a completed run must not change its status, got %s", got.Status)
	}
}

func TestRun_ContextCancellationStopsTheLoop(t *testing.T) {
	eng := newMemoryEngine(t, Config{})

	runCtx, cancel := context.WithCancel(context.Background())
	def := api.WorkflowDefinition{
		Name: "interruptible",
		Steps: []api.StepDefinition{
			{Name: "first", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				cancel()
				return api.Continue(), nil
			}},
			{Name: "never", Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
				t.Error("step ran after context cancellation")
				return api.Continue(), nil
			}},
		},
	}
	if err := eng.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ec, err := eng.Create(context.Background(), "interruptible", nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	res, err := eng.Run(runCtx, ec.ID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != api.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", res.Status)
	}
}

func TestRun_ContextCancellationDuringBackoff(t *testing.T) {
	eng := newMemoryEngine(t, Config{})

	runCtx, cancel := context.WithCancel(context.Background())
	def := api.WorkflowDefinition{
		Name: "slow-retry",
		Steps: []api.StepDefinition{
			{
				Name:  "flaky",
				Retry: &api.RetryPolicy{MaxRetries: 5, BaseDelay: time.Minute},
				Fn: func(ctx context.Context, ec *api.ExecutionContext) (api.Decision, error) {
					cancel()
					return api.Decision{}, context.Canceled
				},
			},
		},
	}
	if err := eng.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ec, err := eng.Create(context.Background(), "slow-retry", nil, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	start := time.Now()
	res, err := eng.Run(runCtx, ec.ID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != api.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", res.Status)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation must interrupt the backoff wait")
	}
}
