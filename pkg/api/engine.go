package api

import "context"

// Engine drives workflow runs: it owns execution contexts, executes steps,
// applies their decisions, and speaks the suspend/snapshot/resume protocol
// against a SnapshotStore. Every run is driven by a single logical
// executor; independent runs execute concurrently with isolated contexts.
type Engine interface {
	// Register registers a workflow definition by name.
	Register(def WorkflowDefinition) error

	// Create creates a new execution context for a registered workflow
	// without running any steps.
	Create(ctx context.Context, workflow string, variables map[string]any, maxSteps int) (*ExecutionContext, error)

	// Run drives the context until it completes, fails, is cancelled, or
	// suspends. The returned context is the caller's view of the run; on
	// suspension its SnapshotID names the snapshot to resume from.
	Run(ctx context.Context, id string) (*ExecutionContext, error)

	// Get looks up an execution context by id.
	Get(ctx context.Context, id string) (*ExecutionContext, error)

	// Suspend forces a manual UserPause suspension of a context that is
	// not currently executing, and returns the snapshot id.
	Suspend(ctx context.Context, id string) (string, error)

	// Resume loads the snapshot, verifies its resume condition against the
	// optional payload, claims it against concurrent resumers, restores
	// the context, and continues the run from the restored cursor.
	Resume(ctx context.Context, snapshotID string, payload *ResumePayload) (*ExecutionContext, error)

	// Cancel requests cancellation. A step that is mid-flight finishes
	// first; the run then transitions to StatusCancelled without invoking
	// saga compensation.
	Cancel(ctx context.Context, id string) (*ExecutionContext, error)

	// Deliver resumes every suspended snapshot waiting for the named
	// event, passing data as the event payload, and returns the contexts
	// that were resumed. Snapshots lost to a concurrent resume are skipped.
	Deliver(ctx context.Context, event string, data any) ([]*ExecutionContext, error)

	// Snapshots exposes the underlying snapshot store.
	Snapshots() SnapshotStore
}
