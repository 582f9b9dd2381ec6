package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine and the saga orchestrator for
// logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnRunStart is called once when an execution context is first driven,
	// before the first step executes.
	OnRunStart(ctx context.Context, ec *ExecutionContext)

	// OnRunCompleted is called when a run reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, ec *ExecutionContext)

	// OnRunFailed is called when a run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, ec *ExecutionContext, err error)

	// OnRunCancelled is called when a run transitions to StatusCancelled.
	OnRunCancelled(ctx context.Context, ec *ExecutionContext)

	// OnRunSuspended is called after a snapshot has been saved.
	OnRunSuspended(ctx context.Context, ec *ExecutionContext, reason SuspendReason, snapshotID string)

	// OnRunResumed is called after a resume claimed its snapshot, before
	// the loop continues from the restored cursor.
	OnRunResumed(ctx context.Context, ec *ExecutionContext, snapshotID string)

	// OnStepStart is called before invoking a step function.
	OnStepStart(ctx context.Context, ec *ExecutionContext, stepName string, stepIndex int)

	// OnStepCompleted is called after a step function returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, ec *ExecutionContext, stepName string, stepIndex int, err error, duration time.Duration)

	// OnCompensation is called for every compensation action a saga
	// orchestrator invokes, with the error it returned (nil on success).
	OnCompensation(ctx context.Context, sagaName, stepID string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, ec *ExecutionContext)             {}
func (NoopObserver) OnRunCompleted(ctx context.Context, ec *ExecutionContext)         {}
func (NoopObserver) OnRunFailed(ctx context.Context, ec *ExecutionContext, err error) {}
func (NoopObserver) OnRunCancelled(ctx context.Context, ec *ExecutionContext)         {}
func (NoopObserver) OnRunSuspended(ctx context.Context, ec *ExecutionContext, reason SuspendReason, snapshotID string) {
}
func (NoopObserver) OnRunResumed(ctx context.Context, ec *ExecutionContext, snapshotID string) {}
func (NoopObserver) OnStepStart(ctx context.Context, ec *ExecutionContext, stepName string, idx int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, ec *ExecutionContext, stepName string, idx int, err error, d time.Duration) {
}
func (NoopObserver) OnCompensation(ctx context.Context, sagaName, stepID string, err error) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, ec *ExecutionContext) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, ec)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, ec *ExecutionContext) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, ec)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, ec *ExecutionContext, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, ec, err)
	}
}

func (c *CompositeObserver) OnRunCancelled(ctx context.Context, ec *ExecutionContext) {
	for _, o := range c.observers {
		o.OnRunCancelled(ctx, ec)
	}
}

func (c *CompositeObserver) OnRunSuspended(ctx context.Context, ec *ExecutionContext, reason SuspendReason, snapshotID string) {
	for _, o := range c.observers {
		o.OnRunSuspended(ctx, ec, reason, snapshotID)
	}
}

func (c *CompositeObserver) OnRunResumed(ctx context.Context, ec *ExecutionContext, snapshotID string) {
	for _, o := range c.observers {
		o.OnRunResumed(ctx, ec, snapshotID)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, ec *ExecutionContext, stepName string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, ec, stepName, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, ec *ExecutionContext, stepName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, ec, stepName, idx, err, d)
	}
}

func (c *CompositeObserver) OnCompensation(ctx context.Context, sagaName, stepID string, err error) {
	for _, o := range c.observers {
		o.OnCompensation(ctx, sagaName, stepID, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, ec *ExecutionContext) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, ec *ExecutionContext) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
		slog.Int("steps", len(ec.History)),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, ec *ExecutionContext, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunCancelled(ctx context.Context, ec *ExecutionContext) {
	o.Logger.WarnContext(ctx, "run_cancelled",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
	)
}

func (o *LoggingObserver) OnRunSuspended(ctx context.Context, ec *ExecutionContext, reason SuspendReason, snapshotID string) {
	o.Logger.InfoContext(ctx, "run_suspended",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
		slog.String("reason", string(reason.Kind)),
		slog.String("snapshot_id", snapshotID),
	)
}

func (o *LoggingObserver) OnRunResumed(ctx context.Context, ec *ExecutionContext, snapshotID string) {
	o.Logger.InfoContext(ctx, "run_resumed",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
		slog.String("snapshot_id", snapshotID),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, ec *ExecutionContext, stepName string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, ec *ExecutionContext, stepName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow", ec.WorkflowName),
		slog.String("run_id", ec.ID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnCompensation(ctx context.Context, sagaName, stepID string, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "saga_compensation",
		slog.String("saga", sagaName),
		slog.String("step_id", stepID),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	runsCancelled     atomic.Int64
	runsSuspended     atomic.Int64
	runsResumed       atomic.Int64
	stepsCompleted    atomic.Int64
	compensations     atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCancelled int64
	RunsSuspended int64
	RunsResumed   int64

	StepsCompleted  int64
	Compensations   int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, ec *ExecutionContext) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, ec *ExecutionContext) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, ec *ExecutionContext, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnRunCancelled(ctx context.Context, ec *ExecutionContext) {
	m.runsCancelled.Add(1)
}

func (m *BasicMetrics) OnRunSuspended(ctx context.Context, ec *ExecutionContext, reason SuspendReason, snapshotID string) {
	m.runsSuspended.Add(1)
}

func (m *BasicMetrics) OnRunResumed(ctx context.Context, ec *ExecutionContext, snapshotID string) {
	m.runsResumed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, ec *ExecutionContext, stepName string, idx int, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnCompensation(ctx context.Context, sagaName, stepID string, err error) {
	m.compensations.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     m.runsStarted.Load(),
		RunsCompleted:   m.runsCompleted.Load(),
		RunsFailed:      m.runsFailed.Load(),
		RunsCancelled:   m.runsCancelled.Load(),
		RunsSuspended:   m.runsSuspended.Load(),
		RunsResumed:     m.runsResumed.Load(),
		StepsCompleted:  steps,
		Compensations:   m.compensations.Load(),
		AvgStepDuration: avg,
	}
}
