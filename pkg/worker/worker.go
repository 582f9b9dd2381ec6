// Package worker provides a background wake-up loop for the engine: it
// polls the snapshot store, resumes sleeping runs whose deadline has passed,
// and delivers published events to the runs waiting on them.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aleksih/kesto/pkg/api"
)

// Config describes how to construct a Worker.
type Config struct {
	// Interval is how often the worker sweeps the snapshot store.
	// Defaults to one second.
	Interval time.Duration

	// Clock supplies wall-clock time for deadline checks. Defaults to
	// time.Now in UTC. Tests inject a fake clock here.
	Clock func() time.Time

	// Logger receives sweep failures. Defaults to slog.Default().
	Logger *slog.Logger

	// Retention, when positive, makes each sweep delete snapshots older
	// than the window. Zero disables the retention sweep. Only useful
	// with an engine that retains terminal snapshots; a live suspended
	// snapshot older than the window is deleted too, so pick a window
	// longer than any sleep or approval wait.
	Retention time.Duration
}

// Worker drives time-based resumes and buffered event delivery.
type Worker struct {
	engine    api.Engine
	interval  time.Duration
	clock     func() time.Time
	logger    *slog.Logger
	retention time.Duration

	mu     sync.Mutex
	events []pendingEvent
}

type pendingEvent struct {
	name string
	data any
}

// New creates a Worker over the given engine, applying defaults for any
// zero config field.
func New(engine api.Engine, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		engine:    engine,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		retention: cfg.Retention,
	}
}

// Publish buffers an event for delivery on the next sweep. The worker hands
// it to Engine.Deliver, which resumes every snapshot waiting on the name.
func (w *Worker) Publish(event string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, pendingEvent{name: event, data: data})
}

// Run sweeps on the configured interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.ErrorContext(ctx, "sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep performs one pass: buffered events first, then due sleepers. It
// returns how many runs it resumed. Snapshots lost to a concurrent resumer
// are someone else's work and not counted.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	resumed := 0

	w.mu.Lock()
	events := w.events
	w.events = nil
	w.mu.Unlock()

	for _, ev := range events {
		ecs, err := w.engine.Deliver(ctx, ev.name, ev.data)
		if err != nil {
			return resumed, err
		}
		resumed += len(ecs)
	}

	n, err := w.wakeDueSleepers(ctx)
	resumed += n
	if err != nil {
		return resumed, err
	}

	if w.retention > 0 {
		cutoff := w.clock().Add(-w.retention)
		if _, err := w.engine.Snapshots().CleanupBefore(ctx, cutoff); err != nil {
			return resumed, err
		}
	}
	return resumed, nil
}

func (w *Worker) wakeDueSleepers(ctx context.Context) (int, error) {
	summaries, err := w.engine.Snapshots().List(ctx)
	if err != nil {
		return 0, err
	}

	now := w.clock()
	resumed := 0
	for _, s := range summaries {
		if s.Status != api.StatusSuspended {
			continue
		}
		if s.ResumeCondition.Kind != api.ConditionTime || now.Before(s.ResumeCondition.Until) {
			continue
		}

		_, err := w.engine.Resume(ctx, s.ID, nil)
		switch {
		case err == nil:
			resumed++
		case api.IsConcurrencyConflict(err), api.IsPreconditionNotMet(err), api.IsNotFound(err):
			// Claimed by another resumer between List and Resume.
		default:
			w.logger.ErrorContext(ctx, "wake-up resume failed",
				slog.String("snapshot_id", s.ID),
				slog.Any("error", err),
			)
		}
	}
	return resumed, nil
}
