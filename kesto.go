package kesto

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/aleksih/kesto/internal/engine"
	"github.com/aleksih/kesto/internal/persistence"
	"github.com/aleksih/kesto/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	WorkflowDefinition   = api.WorkflowDefinition
	StepDefinition       = api.StepDefinition
	StepFunc             = api.StepFunc
	Decision             = api.Decision
	DecisionKind         = api.DecisionKind
	ExecutionContext     = api.ExecutionContext
	StepOutcome          = api.StepOutcome
	Status               = api.Status
	SuspendReason        = api.SuspendReason
	SuspendKind          = api.SuspendKind
	ResumeCondition      = api.ResumeCondition
	ResumePayload        = api.ResumePayload
	RetryPolicy          = api.RetryPolicy
	Snapshot             = api.Snapshot
	SnapshotSummary      = api.SnapshotSummary
	SnapshotStore        = api.SnapshotStore
	Error                = api.Error
	ErrorKind            = api.ErrorKind
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusSuspended = api.StatusSuspended
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
)

// Re-export decision and suspend-reason constructors.

var (
	Continue             = api.Continue
	Complete             = api.Complete
	Fail                 = api.Fail
	Suspend              = api.Suspend
	SuspendWithCondition = api.SuspendWithCondition

	UserPause          = api.UserPause
	WaitingForEvent    = api.WaitingForEvent
	Sleep              = api.Sleep
	WaitingForApproval = api.WaitingForApproval
	ExternalDependency = api.ExternalDependency
)

// Re-export common observer helpers and error predicates.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	// Now reads the engine clock off a step's context.
	Now       = api.Now
	WithClock = api.WithClock

	IsValidation          = api.IsValidation
	IsNotFound            = api.IsNotFound
	IsPreconditionNotMet  = api.IsPreconditionNotMet
	IsConcurrencyConflict = api.IsConcurrencyConflict
	IsStepExecution       = api.IsStepExecution
	IsTimeout             = api.IsTimeout
	IsStepBudgetExceeded  = api.IsStepBudgetExceeded
	IsCompensation        = api.IsCompensation
)

// Engine constructors. These wrap the internal engine and persistence
// packages so external callers never import internal paths.

// NewInMemoryEngine returns an Engine whose snapshots live in process
// memory. Non-durable; best for tests and local development.
func NewInMemoryEngine() Engine {
	return engine.New(engine.Config{Store: persistence.NewMemoryStore()})
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.New(engine.Config{Store: persistence.NewMemoryStore(), Observer: obs})
}

// NewFileEngine returns an Engine that persists snapshots as JSON files
// under dir, one file per snapshot.
func NewFileEngine(dir string) (Engine, error) {
	store, err := persistence.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Store: store}), nil
}

// NewFileEngineWithObserver returns a file-backed Engine with the given
// Observer.
func NewFileEngineWithObserver(dir string, obs Observer) (Engine, error) {
	store, err := persistence.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Store: store, Observer: obs}), nil
}

// NewSQLiteEngine returns an Engine that persists snapshots in a SQLite
// database. The schema is created on first use.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Store: store}), nil
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given
// Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{Store: store, Observer: obs}), nil
}

// NewRedisEngine returns an Engine that persists snapshots in Redis under
// the "kesto:" key prefix.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.New(engine.Config{Store: persistence.NewRedisStore(client, "kesto:")})
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given
// Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	return engine.New(engine.Config{
		Store:    persistence.NewRedisStore(client, "kesto:"),
		Observer: obs,
	})
}

// NewMongoEngine returns an Engine that persists snapshots in the "kesto"
// database's "snapshots" collection.
func NewMongoEngine(client *mongo.Client) Engine {
	return engine.New(engine.Config{Store: persistence.NewMongoStore(client, "kesto", "snapshots")})
}

// NewMongoEngineWithObserver returns a Mongo-backed Engine with the given
// Observer.
func NewMongoEngineWithObserver(client *mongo.Client, obs Observer) Engine {
	return engine.New(engine.Config{
		Store:    persistence.NewMongoStore(client, "kesto", "snapshots"),
		Observer: obs,
	})
}

// NewEngineWithStore returns an Engine over a host-supplied SnapshotStore
// implementation.
func NewEngineWithStore(store SnapshotStore, obs Observer) Engine {
	return engine.New(engine.Config{Store: store, Observer: obs})
}

// EngineConfig configures an Engine built with NewEngine. Zero fields get
// the defaults: an in-memory store, a no-op observer, and snapshots that
// are deleted once their run reaches a terminal status.
type EngineConfig struct {
	Store    SnapshotStore
	Observer Observer

	// Clock supplies wall-clock time for snapshot timestamps, time based
	// resume conditions, and the clock steps read via kesto.Now.
	Clock func() time.Time

	// RetainSnapshots keeps terminal snapshots in the store for
	// audit instead of deleting them.
	RetainSnapshots bool
}

// NewEngine returns an Engine with full control over its configuration.
func NewEngine(cfg EngineConfig) Engine {
	return engine.New(engine.Config{
		Store:           cfg.Store,
		Observer:        cfg.Observer,
		Clock:           cfg.Clock,
		RetainSnapshots: cfg.RetainSnapshots,
	})
}

// Convenience helpers that forward to the underlying Engine.

// Start creates a context for the named workflow and immediately runs it.
func Start(ctx context.Context, eng Engine, workflow string, variables map[string]any, maxSteps int) (*ExecutionContext, error) {
	ec, err := eng.Create(ctx, workflow, variables, maxSteps)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, ec.ID)
}

// Resume resumes a suspended run from its snapshot.
func Resume(ctx context.Context, eng Engine, snapshotID string, payload *ResumePayload) (*ExecutionContext, error) {
	return eng.Resume(ctx, snapshotID, payload)
}

// Deliver resumes every suspended run waiting for the named event.
func Deliver(ctx context.Context, eng Engine, event string, data any) ([]*ExecutionContext, error) {
	return eng.Deliver(ctx, event, data)
}
