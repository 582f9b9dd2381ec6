package api

import (
	"context"
	"time"
)

// Snapshot is the durable record of a suspended execution context. Its
// field set is the wire schema served by the daemon API and persisted by
// every store backend; it must stay stable across engine versions so old
// snapshots remain resumable. Version starts at 1 on the first save and
// increments on every subsequent save, which is what makes resume races
// detectable.
type Snapshot struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	StepIndex       int             `json:"step_index"`
	Status          Status          `json:"status"`
	SuspendReason   SuspendReason   `json:"suspend_reason"`
	Variables       map[string]any  `json:"variables"`
	ResumeCondition ResumeCondition `json:"resume_condition"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SnapshotSummary is the listing view of a snapshot, without variables.
type SnapshotSummary struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	StepIndex       int             `json:"step_index"`
	Status          Status          `json:"status"`
	SuspendReason   SuspendReason   `json:"suspend_reason"`
	ResumeCondition ResumeCondition `json:"resume_condition"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Summary returns the listing view of the snapshot.
func (s *Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:              s.ID,
		WorkflowID:      s.WorkflowID,
		StepIndex:       s.StepIndex,
		Status:          s.Status,
		SuspendReason:   s.SuspendReason,
		ResumeCondition: s.ResumeCondition,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
	}
}

// SnapshotStore is the durable key-value persistence consumed by the
// engine. Concrete backends (in-memory, file, SQLite, Redis, Mongo, or a
// host-supplied implementation) all follow the same optimistic-concurrency
// contract:
//
//   - Save with snap.Version == 0 inserts a new snapshot and sets Version
//     to 1. Saving an id that already exists is a concurrency conflict.
//   - Save with snap.Version > 0 succeeds only if the stored version equals
//     snap.Version; it then increments both. A mismatch is a concurrency
//     conflict, which is how exactly one of two concurrent resumes wins.
//   - Load and Delete return a not-found error for unknown ids.
//
// Implementations must be safe for concurrent use: the store is the only
// resource shared across runs and resumers.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]SnapshotSummary, error)

	// CleanupBefore deletes snapshots created before t and returns how
	// many were removed. Used by retention sweeps.
	CleanupBefore(ctx context.Context, t time.Time) (int, error)
}
