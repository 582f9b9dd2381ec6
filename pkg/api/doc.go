// Package api contains the public types of the kesto workflow and saga
// orchestration core: execution contexts, step decisions, suspend reasons,
// resume conditions, snapshots and the SnapshotStore interface, the Engine
// interface, the error taxonomy, and the Observer callbacks.
//
// Application code normally imports the root kesto package, which re-exports
// everything here and adds engine constructors and fluent builders.
package api
