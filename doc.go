// Package kesto is an embeddable workflow and saga engine for Go.
//
// Kesto drives workflows as sequences of steps over a shared execution
// context. A step can advance, complete or fail the run, or suspend it
// behind a durable snapshot: the run's position and variables are persisted
// to a pluggable store and the process is free to do other work, restart,
// or hand the run to another instance. An explicit resume call, an event
// delivery, or the background wake-up worker continues the run from where
// it stopped, with optimistic concurrency guaranteeing that exactly one of
// any number of concurrent resumers wins.
//
// # Engine
//
// The Engine owns execution contexts and speaks the suspend/snapshot/resume
// protocol against a SnapshotStore. Stores ship for memory, files, SQLite,
// Redis, and MongoDB:
//
//	eng := kesto.NewInMemoryEngine()
//	kesto.New("onboarding").
//	    Step("create-account", createAccount).
//	    WaitForEvent("await-activation", "activated").
//	    Step("send-welcome", sendWelcome).
//	    MustRegister(eng)
//
//	ec, _ := eng.Create(ctx, "onboarding", vars, 0)
//	ec, _ = eng.Run(ctx, ec.ID)
//	// ec.Status == kesto.StatusSuspended; ec.SnapshotID names the snapshot.
//
//	eng.Deliver(ctx, "activated", payload) // later, from anywhere
//
// # Sagas
//
// The saga package pairs each forward action with a compensation. On a
// forward failure the completed prefix is rolled back in reverse order; a
// compensation failure stops the rollback and surfaces the bookkeeping
// needed for manual intervention. saga.WorkflowStep embeds a saga as a
// single workflow step.
//
// # Daemon surface
//
// pkg/httpapi exposes the engine over HTTP with a fixed error-kind to
// status-code mapping, and pkg/worker provides the polling loop that wakes
// sleeping runs and delivers buffered events.
package kesto
