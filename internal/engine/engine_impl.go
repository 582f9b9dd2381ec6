package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aleksih/kesto/backoff"
	"github.com/aleksih/kesto/internal/persistence"
	"github.com/aleksih/kesto/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. Each run is
// driven by the goroutine that called Run or Resume; independent runs may be
// driven concurrently, sharing only the snapshot store.
type engineImpl struct {
	store    api.SnapshotStore
	observer api.Observer
	clock    func() time.Time
	retain   bool

	mu   sync.RWMutex
	defs map[string]api.WorkflowDefinition
	runs map[string]*runState
}

// runState is the engine's bookkeeping for one execution context. The
// context itself is only touched while holding mu via claimRun/releaseRun,
// which is what makes suspension a clean step-boundary affair.
type runState struct {
	mu sync.Mutex

	ec  *api.ExecutionContext
	def api.WorkflowDefinition

	// snapshotID is the durable record backing this run across
	// suspensions. One record per run; its version grows with every save.
	snapshotID string

	executing       bool
	cancelRequested bool
}

// Config describes how to construct an engine.
// Only used inside this package; external callers use the helper
// constructors in the root package.
type Config struct {
	// Store persists suspension snapshots. Defaults to an in-memory store.
	Store api.SnapshotStore

	// Observer receives lifecycle callbacks. Defaults to NoopObserver.
	Observer api.Observer

	// Clock supplies wall-clock time for snapshot timestamps and time
	// based resume conditions. Defaults to time.Now in UTC. Tests inject
	// a fake clock here.
	Clock func() time.Time

	// RetainSnapshots keeps the snapshot of a completed run instead of
	// deleting it on terminal success.
	RetainSnapshots bool
}

// New creates an Engine from the given configuration, applying defaults for
// any zero field.
func New(cfg Config) api.Engine {
	if cfg.Store == nil {
		cfg.Store = persistence.NewMemoryStore()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &engineImpl{
		store:    cfg.Store,
		observer: cfg.Observer,
		clock:    cfg.Clock,
		retain:   cfg.RetainSnapshots,
		defs:     make(map[string]api.WorkflowDefinition),
		runs:     make(map[string]*runState),
	}
}

func (e *engineImpl) Register(def api.WorkflowDefinition) error {
	if def.Name == "" {
		return api.NewError(api.KindValidation, "workflow name is required")
	}
	if len(def.Steps) == 0 {
		return api.NewError(api.KindValidation, "workflow %q must have at least one step", def.Name)
	}
	for _, step := range def.Steps {
		if err := validateStep(def.Name, step); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.defs[def.Name]; ok {
		return api.NewError(api.KindValidation, "workflow already registered: %s", def.Name)
	}
	e.defs[def.Name] = def
	return nil
}

func validateStep(workflow string, step api.StepDefinition) error {
	if step.Name == "" {
		return api.NewError(api.KindValidation, "workflow %q has an unnamed step", workflow)
	}
	switch {
	case step.Fn == nil && len(step.Group) == 0:
		return api.NewError(api.KindValidation, "step %q has neither a function nor a group", step.Name)
	case step.Fn != nil && len(step.Group) > 0:
		return api.NewError(api.KindValidation, "step %q has both a function and a group", step.Name)
	}
	for _, member := range step.Group {
		if member.Name == "" || member.Fn == nil {
			return api.NewError(api.KindValidation, "group %q has a member without a name or function", step.Name)
		}
	}
	return nil
}

func (e *engineImpl) Create(ctx context.Context, workflow string, variables map[string]any, maxSteps int) (*api.ExecutionContext, error) {
	e.mu.RLock()
	def, ok := e.defs[workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, api.NewError(api.KindNotFound, "unknown workflow: %s", workflow)
	}
	if maxSteps <= 0 {
		maxSteps = len(def.Steps)
	}

	ec := api.NewExecutionContext(uuid.NewString(), def.Name, variables, maxSteps)

	e.mu.Lock()
	e.runs[ec.ID] = &runState{ec: ec, def: def}
	e.mu.Unlock()

	return ec, nil
}

// Get returns a point-in-time copy of the context, taken at a step
// boundary. The live context belongs to the goroutine driving the run.
func (e *engineImpl) Get(ctx context.Context, id string) (*api.ExecutionContext, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return copyContext(st.ec), nil
}

func copyContext(ec *api.ExecutionContext) *api.ExecutionContext {
	cp := *ec
	cp.Variables = cloneVariables(ec.Variables)
	cp.History = append([]api.StepOutcome(nil), ec.History...)
	if ec.SuspendReason != nil {
		reason := *ec.SuspendReason
		cp.SuspendReason = &reason
	}
	return &cp
}

func (e *engineImpl) Snapshots() api.SnapshotStore {
	return e.store
}

func (e *engineImpl) state(id string) (*runState, error) {
	e.mu.RLock()
	st, ok := e.runs[id]
	e.mu.RUnlock()
	if !ok {
		return nil, api.NewError(api.KindNotFound, "execution context not found: %s", id)
	}
	return st, nil
}

func (e *engineImpl) Run(ctx context.Context, id string) (*api.ExecutionContext, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if st.executing {
		st.mu.Unlock()
		return nil, api.NewError(api.KindConcurrencyConflict, "execution context %s is already executing", id)
	}
	if st.ec.Status != api.StatusRunning {
		status := st.ec.Status
		st.mu.Unlock()
		return nil, api.NewError(api.KindValidation, "cannot run execution context %s in status %s", id, status)
	}
	st.executing = true
	fresh := st.ec.StepIndex == 0 && len(st.ec.History) == 0
	st.mu.Unlock()

	if fresh {
		e.observer.OnRunStart(ctx, st.ec)
	}
	return e.drive(ctx, st)
}

// Suspend forces a manual pause of a run that is between Run calls. The
// snapshot it writes resumes unconditionally.
func (e *engineImpl) Suspend(ctx context.Context, id string) (string, error) {
	st, err := e.state(id)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.executing {
		return "", api.NewError(api.KindConcurrencyConflict, "execution context %s is executing", id)
	}
	if st.ec.Status != api.StatusRunning {
		return "", api.NewError(api.KindValidation, "cannot suspend execution context %s in status %s", id, st.ec.Status)
	}

	reason := api.UserPause()
	snapID, err := e.saveSnapshot(ctx, st, reason, reason.Condition())
	if err != nil {
		return "", err
	}
	st.ec.MarkSuspended(reason, snapID)
	e.observer.OnRunSuspended(ctx, st.ec, reason, snapID)
	return snapID, nil
}

// saveSnapshot persists the current cursor and variables. The first
// suspension of a run allocates the snapshot id; later suspensions reuse it,
// so the record's version keeps growing and stale resumers keep losing.
// Caller holds st.mu.
func (e *engineImpl) saveSnapshot(ctx context.Context, st *runState, reason api.SuspendReason, cond api.ResumeCondition) (string, error) {
	snap := &api.Snapshot{
		ID:              st.snapshotID,
		WorkflowID:      st.ec.ID,
		StepIndex:       st.ec.StepIndex,
		Status:          api.StatusSuspended,
		SuspendReason:   reason,
		Variables:       st.ec.Variables,
		ResumeCondition: cond,
		CreatedAt:       e.clock(),
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	} else {
		stored, err := e.store.Load(ctx, snap.ID)
		if err != nil {
			return "", err
		}
		snap.Version = stored.Version
	}
	if err := e.store.Save(ctx, snap); err != nil {
		return "", err
	}
	st.snapshotID = snap.ID
	return snap.ID, nil
}

func (e *engineImpl) Resume(ctx context.Context, snapshotID string, payload *api.ResumePayload) (*api.ExecutionContext, error) {
	snap, err := e.store.Load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Status != api.StatusSuspended {
		return nil, api.NewError(api.KindPreconditionNotMet, "snapshot %s is not suspended", snapshotID)
	}
	if err := snap.ResumeCondition.Satisfied(payload, e.clock()); err != nil {
		return nil, err
	}

	// Resolve the run state before touching the store: a resume that
	// cannot proceed locally must leave the durable record untouched so
	// the run's owner can still resume it.
	st, err := e.state(snap.WorkflowID)
	if err != nil {
		return nil, err
	}

	// Claim the snapshot. The versioned save admits exactly one of any
	// number of concurrent resumers; the rest observe a conflict.
	snap.Status = api.StatusRunning
	if err := e.store.Save(ctx, snap); err != nil {
		return nil, err
	}

	st.mu.Lock()
	if st.executing {
		st.mu.Unlock()
		e.unclaimSnapshot(ctx, snap)
		return nil, api.NewError(api.KindConcurrencyConflict, "execution context %s is already executing", snap.WorkflowID)
	}
	st.executing = true
	st.snapshotID = snap.ID

	// Restore the cursor and variables from the durable record, then fold
	// in the resume payload so the suspended step can observe its event
	// when it re-runs.
	st.ec.StepIndex = snap.StepIndex
	st.ec.Variables = snap.Variables
	if payload != nil && payload.Event != "" {
		data := payload.Data
		if data == nil {
			data = true
		}
		st.ec.SetVariable(payload.Event, data)
	}
	st.ec.MarkResumed()
	st.mu.Unlock()

	e.observer.OnRunResumed(ctx, st.ec, snap.ID)
	return e.drive(ctx, st)
}

// unclaimSnapshot puts a claimed snapshot back to suspended after a resume
// failed locally, so later resumers are not locked out. Best effort: if the
// record is gone or changed again, whoever changed it owns it now.
func (e *engineImpl) unclaimSnapshot(ctx context.Context, snap *api.Snapshot) {
	snap.Status = api.StatusSuspended
	_ = e.store.Save(ctx, snap)
}

func (e *engineImpl) Cancel(ctx context.Context, id string) (*api.ExecutionContext, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if st.ec.Status.Terminal() {
		st.mu.Unlock()
		return st.ec, nil
	}
	if st.executing {
		// The driving goroutine observes the flag at the next step
		// boundary and finishes the in-flight step first.
		st.cancelRequested = true
		st.mu.Unlock()
		return st.ec, nil
	}
	st.ec.Status = api.StatusCancelled
	st.ec.SuspendReason = nil
	st.ec.SnapshotID = ""
	snapID := st.snapshotID
	st.mu.Unlock()

	e.observer.OnRunCancelled(ctx, st.ec)
	if snapID != "" && !e.retain {
		_ = e.store.Delete(ctx, snapID)
	}
	return st.ec, nil
}

func (e *engineImpl) Deliver(ctx context.Context, event string, data any) ([]*api.ExecutionContext, error) {
	summaries, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var resumed []*api.ExecutionContext
	for _, s := range summaries {
		if s.Status != api.StatusSuspended {
			continue
		}
		if s.ResumeCondition.Kind != api.ConditionEvent || s.ResumeCondition.Event != event {
			continue
		}
		ec, err := e.Resume(ctx, s.ID, &api.ResumePayload{Event: event, Data: data})
		switch {
		case err == nil:
			resumed = append(resumed, ec)
		case api.IsConcurrencyConflict(err), api.IsPreconditionNotMet(err), api.IsNotFound(err):
			// Lost to a concurrent resumer, or the snapshot changed
			// under us. Someone else is handling this run.
		default:
			return resumed, err
		}
	}
	return resumed, nil
}

// drive executes steps until the run suspends or reaches a terminal status.
// Callers must have set st.executing.
func (e *engineImpl) drive(ctx context.Context, st *runState) (*api.ExecutionContext, error) {
	defer func() {
		st.mu.Lock()
		st.executing = false
		st.mu.Unlock()
	}()

	// Steps that consult the time read the engine's clock off the context,
	// so their view matches the resume-condition checks.
	ctx = api.WithClock(ctx, e.clock)

	ec := st.ec
	for {
		st.mu.Lock()
		cancelled := st.cancelRequested
		st.mu.Unlock()

		if cancelled || ctx.Err() != nil {
			return e.finishCancelled(ctx, st)
		}
		if ec.StepIndex >= len(st.def.Steps) {
			return e.finishCompleted(ctx, st)
		}
		if !ec.CanContinue() {
			return e.finishFailed(ctx, st, api.NewError(api.KindStepBudgetExceeded,
				"run %s exceeded its budget of %d steps", ec.ID, ec.MaxSteps))
		}

		step := st.def.Steps[ec.StepIndex]

		var (
			dec api.Decision
			err error
		)
		if len(step.Group) > 0 {
			dec, err = e.executeGroup(ctx, st, step)
		} else {
			// The step runs against a clone and its effects are folded
			// back in under the run lock, so Get never observes a
			// half-applied step.
			scratch := scratchContext(ec)
			dec, err = e.executeStep(ctx, scratch, step, ec.StepIndex)
			st.mu.Lock()
			ec.Variables = scratch.Variables
			ec.History = append(ec.History, scratch.History...)
			st.mu.Unlock()
		}
		if err != nil {
			if ctx.Err() != nil {
				return e.finishCancelled(ctx, st)
			}
			return e.finishFailed(ctx, st, err)
		}

		switch dec.Kind {
		case api.DecisionContinue:
			st.mu.Lock()
			ec.StepIndex++
			st.mu.Unlock()

		case api.DecisionComplete:
			st.mu.Lock()
			ec.Output = dec.Value
			ec.StepIndex++
			st.mu.Unlock()
			return e.finishCompleted(ctx, st)

		case api.DecisionFail:
			failure := dec.Err
			if failure == nil {
				failure = api.NewError(api.KindStepExecution, "step %q failed", step.Name)
			} else if api.KindOf(failure) == "" {
				failure = api.WrapError(api.KindStepExecution, failure, "step %q failed", step.Name)
			}
			return e.finishFailed(ctx, st, failure)

		case api.DecisionSuspend:
			st.mu.Lock()
			snapID, serr := e.saveSnapshot(ctx, st, dec.Reason, dec.Condition)
			if serr != nil {
				st.mu.Unlock()
				return e.finishFailed(ctx, st, serr)
			}
			ec.MarkSuspended(dec.Reason, snapID)
			st.mu.Unlock()
			e.observer.OnRunSuspended(ctx, ec, dec.Reason, snapID)
			return ec, nil

		default:
			return e.finishFailed(ctx, st, api.NewError(api.KindStepExecution,
				"step %q returned an unknown decision %q", step.Name, dec.Kind))
		}
	}
}

// executeStep runs one step function with its retry policy. A returned error
// is retried; a Fail decision is deliberate and never retried.
func (e *engineImpl) executeStep(ctx context.Context, ec *api.ExecutionContext, step api.StepDefinition, index int) (api.Decision, error) {
	policy := api.RetryPolicy{}
	if step.Retry != nil {
		policy = *step.Retry
	}
	strategy := backoff.FromPolicy(policy)
	maxAttempts := policy.MaxRetries + 1

	var (
		dec     api.Decision
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return api.Decision{}, api.WrapError(api.KindStepExecution, ctx.Err(),
					"step %q interrupted", step.Name)
			case <-time.After(strategy.Delay(attempt - 1)):
			}
		}

		e.observer.OnStepStart(ctx, ec, step.Name, index)
		started := time.Now()
		dec, lastErr = step.Fn(ctx, ec)
		duration := time.Since(started)
		e.observer.OnStepCompleted(ctx, ec, step.Name, index, lastErr, duration)

		if lastErr == nil {
			ec.History = append(ec.History, api.StepOutcome{
				StepIndex: index,
				Name:      step.Name,
				Decision:  dec.Kind,
				Attempts:  attempt,
				Duration:  duration,
				At:        e.clock(),
			})
			return dec, nil
		}

		if attempt == maxAttempts {
			ec.History = append(ec.History, api.StepOutcome{
				StepIndex: index,
				Name:      step.Name,
				Decision:  api.DecisionFail,
				Err:       lastErr.Error(),
				Attempts:  attempt,
				Duration:  duration,
				At:        e.clock(),
			})
		}
	}

	if api.KindOf(lastErr) == "" {
		lastErr = api.WrapError(api.KindStepExecution, lastErr,
			"step %q failed after %d attempts", step.Name, maxAttempts)
	}
	return api.Decision{}, lastErr
}

// executeGroup dispatches the members of a parallel group concurrently and
// joins on all of them. Outcomes land in the history in declared order, and
// variable writes are merged in declared order, so a group's effect on the
// run is deterministic regardless of scheduling. Members may only Continue
// or Fail; the group counts as a single step against the budget.
func (e *engineImpl) executeGroup(ctx context.Context, st *runState, step api.StepDefinition) (api.Decision, error) {
	ec := st.ec

	type memberResult struct {
		dec      api.Decision
		err      error
		vars     map[string]any
		attempts int
	}
	results := make([]memberResult, len(step.Group))

	g, gctx := errgroup.WithContext(ctx)
	for i, member := range step.Group {
		scratch := scratchContext(ec)
		g.Go(func() error {
			dec, err := e.executeStep(gctx, scratch, member, ec.StepIndex)
			attempts := 1
			if n := len(scratch.History); n > 0 {
				attempts = scratch.History[n-1].Attempts
			}
			results[i] = memberResult{dec: dec, err: err, vars: scratch.Variables, attempts: attempts}
			return nil
		})
	}
	_ = g.Wait()

	// Merge in declared order. Each member ran against its own copy of the
	// variables, and history entries produced by executeStep on the
	// scratch contexts are re-appended here in order.
	var failure error
	st.mu.Lock()
	for i, member := range step.Group {
		res := results[i]
		for k, v := range res.vars {
			ec.Variables[k] = v
		}

		outcome := api.StepOutcome{
			StepIndex: ec.StepIndex,
			Name:      member.Name,
			Decision:  res.dec.Kind,
			Attempts:  res.attempts,
			At:        e.clock(),
		}
		switch {
		case res.err != nil:
			outcome.Decision = api.DecisionFail
			outcome.Err = res.err.Error()
			if failure == nil {
				failure = res.err
			}
		case res.dec.Kind == api.DecisionFail:
			ferr := res.dec.Err
			if ferr == nil {
				ferr = api.NewError(api.KindStepExecution, "step %q failed", member.Name)
			}
			outcome.Err = ferr.Error()
			if failure == nil {
				if api.KindOf(ferr) == "" {
					ferr = api.WrapError(api.KindStepExecution, ferr, "step %q failed", member.Name)
				}
				failure = ferr
			}
		case res.dec.Kind != api.DecisionContinue:
			if failure == nil {
				failure = api.NewError(api.KindValidation,
					"group member %q returned %s; members may only continue or fail",
					member.Name, res.dec.Kind)
			}
		}
		ec.History = append(ec.History, outcome)
	}
	st.mu.Unlock()

	if failure != nil {
		return api.Decision{}, failure
	}
	return api.Continue(), nil
}

// scratchContext clones the run's context for one step execution.
func scratchContext(ec *api.ExecutionContext) *api.ExecutionContext {
	return &api.ExecutionContext{
		ID:           ec.ID,
		WorkflowName: ec.WorkflowName,
		StepIndex:    ec.StepIndex,
		MaxSteps:     ec.MaxSteps,
		Variables:    cloneVariables(ec.Variables),
		Status:       ec.Status,
	}
}

func cloneVariables(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (e *engineImpl) finishCompleted(ctx context.Context, st *runState) (*api.ExecutionContext, error) {
	st.mu.Lock()
	st.ec.Status = api.StatusCompleted
	st.cancelRequested = false
	snapID := st.snapshotID
	st.snapshotID = ""
	st.mu.Unlock()

	e.observer.OnRunCompleted(ctx, st.ec)
	if snapID != "" && !e.retain {
		_ = e.store.Delete(ctx, snapID)
	}
	return st.ec, nil
}

func (e *engineImpl) finishFailed(ctx context.Context, st *runState, err error) (*api.ExecutionContext, error) {
	st.mu.Lock()
	st.ec.Status = api.StatusFailed
	st.ec.Err = err
	st.cancelRequested = false
	snapID := st.snapshotID
	st.snapshotID = ""
	st.mu.Unlock()

	e.observer.OnRunFailed(ctx, st.ec, err)

	// The record of a failed run is kept for operators, but flipped to
	// FAILED so listings do not show it as a live run.
	if snapID != "" {
		if snap, lerr := e.store.Load(ctx, snapID); lerr == nil {
			snap.Status = api.StatusFailed
			_ = e.store.Save(ctx, snap)
		}
	}
	return st.ec, err
}

func (e *engineImpl) finishCancelled(ctx context.Context, st *runState) (*api.ExecutionContext, error) {
	st.mu.Lock()
	st.ec.Status = api.StatusCancelled
	st.cancelRequested = false
	snapID := st.snapshotID
	st.snapshotID = ""
	st.mu.Unlock()

	e.observer.OnRunCancelled(ctx, st.ec)
	if snapID != "" && !e.retain {
		_ = e.store.Delete(ctx, snapID)
	}
	return st.ec, nil
}
