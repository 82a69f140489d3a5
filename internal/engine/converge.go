package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/logging"
)

// Event reports node progress during a convergence run.
type Event struct {
	Name     string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Err      error
}

// EventFunc receives progress events if set.
type EventFunc func(Event)

// converger carries the shared mutable pieces of one run. The state is the
// only shared mutable resource; every access goes through mu. Terminal node
// statuses are immutable once written.
type converger struct {
	engine   *Engine
	graph    *Graph
	plan     *ir.Plan
	state    *ir.State
	emit     EventFunc
	mu       sync.Mutex
	statuses map[string]ir.Status
	results  map[string]*ir.NodeResult
	fatal    error
}

// Converge executes a plan level by level. Nodes within a level run
// concurrently on a worker pool bounded by Parallelism; level N+1 never
// starts until every node in level N is terminal, so a dependent never
// begins with a partially-applied dependency. Per-node terminal failures do
// not abort the run: dependents are skipped and independent subtrees
// continue to completion. Cancelling ctx lets in-flight nodes finish but
// prevents not-yet-started nodes from beginning.
func (e *Engine) Converge(ctx context.Context, graph *Graph, plan *ir.Plan, state *ir.State, emit EventFunc) (*ir.Report, error) {
	c := &converger{
		engine:   e,
		graph:    graph,
		plan:     plan,
		state:    state,
		emit:     emit,
		statuses: make(map[string]ir.Status),
		results:  make(map[string]*ir.NodeResult),
	}
	for _, change := range plan.Changes {
		c.statuses[change.Name] = ir.StatusPending
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	sem := make(chan struct{}, parallelism)

	var cancelled bool
	for _, level := range plan.Levels {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		var wg sync.WaitGroup
		for _, name := range level {
			change := plan.Change(name)
			if change == nil {
				continue
			}
			wg.Add(1)
			go func(change *ir.Change) {
				defer wg.Done()
				if ctx.Err() != nil {
					return // not-yet-started nodes stay pending
				}
				sem <- struct{}{}
				defer func() { <-sem }()
				c.runNode(ctx, change)
			}(change)
		}
		wg.Wait()

		c.mu.Lock()
		fatal := c.fatal
		c.mu.Unlock()
		if fatal != nil {
			return c.report(), fatal
		}
	}

	report := c.report()
	if cancelled || ctx.Err() != nil {
		return report, fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	return report, nil
}

func (c *converger) runNode(ctx context.Context, change *ir.Change) {
	name := change.Name

	// A node never begins until everything it depends on is terminal; the
	// level barrier guarantees that, so any non-success blocker here means
	// the node must be skipped, not raced.
	if blocker := c.failedBlocker(change); blocker != "" {
		c.finish(&ir.NodeResult{
			Name: name, Kind: change.Kind, Action: change.Action,
			Status: ir.StatusSkipped,
			Reason: fmt.Sprintf("dependency %q did not converge", blocker),
		})
		c.send(Event{Name: name, Action: change.Action, Status: "skipped"})
		return
	}

	c.setStatus(name, ir.StatusInProgress)
	c.send(Event{Name: name, Action: change.Action, Status: "started"})
	start := time.Now()

	var result *ir.NodeResult
	if change.Action == ir.ActionDelete {
		result = c.deleteNode(ctx, change)
	} else {
		result = c.reconcileNode(ctx, change)
	}
	result.Duration = time.Since(start)
	c.finish(result)

	switch result.Status {
	case ir.StatusFailed:
		logging.Error("node failed", "name", name, "action", result.Action, "error", result.Err)
		c.send(Event{Name: name, Action: result.Action, Status: "failed", Duration: result.Duration, Err: result.Err})
	default:
		logging.Debug("node converged", "name", name, "action", result.Action, "status", result.Status, "attempts", result.Attempts)
		c.send(Event{Name: name, Action: result.Action, Status: "completed", Duration: result.Duration})
	}
}

// reconcileNode drives one declared resource to its desired state:
// resolve references, read remote, diff, then create/update/replace.
func (c *converger) reconcileNode(ctx context.Context, change *ir.Change) *ir.NodeResult {
	name := change.Name
	spec := c.graph.Spec(name)
	result := &ir.NodeResult{Name: name, Kind: spec.Kind}

	prov, err := c.engine.registry.Get(spec.Provider)
	if err != nil {
		result.Status, result.Err = ir.StatusFailed, err
		return result
	}

	// 1. Resolve references against already-applied dependencies. An
	// unresolved reference past the level barrier is a scheduler defect
	// and aborts the run.
	c.mu.Lock()
	desired, err := resolveAttrs(spec.Attrs, c.state)
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		if c.fatal == nil {
			c.fatal = fmt.Errorf("scheduler defect: %s: %w", name, err)
		}
		c.mu.Unlock()
		result.Status, result.Err = ir.StatusFailed, err
		return result
	}

	// 2. Fetch current remote state keyed by the stored identity.
	c.mu.Lock()
	prior := c.state.Resource(name)
	c.mu.Unlock()
	var remote map[string]any
	haveRemote := false
	if prior != nil && prior.Identity != "" {
		attempts, err := c.call(ctx, func(callCtx context.Context) error {
			var readErr error
			remote, haveRemote, readErr = prov.Read(callCtx, spec.Kind, prior.Identity)
			return readErr
		})
		result.Attempts = attempts
		if err != nil {
			result.Status = ir.StatusFailed
			result.Err = &ir.ApplyError{Name: name, Op: "read", Transient: IsTransient(err), Err: err}
			return result
		}
		if !haveRemote {
			// Drift: the recorded resource vanished remotely.
			prior = nil
		}
	}

	// 3. Decide the operation per-field.
	action := c.decideAction(prov, spec, prior, desired, remote, haveRemote)
	result.Action = action

	// 4. Invoke the provider, retrying transient failures with backoff.
	var identity string
	var produced map[string]any
	switch action {
	case ir.ActionNoop:
		result.Status = ir.StatusNoChange
		c.recordState(spec, prior.Identity, desired, prior.Outputs, ir.StatusNoChange)
		return result
	case ir.ActionCreate:
		attempts, err := c.call(ctx, func(callCtx context.Context) error {
			var createErr error
			identity, produced, createErr = prov.Create(callCtx, spec.Kind, spec.Name, desired)
			return createErr
		})
		result.Attempts = attempts
		if err != nil {
			result.Status = ir.StatusFailed
			result.Err = &ir.ApplyError{Name: name, Op: "create", Transient: IsTransient(err), Err: err}
			return result
		}
		result.Status = ir.StatusCreated
	case ir.ActionUpdate:
		identity = prior.Identity
		attempts, err := c.call(ctx, func(callCtx context.Context) error {
			var updateErr error
			produced, updateErr = prov.Update(callCtx, spec.Kind, identity, desired)
			return updateErr
		})
		result.Attempts = attempts
		if err != nil {
			result.Status = ir.StatusFailed
			result.Err = &ir.ApplyError{Name: name, Op: "update", Transient: IsTransient(err), Err: err}
			return result
		}
		result.Status = ir.StatusUpdated
	case ir.ActionReplace:
		// Destroy-then-create; dependents re-resolve the new identity in
		// their own level, after the replacement is terminal.
		deleteAttempts, err := c.call(ctx, func(callCtx context.Context) error {
			return prov.Delete(callCtx, spec.Kind, prior.Identity)
		})
		result.Attempts = deleteAttempts
		if err != nil {
			result.Status = ir.StatusFailed
			result.Err = &ir.ApplyError{Name: name, Op: "delete", Transient: IsTransient(err), Err: err}
			return result
		}
		attempts, err := c.call(ctx, func(callCtx context.Context) error {
			var createErr error
			identity, produced, createErr = prov.Create(callCtx, spec.Kind, spec.Name, desired)
			return createErr
		})
		result.Attempts = deleteAttempts + attempts
		if err != nil {
			result.Status = ir.StatusFailed
			result.Err = &ir.ApplyError{Name: name, Op: "create", Transient: IsTransient(err), Err: err}
			return result
		}
		result.Status = ir.StatusCreated
	}

	// 5. Persist the new record so dependent references resolve.
	c.recordState(spec, identity, desired, produced, result.Status)
	return result
}

func (c *converger) deleteNode(ctx context.Context, change *ir.Change) *ir.NodeResult {
	name := change.Name
	result := &ir.NodeResult{Name: name, Kind: change.Kind, Action: ir.ActionDelete}

	c.mu.Lock()
	prior := c.state.Resource(name)
	c.mu.Unlock()
	if prior == nil || prior.Identity == "" {
		result.Status = ir.StatusNoChange
		return result
	}

	prov, err := c.engine.registry.Get(prior.Provider)
	if err != nil {
		result.Status, result.Err = ir.StatusFailed, err
		return result
	}

	attempts, err := c.call(ctx, func(callCtx context.Context) error {
		return prov.Delete(callCtx, prior.Kind, prior.Identity)
	})
	result.Attempts = attempts
	if err != nil {
		result.Status = ir.StatusFailed
		result.Err = &ir.ApplyError{Name: name, Op: "delete", Transient: IsTransient(err), Err: err}
		return result
	}

	c.mu.Lock()
	c.state.Remove(name)
	c.mu.Unlock()
	result.Status = ir.StatusDeleted
	return result
}

// decideAction diffs desired attributes against the current remote view.
// Fields the provider did not echo fall back to the last-applied snapshot.
func (c *converger) decideAction(prov providerIface, spec *ir.ResourceSpec, prior *ir.ResourceState, desired, remote map[string]any, haveRemote bool) ir.Action {
	if prior == nil || prior.Identity == "" {
		return ir.ActionCreate
	}

	current := make(map[string]any, len(prior.Attrs)+len(remote))
	for k, v := range prior.Attrs {
		current[k] = v
	}
	if haveRemote {
		for k, v := range remote {
			current[k] = v
		}
	}

	immutable := make(map[string]bool)
	for _, f := range prov.ImmutableFields(spec.Kind) {
		immutable[f] = true
	}

	action := ir.ActionNoop
	for field, after := range desired {
		before, had := current[field]
		if had && literalEqual(before, after) {
			continue
		}
		if immutable[field] {
			return ir.ActionReplace
		}
		action = ir.ActionUpdate
	}
	return action
}

// providerIface narrows the registry's provider to what decideAction needs.
type providerIface interface {
	ImmutableFields(kind ir.Kind) []string
}

// call runs one provider operation with a per-call timeout and the engine's
// retry policy. Timeouts apply per provider call, never to the whole plan.
func (c *converger) call(ctx context.Context, fn func(context.Context) error) (int, error) {
	timeout := c.engine.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return RetryWithBackoff(ctx, c.engine.Retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	}, IsTransient)
}

// failedBlocker returns the name of a dependency (or, for deletes, a
// dependent) that did not reach terminal success, if any.
func (c *converger) failedBlocker(change *ir.Change) string {
	var blockers []string
	if change.Action == ir.ActionDelete {
		blockers = c.deleteBlockers(change.Name)
	} else {
		blockers = c.graph.Dependencies(change.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range blockers {
		status, tracked := c.statuses[b]
		if !tracked {
			continue // not part of this plan
		}
		if !status.TerminalSuccess() {
			return b
		}
	}
	return ""
}

// deleteBlockers lists the resources that must be gone before name may be
// deleted: its dependents, from the graph when declared or from recorded
// state dependencies for orphans.
func (c *converger) deleteBlockers(name string) []string {
	if c.graph.Spec(name) != nil {
		return c.graph.Dependents(name)
	}
	var dependents []string
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rs := range c.state.Resources {
		for _, dep := range rs.Dependencies {
			if dep == name {
				dependents = append(dependents, rs.Name)
			}
		}
	}
	return dependents
}

func (c *converger) recordState(spec *ir.ResourceSpec, identity string, attrs, produced map[string]any, status ir.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Put(&ir.ResourceState{
		Name:         spec.Name,
		Kind:         spec.Kind,
		Provider:     spec.Provider,
		Identity:     identity,
		Attrs:        attrs,
		Outputs:      produced,
		Status:       status,
		Dependencies: c.graph.Dependencies(spec.Name),
	})
}

func (c *converger) setStatus(name string, status ir.Status) {
	c.mu.Lock()
	c.statuses[name] = status
	c.mu.Unlock()
}

func (c *converger) finish(result *ir.NodeResult) {
	c.mu.Lock()
	c.statuses[result.Name] = result.Status
	c.results[result.Name] = result
	c.mu.Unlock()
}

func (c *converger) send(ev Event) {
	if c.emit != nil {
		c.emit(ev)
	}
}

// report assembles results in plan order; nodes never started remain
// pending.
func (c *converger) report() *ir.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	report := &ir.Report{}
	for _, change := range c.plan.Changes {
		if res, ok := c.results[change.Name]; ok {
			report.Results = append(report.Results, res)
			continue
		}
		report.Results = append(report.Results, &ir.NodeResult{
			Name: change.Name, Kind: change.Kind, Action: change.Action,
			Status: c.statuses[change.Name],
		})
	}
	return report
}

// resolveAttrs substitutes every reference with the produced attribute of
// its already-applied target. References must all resolve here; the
// scheduler only releases a node after its dependencies are terminal.
func resolveAttrs(v map[string]any, state *ir.State) (map[string]any, error) {
	resolved, err := resolveValue(v, state, true)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// resolveAttrsLenient substitutes the references it can and leaves the rest
// as raw ref strings; used for offline plan diffs.
func resolveAttrsLenient(v map[string]any, state *ir.State) map[string]any {
	resolved, _ := resolveValue(v, state, false)
	return resolved.(map[string]any)
}

func resolveValue(v any, state *ir.State, strict bool) (any, error) {
	switch val := v.(type) {
	case string:
		ref, ok := ir.ParseRef(val)
		if !ok {
			return val, nil
		}
		if out, found := state.OutputAttr(ref.Target, ref.Attr); found {
			return out, nil
		}
		if strict {
			return nil, fmt.Errorf("unresolved reference %s", ref)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := resolveValue(elem, state, strict)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := resolveValue(elem, state, strict)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}
