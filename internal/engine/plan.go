package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/logging"
	"github.com/stratus-io/stratus/internal/provider"
)

// DefaultParallelism bounds concurrent provider calls; cloud APIs are
// rate-limited and a full-width graph walk can trip throttling.
const DefaultParallelism = 10

// Engine orchestrates planning and convergence of resource graphs.
type Engine struct {
	registry    *provider.Registry
	Parallelism int
	Retry       *RetryPolicy
	CallTimeout time.Duration
}

func New(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: DefaultParallelism,
		Retry:       DefaultRetryPolicy(),
		CallTimeout: DefaultCallTimeout,
	}
}

// Plan computes the intended batches and per-resource actions by comparing
// the declared graph against the last-applied state. Planning is offline:
// it makes no remote calls, so the decisions are advisory and re-checked
// against live remote state during convergence.
func (e *Engine) Plan(graph *Graph, state *ir.State, intent ir.Intent) (*ir.Plan, error) {
	switch intent {
	case ir.IntentApply:
		return e.planApply(graph, state)
	case ir.IntentDestroy:
		return e.planDestroy(graph, state)
	}
	return nil, fmt.Errorf("unknown plan intent: %s", intent)
}

func (e *Engine) planApply(graph *Graph, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{Intent: ir.IntentApply}

	// Resources recorded in state but no longer declared are torn down
	// before anything else, in reverse order of their recorded
	// dependencies.
	orphanLevels := orphanDestroyLevels(graph, state)
	for _, level := range orphanLevels {
		plan.Levels = append(plan.Levels, level)
		for _, name := range level {
			rs := state.Resource(name)
			plan.Changes = append(plan.Changes, &ir.Change{
				Name:   name,
				Kind:   rs.Kind,
				Action: ir.ActionDelete,
				Diff:   deleteDiff(rs.Attrs),
			})
		}
	}

	for _, level := range graph.Levels() {
		plan.Levels = append(plan.Levels, level)
		for _, name := range level {
			change, err := e.planChange(graph, state, name)
			if err != nil {
				return nil, err
			}
			plan.Changes = append(plan.Changes, change)
		}
	}

	logging.Debug("plan computed", "intent", plan.Intent, "levels", len(plan.Levels), "changes", len(plan.Changes))
	return plan, nil
}

func (e *Engine) planChange(graph *Graph, state *ir.State, name string) (*ir.Change, error) {
	spec := graph.Spec(name)
	change := &ir.Change{Name: name, Kind: spec.Kind}

	prior := state.Resource(name)
	if prior == nil || prior.Identity == "" {
		change.Action = ir.ActionCreate
		change.Diff = createDiff(spec.Attrs)
		return change, nil
	}

	prov, err := e.registry.Get(spec.Provider)
	if err != nil {
		return nil, err
	}
	immutable := make(map[string]bool)
	for _, f := range prov.ImmutableFields(spec.Kind) {
		immutable[f] = true
	}

	// References are resolved best-effort against prior outputs; a still
	// unresolvable reference counts as a change since the value is only
	// known after the dependency applies.
	desired := resolveAttrsLenient(spec.Attrs, state)
	change.Diff = make(map[string]ir.FieldDiff)
	change.Action = ir.ActionNoop
	for _, field := range sortedKeys(desired) {
		after := desired[field]
		before, had := prior.Attrs[field]
		if had && literalEqual(before, after) {
			continue
		}
		fd := ir.FieldDiff{Before: before, After: after}
		if immutable[field] {
			fd.ForcesReplace = true
			change.Action = ir.ActionReplace
		} else if change.Action != ir.ActionReplace {
			change.Action = ir.ActionUpdate
		}
		change.Diff[field] = fd
	}
	if change.Action == ir.ActionNoop {
		change.Diff = nil
	}
	return change, nil
}

func (e *Engine) planDestroy(graph *Graph, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{Intent: ir.IntentDestroy}

	for _, level := range orphanDestroyLevels(graph, state) {
		plan.Levels = append(plan.Levels, level)
		for _, name := range level {
			rs := state.Resource(name)
			plan.Changes = append(plan.Changes, &ir.Change{
				Name: name, Kind: rs.Kind, Action: ir.ActionDelete, Diff: deleteDiff(rs.Attrs),
			})
		}
	}

	// Dependents are torn down before their dependencies.
	for _, level := range graph.DestroyLevels() {
		var present []string
		for _, name := range level {
			if rs := state.Resource(name); rs != nil && rs.Identity != "" {
				present = append(present, name)
			}
		}
		if len(present) == 0 {
			continue
		}
		plan.Levels = append(plan.Levels, present)
		for _, name := range present {
			rs := state.Resource(name)
			plan.Changes = append(plan.Changes, &ir.Change{
				Name: name, Kind: rs.Kind, Action: ir.ActionDelete, Diff: deleteDiff(rs.Attrs),
			})
		}
	}

	return plan, nil
}

// orphanDestroyLevels orders state-only resources (no longer declared) for
// deletion using the dependencies recorded at apply time, dependents first.
func orphanDestroyLevels(graph *Graph, state *ir.State) [][]string {
	orphans := make(map[string]*ir.ResourceState)
	for _, rs := range state.Resources {
		if graph.Spec(rs.Name) == nil {
			orphans[rs.Name] = rs
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	// Kahn over recorded dependencies restricted to the orphan set, then
	// reversed so dependents delete first.
	inDegree := make(map[string]int, len(orphans))
	rdeps := make(map[string][]string)
	for name, rs := range orphans {
		for _, dep := range rs.Dependencies {
			if _, ok := orphans[dep]; ok {
				inDegree[name]++
				rdeps[dep] = append(rdeps[dep], name)
			}
		}
	}

	var names []string
	for name := range orphans {
		names = append(names, name)
	}
	sort.Strings(names)

	var levels [][]string
	done := make(map[string]bool)
	for len(done) < len(orphans) {
		var level []string
		for _, name := range names {
			if !done[name] && inDegree[name] == 0 {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			// Recorded dependencies are cyclic only if the state file was
			// tampered with; flush the remainder in one deterministic batch.
			for _, name := range names {
				if !done[name] {
					level = append(level, name)
				}
			}
		}
		for _, name := range level {
			done[name] = true
			for _, dependent := range rdeps[name] {
				inDegree[dependent]--
			}
		}
		levels = append(levels, level)
	}

	rev := make([][]string, len(levels))
	for i, level := range levels {
		rev[len(levels)-1-i] = level
	}
	return rev
}

func createDiff(attrs map[string]any) map[string]ir.FieldDiff {
	diff := make(map[string]ir.FieldDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = ir.FieldDiff{After: v}
	}
	return diff
}

func deleteDiff(attrs map[string]any) map[string]ir.FieldDiff {
	diff := make(map[string]ir.FieldDiff, len(attrs))
	for k, v := range attrs {
		diff[k] = ir.FieldDiff{Before: v}
	}
	return diff
}

// literalEqual compares attribute values through their printed form, which
// normalizes int/float JSON round-trips and sorts map keys.
func literalEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
