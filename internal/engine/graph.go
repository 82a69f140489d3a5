package engine

import (
	"sort"

	"github.com/stratus-io/stratus/internal/ir"
)

// Graph is the directed acyclic dependency graph over declared resources.
// Nodes are specs; an edge runs from a referencing resource to the resource
// it references. Built fresh from the spec set every invocation, never
// persisted.
type Graph struct {
	specs map[string]*ir.ResourceSpec
	deps  map[string][]string // node -> resources it depends on
	rdeps map[string][]string // node -> resources that depend on it
	names []string            // all logical names, sorted
}

// BuildGraph constructs the dependency graph from a validated spec set.
// Edges come from ref:// attribute references and explicit dependsOn
// entries. It fails with a DanglingReferenceError when a reference names a
// resource absent from the set, and with a CycleError carrying the full
// cycle path when the reference graph is circular. This runs entirely
// offline, before any remote call.
func BuildGraph(specs []*ir.ResourceSpec) (*Graph, error) {
	if err := ir.ValidateAll(specs); err != nil {
		return nil, err
	}

	g := &Graph{
		specs: make(map[string]*ir.ResourceSpec, len(specs)),
		deps:  make(map[string][]string, len(specs)),
		rdeps: make(map[string][]string, len(specs)),
	}
	for _, spec := range specs {
		g.specs[spec.Name] = spec
		g.names = append(g.names, spec.Name)
	}
	sort.Strings(g.names)

	for _, spec := range specs {
		seen := make(map[string]bool)
		addEdge := func(target string) error {
			if _, ok := g.specs[target]; !ok {
				return &ir.DanglingReferenceError{Source: spec.Name, Target: target}
			}
			if target == spec.Name || seen[target] {
				return nil
			}
			seen[target] = true
			g.deps[spec.Name] = append(g.deps[spec.Name], target)
			g.rdeps[target] = append(g.rdeps[target], spec.Name)
			return nil
		}

		for _, ref := range spec.References() {
			if err := addEdge(ref.Target); err != nil {
				return nil, err
			}
		}
		for _, dep := range spec.DependsOn {
			if err := addEdge(dep); err != nil {
				return nil, err
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &ir.CycleError{Path: cycle}
	}

	for name := range g.deps {
		sort.Strings(g.deps[name])
	}
	for name := range g.rdeps {
		sort.Strings(g.rdeps[name])
	}

	return g, nil
}

// findCycle runs a depth-first search with three-color visitation state.
// An edge into an in-progress (gray) node signals a cycle; the returned
// path walks the cycle with the first node repeated last.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	color := make(map[string]int, len(g.specs))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range g.deps[name] {
			switch color[dep] {
			case gray:
				// Walk the stack back to the first occurrence of dep.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.names {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Spec returns the spec for a logical name.
func (g *Graph) Spec(name string) *ir.ResourceSpec {
	return g.specs[name]
}

// Names returns every logical name in the graph, sorted.
func (g *Graph) Names() []string {
	return g.names
}

// Dependencies returns the resources name depends on, sorted.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// Dependents returns the resources that depend on name, sorted.
func (g *Graph) Dependents(name string) []string {
	return g.rdeps[name]
}

// Levels computes topological batches by repeated removal of zero-in-degree
// nodes (Kahn's algorithm). Nodes within a level share no edges and may run
// concurrently; names within a level are sorted for deterministic,
// reproducible plans.
func (g *Graph) Levels() [][]string {
	inDegree := make(map[string]int, len(g.specs))
	for _, name := range g.names {
		inDegree[name] = len(g.deps[name])
	}

	var levels [][]string
	remaining := len(g.specs)
	for remaining > 0 {
		var level []string
		for _, name := range g.names {
			if deg, ok := inDegree[name]; ok && deg == 0 {
				level = append(level, name)
			}
		}
		// BuildGraph rejects cycles, so a level is always non-empty here.
		for _, name := range level {
			delete(inDegree, name)
			for _, dependent := range g.rdeps[name] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
		levels = append(levels, level)
		remaining -= len(level)
	}
	return levels
}

// DestroyLevels returns the apply levels in reverse order, so dependents
// are torn down before their dependencies: a listener is deleted before its
// load balancer, a service before its cluster. Destroy order is the exact
// reverse of apply order over the same graph.
func (g *Graph) DestroyLevels() [][]string {
	levels := g.Levels()
	rev := make([][]string, len(levels))
	for i, level := range levels {
		rev[len(levels)-1-i] = level
	}
	return rev
}
