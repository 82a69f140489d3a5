package ir

import "time"

// Intent selects the direction a plan walks the dependency graph.
type Intent string

const (
	IntentApply   Intent = "apply"
	IntentDestroy Intent = "destroy"
)

// Action is the per-resource operation a plan decides on.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace" // destroy-then-create, immutable field changed
	ActionDelete  Action = "delete"
	ActionNoop    Action = "noop"
)

// Plan is the ordered set of batches an apply or destroy run executes.
// Levels hold logical names; all nodes in a level are mutually independent
// and may run concurrently, and level N+1 never starts before every node in
// level N has reached a terminal state.
type Plan struct {
	Intent  Intent     `json:"intent"`
	Levels  [][]string `json:"levels"`
	Changes []*Change  `json:"changes"` // in level order, name-sorted within a level
}

// Change describes the intended operation for one resource.
type Change struct {
	Name   string               `json:"name"`
	Kind   Kind                 `json:"kind"`
	Action Action               `json:"action"`
	Diff   map[string]FieldDiff `json:"diff,omitempty"`
}

// FieldDiff records a single attribute transition.
type FieldDiff struct {
	Before         any  `json:"before,omitempty"`
	After          any  `json:"after,omitempty"`
	ForcesReplace  bool `json:"forcesReplace,omitempty"`
}

// Summary tallies the plan's actions.
func (p *Plan) Summary() map[Action]int {
	sum := make(map[Action]int)
	for _, c := range p.Changes {
		sum[c.Action]++
	}
	return sum
}

// Change looks up the planned change for a logical name.
func (p *Plan) Change(name string) *Change {
	for _, c := range p.Changes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Report is the outcome of a convergence run. A run that hits per-node
// failures still completes and reports every node's fate instead of
// surfacing a single opaque error.
type Report struct {
	Results []*NodeResult
}

// NodeResult records what happened to one resource node.
type NodeResult struct {
	Name     string
	Kind     Kind
	Action   Action
	Status   Status
	Attempts int // provider calls made for the final operation
	Duration time.Duration
	Err      error
	Reason   string // for skipped nodes, the failed dependency
}

// Result looks up the outcome for a logical name.
func (r *Report) Result(name string) *NodeResult {
	for _, res := range r.Results {
		if res.Name == name {
			return res
		}
	}
	return nil
}

// Counts returns how many nodes finished in each status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Failed reports whether any node failed or was skipped.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.Status == StatusSkipped {
			return true
		}
	}
	return false
}
