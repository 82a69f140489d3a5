package ir

// Status tracks a resource node through a plan run.
// Terminal states: created, updated, deleted, failed, skipped, nochange.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCreated    Status = "created"
	StatusUpdated    Status = "updated"
	StatusDeleted    Status = "deleted"
	StatusNoChange   Status = "nochange"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// TerminalSuccess reports whether s is a terminal state that unblocks
// dependents.
func (s Status) TerminalSuccess() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusDeleted, StatusNoChange:
		return true
	}
	return false
}

// Terminal reports whether no further transition can occur within a run.
func (s Status) Terminal() bool {
	return s.TerminalSuccess() || s == StatusFailed || s == StatusSkipped
}

// State is the durable record of everything the engine has applied.
// It persists across invocations and is the sole source of truth for what
// currently exists remotely.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
}

// ResourceState records the last-applied form of one resource.
// It is owned by the state store and mutated only by the convergence engine
// after a provider call succeeds or definitively fails.
type ResourceState struct {
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	Provider string         `json:"provider"`
	Identity string         `json:"identity"` // provider-assigned ID or ARN
	Attrs    map[string]any `json:"attrs"`    // last-applied resolved inputs
	Outputs  map[string]any `json:"outputs"`  // provider-produced attributes
	Status   Status         `json:"status"`

	// Dependencies records the logical names this resource depended on at
	// apply time, so resources dropped from the declaration can still be
	// deleted in a safe order.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Resource looks up a resource record by logical name.
func (s *State) Resource(name string) *ResourceState {
	for _, r := range s.Resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Put inserts or replaces the record for rs.Name.
func (s *State) Put(rs *ResourceState) {
	for i, r := range s.Resources {
		if r.Name == rs.Name {
			s.Resources[i] = rs
			return
		}
	}
	s.Resources = append(s.Resources, rs)
}

// Remove deletes the record for name, if present.
func (s *State) Remove(name string) {
	for i, r := range s.Resources {
		if r.Name == name {
			s.Resources = append(s.Resources[:i], s.Resources[i+1:]...)
			return
		}
	}
}

// OutputAttr resolves a produced attribute of a resource, falling back to
// the last-applied inputs when the provider did not echo the attribute.
func (s *State) OutputAttr(name, attr string) (any, bool) {
	r := s.Resource(name)
	if r == nil {
		return nil, false
	}
	if v, ok := r.Outputs[attr]; ok {
		return v, true
	}
	if v, ok := r.Attrs[attr]; ok {
		return v, true
	}
	return nil, false
}
