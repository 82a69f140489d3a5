package ir

import (
	"fmt"
	"strings"
)

// ValidationError reports a declared attribute that fails offline checks.
type ValidationError struct {
	Kind   Kind
	Name   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: attribute %q: %s", e.Kind, e.Name, e.Field, e.Reason)
}

// CycleError reports a circular reference chain between declared resources.
// Path holds the logical names along the cycle, first node repeated last.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// DanglingReferenceError reports a reference whose target logical name is
// absent from the spec set.
type DanglingReferenceError struct {
	Source string
	Target string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("resource %q references unknown resource %q", e.Source, e.Target)
}

// ApplyError wraps a provider call failure for a single resource node.
// Transient failures are retried by the convergence engine until the retry
// budget is exhausted; terminal failures surface immediately.
type ApplyError struct {
	Name      string
	Op        string // "create", "read", "update", "delete"
	Transient bool
	Err       error
}

func (e *ApplyError) Error() string {
	class := "terminal"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Op, e.Name, class, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// LockContentionError reports that another run holds the state lock.
// It is surfaced to the caller immediately, never retried automatically.
type LockContentionError struct {
	Holder string // human-readable description of the lock holder
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("state is locked by another run (%s)", e.Holder)
}

// StateCorruptionError reports persisted state that fails to deserialize.
type StateCorruptionError struct {
	Path string
	Err  error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }
