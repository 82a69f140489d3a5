// Package mem is an in-memory provider. It backs engine and CLI tests with
// scriptable failures and a full call log, and doubles as a dry-run target.
package mem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stratus-io/stratus/internal/ir"
)

// Call records one provider invocation, including failed attempts.
type Call struct {
	Op   string // "create", "read", "update", "delete"
	Kind ir.Kind
	Name string // logical name when known, otherwise the identity
}

type record struct {
	name  string
	kind  ir.Kind
	attrs map[string]any
}

type failureScript struct {
	remaining int
	transient bool
}

// Provider keeps every created resource in memory.
type Provider struct {
	mu        sync.Mutex
	seq       int
	records   map[string]*record // identity -> record
	byToken   map[string]string  // idempotency token -> identity
	calls     []Call
	failures  map[string]*failureScript
	immutable map[ir.Kind][]string
}

func New() *Provider {
	return &Provider{
		records:   make(map[string]*record),
		byToken:   make(map[string]string),
		failures:  make(map[string]*failureScript),
		immutable: make(map[ir.Kind][]string),
	}
}

// FailOn scripts the next `times` invocations of op on the named resource
// to fail. Transient failures are retryable; terminal ones are not.
func (p *Provider) FailOn(op, name string, times int, transient bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op+"/"+name] = &failureScript{remaining: times, transient: transient}
}

// SetImmutable declares which fields force replacement for a kind.
func (p *Provider) SetImmutable(kind ir.Kind, fields ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.immutable[kind] = fields
}

// Calls returns how many times op was invoked for the named resource,
// counting failed attempts.
func (p *Provider) Calls(op, name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op && c.Name == name {
			n++
		}
	}
	return n
}

// Has reports whether a resource with the logical name currently exists.
func (p *Provider) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byToken["stratus:"+name]
	return ok
}

// Len returns the number of live resources.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *Provider) Create(ctx context.Context, kind ir.Kind, name string, attrs map[string]any) (string, map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: "create", Kind: kind, Name: name})
	if err := p.injectLocked("create", name); err != nil {
		return "", nil, err
	}

	token := "stratus:" + name
	if identity, ok := p.byToken[token]; ok {
		// A retried create after an ambiguous failure adopts the
		// resource already tagged with this token.
		return identity, p.producedLocked(identity), nil
	}

	p.seq++
	identity := fmt.Sprintf("mem-%s-%d", name, p.seq)
	p.records[identity] = &record{name: name, kind: kind, attrs: copyAttrs(attrs)}
	p.byToken[token] = identity
	return identity, p.producedLocked(identity), nil
}

func (p *Provider) Read(ctx context.Context, kind ir.Kind, identity string) (map[string]any, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[identity]
	name := identity
	if ok {
		name = rec.name
	}
	p.calls = append(p.calls, Call{Op: "read", Kind: kind, Name: name})
	if err := p.injectLocked("read", name); err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return copyAttrs(rec.attrs), true, nil
}

func (p *Provider) Update(ctx context.Context, kind ir.Kind, identity string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[identity]
	name := identity
	if ok {
		name = rec.name
	}
	p.calls = append(p.calls, Call{Op: "update", Kind: kind, Name: name})
	if err := p.injectLocked("update", name); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("resource %s not found", identity)
	}
	rec.attrs = copyAttrs(attrs)
	return p.producedLocked(identity), nil
}

func (p *Provider) Delete(ctx context.Context, kind ir.Kind, identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[identity]
	name := identity
	if ok {
		name = rec.name
	}
	p.calls = append(p.calls, Call{Op: "delete", Kind: kind, Name: name})
	if err := p.injectLocked("delete", name); err != nil {
		return err
	}
	if !ok {
		return nil // deleting an absent resource is not an error
	}
	delete(p.records, identity)
	delete(p.byToken, "stratus:"+rec.name)
	return nil
}

func (p *Provider) ImmutableFields(kind ir.Kind) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.immutable[kind]
}

func (p *Provider) injectLocked(op, name string) error {
	script, ok := p.failures[op+"/"+name]
	if !ok || script.remaining == 0 {
		return nil
	}
	script.remaining--
	return &ir.ApplyError{
		Name: name, Op: op, Transient: script.transient,
		Err: errors.New("injected failure"),
	}
}

func (p *Provider) producedLocked(identity string) map[string]any {
	rec := p.records[identity]
	return map[string]any{
		"id":  identity,
		"arn": fmt.Sprintf("arn:mem:%s/%s", rec.kind, rec.name),
	}
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
