package ir

import (
	"fmt"
	"strings"
)

// Kind identifies the type of cloud resource a spec declares.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindSubnet           Kind = "subnet"
	KindGateway          Kind = "gateway"
	KindRouteTable       Kind = "route_table"
	KindAssociation      Kind = "association"
	KindLoadBalancer     Kind = "load_balancer"
	KindTargetGroup      Kind = "target_group"
	KindListener         Kind = "listener"
	KindCluster          Kind = "cluster"
	KindTaskDefinition   Kind = "task_definition"
	KindService          Kind = "service"
	KindSecurityGroup    Kind = "security_group"
	KindRole             Kind = "role"
	KindPolicyAttachment Kind = "policy_attachment"
)

// Kinds lists every resource kind the engine understands.
var Kinds = []Kind{
	KindNetwork, KindSubnet, KindGateway, KindRouteTable, KindAssociation,
	KindLoadBalancer, KindTargetGroup, KindListener,
	KindCluster, KindTaskDefinition, KindService,
	KindSecurityGroup, KindRole, KindPolicyAttachment,
}

// KnownKind reports whether k is one of the supported resource kinds.
func KnownKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ResourceSpec describes a single declared resource instance.
// Specs are immutable once planning starts for an apply cycle.
type ResourceSpec struct {
	Kind      Kind              `json:"kind"`
	Name      string            `json:"name"` // logical name, unique within the graph
	Provider  string            `json:"provider"`
	DependsOn []string          `json:"dependsOn,omitempty"`
	Attrs     map[string]any    `json:"attrs"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// refScheme prefixes attribute values that point at another resource's
// produced attribute, e.g. "ref://vpc/id". References are a distinct
// variant from resolved literals and cannot be evaluated until the
// referenced resource has reached a terminal success state.
const refScheme = "ref://"

// Reference is an unresolved pointer from one spec's attribute to another
// spec's produced attribute.
type Reference struct {
	Target string // logical name of the referenced resource
	Attr   string // produced attribute on the target, e.g. "id"
}

func (r Reference) String() string {
	return refScheme + r.Target + "/" + r.Attr
}

// ParseRef decodes a ref:// attribute value. ok is false for plain literals.
func ParseRef(v any) (ref Reference, ok bool) {
	s, isStr := v.(string)
	if !isStr || !strings.HasPrefix(s, refScheme) {
		return Reference{}, false
	}
	rest := s[len(refScheme):]
	target, attr, found := strings.Cut(rest, "/")
	if !found || target == "" || attr == "" {
		return Reference{}, false
	}
	return Reference{Target: target, Attr: attr}, true
}

// ExtractRefs walks an attribute value and collects every reference in it,
// descending into nested maps and lists.
func ExtractRefs(v any) []Reference {
	var refs []Reference
	switch val := v.(type) {
	case string:
		if ref, ok := ParseRef(val); ok {
			refs = append(refs, ref)
		}
	case map[string]any:
		for _, elem := range val {
			refs = append(refs, ExtractRefs(elem)...)
		}
	case []any:
		for _, elem := range val {
			refs = append(refs, ExtractRefs(elem)...)
		}
	}
	return refs
}

// References returns every reference declared by the spec's attributes.
func (s *ResourceSpec) References() []Reference {
	return ExtractRefs(s.Attrs)
}

// IdempotencyToken returns the deterministic token used to tag created
// resources so that a retried create after an ambiguous timeout can adopt
// the already-created resource instead of producing a duplicate.
func (s *ResourceSpec) IdempotencyToken() string {
	return fmt.Sprintf("stratus:%s", s.Name)
}
