package ir

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// Per-kind required attributes. A required attribute may be satisfied by a
// literal or by a reference; references are checked later by the graph
// builder, not here.
var requiredAttrs = map[Kind][]string{
	KindNetwork:          {"cidr_block"},
	KindSubnet:           {"vpc_id", "cidr_block"},
	KindGateway:          {"vpc_id"},
	KindRouteTable:       {"vpc_id"},
	KindAssociation:      {"subnet_id", "route_table_id"},
	KindLoadBalancer:     {"subnets", "security_groups"},
	KindTargetGroup:      {"vpc_id", "port", "protocol"},
	KindListener:         {"load_balancer_arn", "target_group_arn", "port", "protocol"},
	KindCluster:          {},
	KindTaskDefinition:   {"family", "cpu", "memory", "container_definitions"},
	KindService:          {"cluster", "task_definition", "desired_count", "subnets", "security_groups"},
	KindSecurityGroup:    {"vpc_id", "description"},
	KindRole:             {"assume_role_policy"},
	KindPolicyAttachment: {"role", "policy_arn"},
}

var validProtocols = map[string]bool{
	"tcp": true, "udp": true, "icmp": true, "-1": true,
	"HTTP": true, "HTTPS": true, "TCP": true, "UDP": true,
}

// Validate checks a spec's declared literals against per-kind rules.
// It is side-effect free and reports the first violation found; a spec is
// never partially validated. Reference-valued attributes are skipped here
// and resolved during convergence.
func Validate(spec *ResourceSpec) error {
	if spec.Name == "" {
		return &ValidationError{Kind: spec.Kind, Name: spec.Name, Field: "name", Reason: "logical name is required"}
	}
	if !KnownKind(spec.Kind) {
		return &ValidationError{Kind: spec.Kind, Name: spec.Name, Field: "kind", Reason: fmt.Sprintf("unknown resource kind %q", spec.Kind)}
	}

	for _, field := range requiredAttrs[spec.Kind] {
		if _, ok := spec.Attrs[field]; !ok {
			return &ValidationError{Kind: spec.Kind, Name: spec.Name, Field: field, Reason: "required attribute is missing"}
		}
	}

	for field, value := range spec.Attrs {
		if _, isRef := ParseRef(value); isRef {
			continue
		}
		if err := validateLiteral(spec, field, value); err != nil {
			return err
		}
	}

	return nil
}

// ValidateAll validates every spec and checks logical name uniqueness.
func ValidateAll(specs []*ResourceSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := Validate(spec); err != nil {
			return err
		}
		if seen[spec.Name] {
			return &ValidationError{Kind: spec.Kind, Name: spec.Name, Field: "name", Reason: "duplicate logical name"}
		}
		seen[spec.Name] = true
	}
	return nil
}

func validateLiteral(spec *ResourceSpec, field string, value any) error {
	fail := func(reason string) error {
		return &ValidationError{Kind: spec.Kind, Name: spec.Name, Field: field, Reason: reason}
	}

	switch field {
	case "cidr_block", "destination_cidr_block":
		s, ok := value.(string)
		if !ok {
			return fail("CIDR block must be a string")
		}
		if _, err := netip.ParsePrefix(s); err != nil {
			return fail(fmt.Sprintf("invalid CIDR block %q", s))
		}
	case "port", "container_port", "host_port", "from_port", "to_port":
		n, ok := intValue(value)
		if !ok {
			return fail("port must be an integer")
		}
		if n < 1 || n > 65535 {
			return fail(fmt.Sprintf("port %d out of range 1-65535", n))
		}
	case "protocol", "ip_protocol":
		s, ok := value.(string)
		if !ok || !validProtocols[s] {
			return fail(fmt.Sprintf("protocol %v is not one of tcp, udp, icmp, -1, HTTP, HTTPS", value))
		}
	case "desired_count":
		n, ok := intValue(value)
		if !ok || n < 0 {
			return fail("desired_count must be a non-negative integer")
		}
	case "assume_role_policy", "policy":
		s, ok := value.(string)
		if !ok || !json.Valid([]byte(s)) {
			return fail("policy document must be a valid JSON string")
		}
	case "ingress", "egress":
		rules, ok := value.([]any)
		if !ok {
			return fail("rules must be a list")
		}
		for i, r := range rules {
			rule, ok := r.(map[string]any)
			if !ok {
				return fail(fmt.Sprintf("rule %d must be an object", i))
			}
			if err := validateRule(spec, field, i, rule); err != nil {
				return err
			}
		}
	case "container_definitions":
		defs, ok := value.([]any)
		if !ok || len(defs) == 0 {
			return fail("at least one container definition is required")
		}
		for i, d := range defs {
			def, ok := d.(map[string]any)
			if !ok {
				return fail(fmt.Sprintf("container definition %d must be an object", i))
			}
			if img, _ := def["image"].(string); img == "" {
				return fail(fmt.Sprintf("container definition %d is missing an image", i))
			}
		}
	case "subnets", "security_groups":
		elems, ok := value.([]any)
		if !ok || len(elems) == 0 {
			return fail("must be a non-empty list")
		}
	}

	return nil
}

func validateRule(spec *ResourceSpec, field string, idx int, rule map[string]any) error {
	fail := func(reason string) error {
		return &ValidationError{
			Kind: spec.Kind, Name: spec.Name,
			Field:  fmt.Sprintf("%s[%d]", field, idx),
			Reason: reason,
		}
	}

	from, okFrom := intValue(rule["from_port"])
	to, okTo := intValue(rule["to_port"])
	proto, _ := rule["protocol"].(string)

	if proto == "" || !validProtocols[proto] {
		return fail(fmt.Sprintf("protocol %v is not one of tcp, udp, icmp, -1", rule["protocol"]))
	}
	// Protocol -1 (all traffic) uses port 0 on both ends.
	if proto != "-1" {
		if !okFrom || !okTo || from < 1 || from > 65535 || to < 1 || to > 65535 {
			return fail("from_port and to_port must be integers in 1-65535")
		}
		if from > to {
			return fail("from_port must not exceed to_port")
		}
	}
	if cidrs, ok := rule["cidr_blocks"].([]any); ok {
		for _, c := range cidrs {
			s, ok := c.(string)
			if !ok {
				return fail("cidr_blocks entries must be strings")
			}
			if _, err := netip.ParsePrefix(s); err != nil {
				return fail(fmt.Sprintf("invalid CIDR block %q", s))
			}
		}
	}
	return nil
}

// intValue coerces JSON numbers (float64) and native ints.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
