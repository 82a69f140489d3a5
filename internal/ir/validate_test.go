package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNetwork(name string) *ResourceSpec {
	return &ResourceSpec{
		Kind:     KindNetwork,
		Name:     name,
		Provider: "aws",
		Attrs:    map[string]any{"cidr_block": "10.0.0.0/16"},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate(validNetwork("vpc")))

	assert.NoError(t, Validate(&ResourceSpec{
		Kind: KindSubnet,
		Name: "subnet-a",
		Attrs: map[string]any{
			"vpc_id":     "ref://vpc/id",
			"cidr_block": "10.0.1.0/24",
		},
	}))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		spec   *ResourceSpec
		reason string
	}{
		{
			name:   "missing name",
			spec:   &ResourceSpec{Kind: KindNetwork, Attrs: map[string]any{"cidr_block": "10.0.0.0/16"}},
			reason: "logical name is required",
		},
		{
			name:   "unknown kind",
			spec:   &ResourceSpec{Kind: "volcano", Name: "v", Attrs: map[string]any{}},
			reason: "unknown resource kind",
		},
		{
			name:   "missing required attribute",
			spec:   &ResourceSpec{Kind: KindNetwork, Name: "vpc", Attrs: map[string]any{}},
			reason: "required attribute is missing",
		},
		{
			name: "malformed cidr",
			spec: &ResourceSpec{Kind: KindNetwork, Name: "vpc",
				Attrs: map[string]any{"cidr_block": "10.0.0.0/33"}},
			reason: "invalid CIDR block",
		},
		{
			name: "port out of range",
			spec: &ResourceSpec{Kind: KindTargetGroup, Name: "tg",
				Attrs: map[string]any{"vpc_id": "ref://vpc/id", "port": float64(70000), "protocol": "HTTP"}},
			reason: "out of range",
		},
		{
			name: "fractional port",
			spec: &ResourceSpec{Kind: KindTargetGroup, Name: "tg",
				Attrs: map[string]any{"vpc_id": "ref://vpc/id", "port": 80.5, "protocol": "HTTP"}},
			reason: "port must be an integer",
		},
		{
			name: "bad protocol",
			spec: &ResourceSpec{Kind: KindTargetGroup, Name: "tg",
				Attrs: map[string]any{"vpc_id": "ref://vpc/id", "port": 80, "protocol": "carrier-pigeon"}},
			reason: "protocol",
		},
		{
			name: "negative desired count",
			spec: &ResourceSpec{Kind: KindService, Name: "svc",
				Attrs: map[string]any{
					"cluster": "c", "task_definition": "td", "desired_count": -1,
					"subnets": []any{"s"}, "security_groups": []any{"sg"},
				}},
			reason: "desired_count",
		},
		{
			name: "policy not json",
			spec: &ResourceSpec{Kind: KindRole, Name: "role",
				Attrs: map[string]any{"assume_role_policy": "{not json"}},
			reason: "valid JSON",
		},
		{
			name: "inverted port range",
			spec: &ResourceSpec{Kind: KindSecurityGroup, Name: "sg",
				Attrs: map[string]any{
					"vpc_id": "ref://vpc/id", "description": "web",
					"ingress": []any{map[string]any{
						"protocol": "tcp", "from_port": 443, "to_port": 80,
					}},
				}},
			reason: "from_port must not exceed to_port",
		},
		{
			name: "empty subnets",
			spec: &ResourceSpec{Kind: KindLoadBalancer, Name: "alb",
				Attrs: map[string]any{"subnets": []any{}, "security_groups": []any{"sg"}}},
			reason: "non-empty list",
		},
		{
			name: "container without image",
			spec: &ResourceSpec{Kind: KindTaskDefinition, Name: "td",
				Attrs: map[string]any{
					"family": "web", "cpu": "256", "memory": "512",
					"container_definitions": []any{map[string]any{"name": "app"}},
				}},
			reason: "missing an image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestValidate_AllTrafficRuleSkipsPorts(t *testing.T) {
	spec := &ResourceSpec{
		Kind: KindSecurityGroup,
		Name: "sg",
		Attrs: map[string]any{
			"vpc_id":      "ref://vpc/id",
			"description": "egress all",
			"egress": []any{map[string]any{
				"protocol":    "-1",
				"cidr_blocks": []any{"0.0.0.0/0"},
			}},
		},
	}
	assert.NoError(t, Validate(spec))
}

func TestValidate_ReferenceSkipsLiteralChecks(t *testing.T) {
	// A reference-valued attribute cannot be checked until convergence.
	spec := &ResourceSpec{
		Kind: KindListener,
		Name: "http",
		Attrs: map[string]any{
			"load_balancer_arn": "ref://alb/arn",
			"target_group_arn":  "ref://tg/arn",
			"port":              80,
			"protocol":          "HTTP",
		},
	}
	assert.NoError(t, Validate(spec))
}

func TestValidateAll_DuplicateName(t *testing.T) {
	err := ValidateAll([]*ResourceSpec{validNetwork("vpc"), validNetwork("vpc")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate logical name")
}
