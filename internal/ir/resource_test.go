package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	ref, ok := ParseRef("ref://vpc/id")
	require.True(t, ok)
	assert.Equal(t, "vpc", ref.Target)
	assert.Equal(t, "id", ref.Attr)

	ref, ok = ParseRef("ref://alb/dns_name")
	require.True(t, ok)
	assert.Equal(t, "alb", ref.Target)
	assert.Equal(t, "dns_name", ref.Attr)
}

func TestParseRef_Literals(t *testing.T) {
	for _, v := range []any{
		"10.0.0.0/16",
		"vpc-12345",
		"ref://",        // no target
		"ref://vpc",     // no attribute
		"ref://vpc/",    // empty attribute
		42,
		nil,
		true,
	} {
		_, ok := ParseRef(v)
		assert.False(t, ok, "value %v should not parse as a reference", v)
	}
}

func TestReference_String(t *testing.T) {
	ref := Reference{Target: "vpc", Attr: "id"}
	assert.Equal(t, "ref://vpc/id", ref.String())
}

func TestExtractRefs_Nested(t *testing.T) {
	attrs := map[string]any{
		"vpc_id": "ref://vpc/id",
		"routes": []any{
			map[string]any{
				"destination_cidr_block": "0.0.0.0/0",
				"gateway_id":             "ref://igw/id",
			},
		},
		"cidr_block": "10.0.1.0/24",
	}

	refs := ExtractRefs(attrs)
	require.Len(t, refs, 2)

	targets := map[string]bool{}
	for _, r := range refs {
		targets[r.Target] = true
	}
	assert.True(t, targets["vpc"])
	assert.True(t, targets["igw"])
}

func TestReferences_IncludesOnlyAttrRefs(t *testing.T) {
	spec := &ResourceSpec{
		Kind: KindSubnet,
		Name: "subnet-a",
		Attrs: map[string]any{
			"vpc_id":     "ref://vpc/id",
			"cidr_block": "10.0.1.0/24",
		},
		DependsOn: []string{"igw"},
	}

	refs := spec.References()
	require.Len(t, refs, 1)
	assert.Equal(t, "vpc", refs[0].Target)
}

func TestIdempotencyToken(t *testing.T) {
	spec := &ResourceSpec{Kind: KindNetwork, Name: "prod-vpc"}
	assert.Equal(t, "stratus:prod-vpc", spec.IdempotencyToken())
}
