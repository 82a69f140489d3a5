package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
)

const sampleDeclaration = `{
  "resources": [
    {
      "kind": "network",
      "name": "vpc",
      "attrs": {"cidr_block": "10.0.0.0/16"},
      "tags": {"env": "prod"}
    },
    {
      "kind": "subnet",
      "name": "subnet-a",
      "provider": "aws",
      "dependsOn": ["vpc"],
      "attrs": {"vpc_id": "ref://vpc/id", "cidr_block": "10.0.1.0/24"}
    },
    {
      "kind": "cluster",
      "name": "cluster"
    }
  ]
}`

func TestParse(t *testing.T) {
	specs, err := Parse([]byte(sampleDeclaration))
	require.NoError(t, err)
	require.Len(t, specs, 3)

	vpc := specs[0]
	assert.Equal(t, ir.KindNetwork, vpc.Kind)
	assert.Equal(t, "vpc", vpc.Name)
	assert.Equal(t, DefaultProvider, vpc.Provider)
	assert.Equal(t, "10.0.0.0/16", vpc.Attrs["cidr_block"])

	// Declared tags are folded into the attribute map.
	tags, ok := vpc.Attrs["tags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "prod", tags["env"])

	subnet := specs[1]
	assert.Equal(t, []string{"vpc"}, subnet.DependsOn)

	// Omitted attrs default to an empty map, not nil.
	cluster := specs[2]
	require.NotNil(t, cluster.Attrs)
	assert.Empty(t, cluster.Attrs)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"resources": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode declaration")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stratus.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDeclaration), 0644))

	specs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, specs, 3)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
