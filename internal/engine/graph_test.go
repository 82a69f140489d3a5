package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
)

func spec(kind ir.Kind, name string, attrs map[string]any, deps ...string) *ir.ResourceSpec {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &ir.ResourceSpec{
		Kind:      kind,
		Name:      name,
		Provider:  "mem",
		Attrs:     attrs,
		DependsOn: deps,
	}
}

// webSpecs declares a small web service stack: VPC, two subnets, internet
// gateway, route table, security group, ALB with listener and target
// group, and an ECS cluster/task/service on top.
func webSpecs() []*ir.ResourceSpec {
	return []*ir.ResourceSpec{
		spec(ir.KindNetwork, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"}),
		spec(ir.KindSubnet, "subnet-a", map[string]any{
			"vpc_id": "ref://vpc/id", "cidr_block": "10.0.1.0/24",
		}),
		spec(ir.KindSubnet, "subnet-b", map[string]any{
			"vpc_id": "ref://vpc/id", "cidr_block": "10.0.2.0/24",
		}),
		spec(ir.KindGateway, "igw", map[string]any{"vpc_id": "ref://vpc/id"}),
		spec(ir.KindRouteTable, "rt", map[string]any{
			"vpc_id": "ref://vpc/id",
			"routes": []any{map[string]any{
				"destination_cidr_block": "0.0.0.0/0",
				"gateway_id":             "ref://igw/id",
			}},
		}),
		spec(ir.KindSecurityGroup, "web-sg", map[string]any{
			"vpc_id":      "ref://vpc/id",
			"description": "web traffic",
		}),
		spec(ir.KindLoadBalancer, "alb", map[string]any{
			"subnets":         []any{"ref://subnet-a/id", "ref://subnet-b/id"},
			"security_groups": []any{"ref://web-sg/id"},
		}),
		spec(ir.KindTargetGroup, "tg", map[string]any{
			"vpc_id": "ref://vpc/id", "port": 8080, "protocol": "HTTP",
		}),
		spec(ir.KindListener, "http", map[string]any{
			"load_balancer_arn": "ref://alb/arn",
			"target_group_arn":  "ref://tg/arn",
			"port":              80,
			"protocol":          "HTTP",
		}),
		spec(ir.KindCluster, "cluster", nil),
		spec(ir.KindTaskDefinition, "td", map[string]any{
			"family": "web", "cpu": "256", "memory": "512",
			"container_definitions": []any{map[string]any{"name": "app", "image": "nginx:1.27"}},
		}),
		spec(ir.KindService, "svc", map[string]any{
			"cluster":         "ref://cluster/arn",
			"task_definition": "ref://td/arn",
			"desired_count":   2,
			"subnets":         []any{"ref://subnet-a/id", "ref://subnet-b/id"},
			"security_groups": []any{"ref://web-sg/id"},
		}, "http"),
	}
}

func levelOf(levels [][]string, name string) int {
	for i, level := range levels {
		for _, n := range level {
			if n == name {
				return i
			}
		}
	}
	return -1
}

func TestBuildGraph_WebStackLevels(t *testing.T) {
	graph, err := BuildGraph(webSpecs())
	require.NoError(t, err)

	levels := graph.Levels()

	// Every declared resource appears in exactly one level.
	seen := map[string]int{}
	for _, level := range levels {
		for _, name := range level {
			seen[name]++
		}
	}
	require.Len(t, seen, 12)
	for name, count := range seen {
		assert.Equal(t, 1, count, "node %s scheduled %d times", name, count)
	}

	// Roots have no dependencies.
	assert.Equal(t, 0, levelOf(levels, "vpc"))
	assert.Equal(t, 0, levelOf(levels, "cluster"))
	assert.Equal(t, 0, levelOf(levels, "td"))

	// Direct VPC children sit one level down.
	assert.Equal(t, 1, levelOf(levels, "subnet-a"))
	assert.Equal(t, 1, levelOf(levels, "subnet-b"))
	assert.Equal(t, 1, levelOf(levels, "igw"))
	assert.Equal(t, 1, levelOf(levels, "web-sg"))
	assert.Equal(t, 1, levelOf(levels, "tg"))

	// A node is always scheduled after all of its dependencies.
	for _, name := range graph.Names() {
		for _, dep := range graph.Dependencies(name) {
			assert.Greater(t, levelOf(levels, name), levelOf(levels, dep),
				"%s must run after %s", name, dep)
		}
	}

	// The listener waits for the balancer, the service for the listener.
	assert.Greater(t, levelOf(levels, "http"), levelOf(levels, "alb"))
	assert.Greater(t, levelOf(levels, "svc"), levelOf(levels, "http"))
}

func TestBuildGraph_ImplicitAndExplicitDeps(t *testing.T) {
	graph, err := BuildGraph(webSpecs())
	require.NoError(t, err)

	// Implicit edges from references.
	assert.Contains(t, graph.Dependencies("subnet-a"), "vpc")
	assert.Contains(t, graph.Dependencies("rt"), "igw")

	// Explicit edge from dependsOn.
	assert.Contains(t, graph.Dependencies("svc"), "http")

	// Reverse edges mirror forward edges.
	assert.Contains(t, graph.Dependents("vpc"), "subnet-a")
	assert.Contains(t, graph.Dependents("http"), "svc")
}

func TestBuildGraph_CyclePath(t *testing.T) {
	specs := []*ir.ResourceSpec{
		spec(ir.KindCluster, "a", nil, "c"),
		spec(ir.KindCluster, "b", nil, "a"),
		spec(ir.KindCluster, "c", nil, "b"),
	}

	_, err := BuildGraph(specs)
	require.Error(t, err)

	var cycleErr *ir.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, err.Error(), "dependency cycle detected")

	// The path names the full cycle with the first node repeated last.
	require.GreaterOrEqual(t, len(cycleErr.Path), 4)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Path[:len(cycleErr.Path)-1])
}

func TestBuildGraph_SelfReferenceIsCycle(t *testing.T) {
	_, err := BuildGraph([]*ir.ResourceSpec{
		spec(ir.KindCluster, "a", nil),
		spec(ir.KindCluster, "b", nil, "b", "a"),
	})
	// Self-edges are dropped, so this graph is actually acyclic.
	require.NoError(t, err)
}

func TestBuildGraph_DanglingReference(t *testing.T) {
	specs := []*ir.ResourceSpec{
		spec(ir.KindSubnet, "subnet-a", map[string]any{
			"vpc_id": "ref://missing-vpc/id", "cidr_block": "10.0.1.0/24",
		}),
	}

	_, err := BuildGraph(specs)
	require.Error(t, err)

	var dangling *ir.DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "subnet-a", dangling.Source)
	assert.Equal(t, "missing-vpc", dangling.Target)
}

func TestBuildGraph_DanglingDependsOn(t *testing.T) {
	_, err := BuildGraph([]*ir.ResourceSpec{
		spec(ir.KindCluster, "a", nil, "ghost"),
	})
	var dangling *ir.DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "ghost", dangling.Target)
}

func TestDestroyLevels_ExactReverseOfApply(t *testing.T) {
	graph, err := BuildGraph(webSpecs())
	require.NoError(t, err)

	apply := graph.Levels()
	destroy := graph.DestroyLevels()

	require.Len(t, destroy, len(apply))
	for i := range apply {
		assert.Equal(t, apply[len(apply)-1-i], destroy[i])
	}
}

func TestBuildGraph_Empty(t *testing.T) {
	graph, err := BuildGraph(nil)
	require.NoError(t, err)
	assert.Empty(t, graph.Names())
	assert.Empty(t, graph.Levels())
}
