package mem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
)

func TestProvider_Lifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()

	identity, produced, err := p.Create(ctx, ir.KindNetwork, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"})
	require.NoError(t, err)
	assert.NotEmpty(t, identity)
	assert.Equal(t, identity, produced["id"])
	assert.Equal(t, "arn:mem:network/vpc", produced["arn"])
	assert.True(t, p.Has("vpc"))

	attrs, found, err := p.Read(ctx, ir.KindNetwork, identity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "10.0.0.0/16", attrs["cidr_block"])

	_, err = p.Update(ctx, ir.KindNetwork, identity, map[string]any{"cidr_block": "10.0.0.0/16", "enable_dns_hostnames": true})
	require.NoError(t, err)
	attrs, found, err = p.Read(ctx, ir.KindNetwork, identity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, true, attrs["enable_dns_hostnames"])

	require.NoError(t, p.Delete(ctx, ir.KindNetwork, identity))
	_, found, err = p.Read(ctx, ir.KindNetwork, identity)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, p.Has("vpc"))
	assert.Zero(t, p.Len())
}

func TestProvider_CreateAdoptsByToken(t *testing.T) {
	p := New()
	ctx := context.Background()

	first, _, err := p.Create(ctx, ir.KindCluster, "web", nil)
	require.NoError(t, err)

	// A retried create for the same logical name returns the existing
	// resource instead of duplicating it.
	second, _, err := p.Create(ctx, ir.KindCluster, "web", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 2, p.Calls("create", "web"))
}

func TestProvider_FailureInjection(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.FailOn("create", "vpc", 2, true)

	_, _, err := p.Create(ctx, ir.KindNetwork, "vpc", nil)
	require.Error(t, err)
	var applyErr *ir.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.True(t, applyErr.Transient)

	_, _, err = p.Create(ctx, ir.KindNetwork, "vpc", nil)
	require.Error(t, err)

	// Script exhausted; third call succeeds.
	_, _, err = p.Create(ctx, ir.KindNetwork, "vpc", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Calls("create", "vpc"))
}

func TestProvider_DeleteAbsentIsNoop(t *testing.T) {
	p := New()
	assert.NoError(t, p.Delete(context.Background(), ir.KindNetwork, "mem-ghost-1"))
}

func TestProvider_UpdateMissing(t *testing.T) {
	p := New()
	_, err := p.Update(context.Background(), ir.KindNetwork, "mem-ghost-1", nil)
	require.Error(t, err)
}

func TestProvider_ImmutableFields(t *testing.T) {
	p := New()
	assert.Empty(t, p.ImmutableFields(ir.KindNetwork))

	p.SetImmutable(ir.KindNetwork, "cidr_block")
	assert.Equal(t, []string{"cidr_block"}, p.ImmutableFields(ir.KindNetwork))
}
