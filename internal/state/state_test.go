package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
)

func tempManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), ".stratus", "state.json"))
}

func TestManager_ReadMissingFileReturnsFreshState(t *testing.T) {
	mgr := tempManager(t)

	s, err := mgr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 0, s.Serial)
	assert.NotEmpty(t, s.Lineage)
	assert.Empty(t, s.Resources)
}

func TestManager_WriteReadRoundTrip(t *testing.T) {
	mgr := tempManager(t)
	ctx := context.Background()

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	s.Put(&ir.ResourceState{
		Name:         "vpc",
		Kind:         ir.KindNetwork,
		Provider:     "aws",
		Identity:     "vpc-123",
		Attrs:        map[string]any{"cidr_block": "10.0.0.0/16"},
		Outputs:      map[string]any{"id": "vpc-123"},
		Status:       ir.StatusCreated,
		Dependencies: []string{},
	})
	require.NoError(t, mgr.Write(ctx, s))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Lineage, got.Lineage)
	assert.Equal(t, 1, got.Serial)

	res := got.Resource("vpc")
	require.NotNil(t, res)
	assert.Equal(t, "vpc-123", res.Identity)
	assert.Equal(t, "10.0.0.0/16", res.Attrs["cidr_block"])
	assert.Equal(t, ir.StatusCreated, res.Status)
}

func TestManager_WriteRefusesLineageMismatch(t *testing.T) {
	mgr := tempManager(t)
	ctx := context.Background()

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	s.Put(&ir.ResourceState{Name: "vpc", Kind: ir.KindNetwork, Provider: "aws", Identity: "vpc-123"})
	require.NoError(t, mgr.Write(ctx, s))

	other := newState()
	other.Put(&ir.ResourceState{Name: "vpc", Kind: ir.KindNetwork, Provider: "aws", Identity: "vpc-999"})
	err = mgr.Write(ctx, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lineage mismatch")

	// The file keeps the original run.
	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Lineage, got.Lineage)
	assert.Equal(t, "vpc-123", got.Resource("vpc").Identity)
}

func TestManager_WriteOverEmptyStateAllowsNewLineage(t *testing.T) {
	mgr := tempManager(t)
	ctx := context.Background()

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(ctx, s))

	// An empty state file holds no resources, so a fresh lineage may claim it.
	require.NoError(t, mgr.Write(ctx, newState()))
}

func TestManager_SerialIncrementsPerWrite(t *testing.T) {
	mgr := tempManager(t)
	ctx := context.Background()

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(ctx, s))
	require.NoError(t, mgr.Write(ctx, s))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Serial)
}

func TestManager_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{ truncated"), 0644))

	_, err := NewManager(path).Read(context.Background())
	require.Error(t, err)
	var corrupt *ir.StateCorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, path, corrupt.Path)
}

func TestManager_MissingLineageIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"serial":3}`), 0644))

	_, err := NewManager(path).Read(context.Background())
	var corrupt *ir.StateCorruptionError
	require.ErrorAs(t, err, &corrupt)
}

func TestManager_WriteIsAtomic(t *testing.T) {
	mgr := tempManager(t)
	ctx := context.Background()

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(ctx, s))

	// No temp files left behind next to the state file.
	entries, err := os.ReadDir(filepath.Dir(mgr.path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestManager_LockContention(t *testing.T) {
	mgr := tempManager(t)

	require.NoError(t, mgr.Lock())

	err := mgr.Lock()
	require.Error(t, err)
	var contention *ir.LockContentionError
	require.ErrorAs(t, err, &contention)
	assert.Contains(t, contention.Holder, "pid=")

	require.NoError(t, mgr.Unlock())
	require.NoError(t, mgr.Lock())
	require.NoError(t, mgr.Unlock())
}

func TestManager_UnlockWithoutLock(t *testing.T) {
	mgr := tempManager(t)
	assert.NoError(t, mgr.Unlock())
}

func TestNewBackend(t *testing.T) {
	backend, err := NewBackend(&BackendConfig{
		Type:   "local",
		Config: map[string]string{"path": filepath.Join(t.TempDir(), "state.json")},
	})
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, backend)

	_, err = NewBackend(&BackendConfig{Type: "local"})
	assert.Error(t, err)

	_, err = NewBackend(&BackendConfig{Type: "etcd"})
	assert.Error(t, err)

	_, err = NewBackend(nil)
	assert.Error(t, err)
}
