package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratus-io/stratus/internal/ir"
)

const testDeclaration = `{
  "resources": [
    {"kind": "network", "name": "vpc", "provider": "mem",
     "attrs": {"cidr_block": "10.0.0.0/16"}},
    {"kind": "subnet", "name": "subnet-a", "provider": "mem",
     "attrs": {"vpc_id": "ref://vpc/id", "cidr_block": "10.0.1.0/24"}}
  ]
}`

func withTestFlags(t *testing.T, declaration string) {
	t.Helper()
	dir := t.TempDir()

	oldConfig, oldState := flagConfig, flagState
	t.Cleanup(func() { flagConfig, flagState = oldConfig, oldState })

	flagConfig = filepath.Join(dir, "stratus.json")
	flagState = filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(flagConfig, []byte(declaration), 0644))
}

func TestRunValidate_OK(t *testing.T) {
	withTestFlags(t, testDeclaration)
	assert.NoError(t, runValidate(validateCmd, nil))
}

func TestRunValidate_BadDeclaration(t *testing.T) {
	withTestFlags(t, `{
  "resources": [
    {"kind": "network", "name": "vpc", "attrs": {"cidr_block": "not-a-cidr"}}
  ]
}`)
	err := runValidate(validateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestRunValidate_Cycle(t *testing.T) {
	withTestFlags(t, `{
  "resources": [
    {"kind": "cluster", "name": "a", "dependsOn": ["b"]},
    {"kind": "cluster", "name": "b", "dependsOn": ["a"]}
  ]
}`)
	err := runValidate(validateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle detected")
}

func TestRunPlan_NewStack(t *testing.T) {
	withTestFlags(t, testDeclaration)
	assert.NoError(t, runPlan(planCmd, nil))
}

func TestRunGraph(t *testing.T) {
	withTestFlags(t, testDeclaration)
	assert.NoError(t, runGraph(graphCmd, nil))
}

func TestRunStateList_Empty(t *testing.T) {
	withTestFlags(t, testDeclaration)
	assert.NoError(t, runStateList(stateListCmd, nil))
}

func TestActionSymbol(t *testing.T) {
	symbol, _ := actionSymbol(ir.ActionCreate)
	assert.Equal(t, "+", symbol)
	symbol, _ = actionSymbol(ir.ActionDelete)
	assert.Equal(t, "-", symbol)
	symbol, _ = actionSymbol(ir.ActionReplace)
	assert.Equal(t, "-/+", symbol)
	symbol, _ = actionSymbol(ir.ActionNoop)
	assert.Equal(t, " ", symbol)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"10.0.0.0/16"`, formatValue("10.0.0.0/16"))
	assert.Equal(t, "2", formatValue(2))
}
