package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stratus-io/stratus/internal/ir"
)

// Manager is the local file state backend. It is the default Backend and
// the sole owner of the persisted ResourceState records.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Read loads the persisted state. A missing file yields a fresh empty
// state with a new lineage; an undecodable file is a StateCorruptionError.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, &ir.StateCorruptionError{Path: m.path, Err: err}
		}
	}

	var state ir.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &ir.StateCorruptionError{Path: m.path, Err: err}
	}
	if state.Lineage == "" {
		return nil, &ir.StateCorruptionError{Path: m.path, Err: fmt.Errorf("missing lineage")}
	}
	return &state, nil
}

// Write persists the full state atomically: the document is written to a
// temp file in the same directory and renamed over the old one, so a failed
// write leaves the previous consistent state intact.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if prior, err := m.Read(ctx); err == nil && len(prior.Resources) > 0 && prior.Lineage != state.Lineage {
		return fmt.Errorf("state lineage mismatch: %s holds lineage %s, refusing to overwrite with lineage %s",
			m.path, prior.Lineage, state.Lineage)
	}

	state.Serial++
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	content = append(content, '\n')

	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".stratus-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

func newState() *ir.State {
	return &ir.State{
		Version: 1,
		Serial:  0,
		Lineage: uuid.NewString(),
	}
}
