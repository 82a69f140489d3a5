package state

import (
	"context"
	"fmt"

	"github.com/stratus-io/stratus/internal/ir"
)

// Backend is durable state persistence with an exclusive lock held around a
// full plan run.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewManager(path), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
