package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stratus-io/stratus/internal/ir"
)

// staleLockAge is how old a lock file must be before it is presumed
// abandoned by a crashed run.
const staleLockAge = 10 * time.Minute

// Lock acquires the exclusive state lock for the duration of a run.
// Contention surfaces immediately as a LockContentionError; the caller
// decides whether to retry, never this layer.
func (m *Manager) Lock() error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		} else {
			holder, _ := os.ReadFile(lockPath)
			return &ir.LockContentionError{Holder: string(holder)}
		}
	}

	content := fmt.Sprintf("pid=%d time=%s", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(lockPath)
			return &ir.LockContentionError{Holder: string(holder)}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Unlock releases the state lock.
func (m *Manager) Unlock() error {
	if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}
