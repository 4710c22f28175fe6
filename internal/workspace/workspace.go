// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package workspace allocates the private scratch directories that hold one
// dispatch's solver artifacts.
//
// Directory names carry a random UUID, so concurrent dispatches never collide
// and the manager needs neither locks nor cross-call state.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/metrics"
)

const (
	// DirPrefix marks directories owned by the manager; Sweep only touches these.
	DirPrefix = "cf-"

	// ShipArtifact and CargoArtifact are the two files the solver reads.
	ShipArtifact  = "ship.cfg"
	CargoArtifact = "cargo.txt"
)

// ErrResourceExhausted is returned when scratch storage cannot be allocated.
// It is transient and safe to retry.
var ErrResourceExhausted = errors.New("workspace: scratch storage exhausted")

// Manager creates and removes workspaces below Root.
type Manager struct {
	Root string
}

// NewManager returns a manager rooted at root; an empty root means os.TempDir().
func NewManager(root string) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{Root: root}
}

// Workspace is a directory exclusively owned by one in-flight dispatch.
type Workspace struct {
	Dir      string
	released atomic.Bool
}

// ShipPath is the location of the ship descriptor artifact.
func (w *Workspace) ShipPath() string { return filepath.Join(w.Dir, ShipArtifact) }

// CargoPath is the location of the cargo manifest artifact.
func (w *Workspace) CargoPath() string { return filepath.Join(w.Dir, CargoArtifact) }

// WriteArtifact atomically writes one artifact into the workspace.
func (w *Workspace) WriteArtifact(name string, data []byte) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("workspace: invalid artifact name %q", name)
	}
	if err := renameio.WriteFile(filepath.Join(w.Dir, name), data, 0o600); err != nil {
		return fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return nil
}

// Acquire creates a fresh, uniquely named workspace directory.
func (m *Manager) Acquire(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(m.Root, DirPrefix+strings.ReplaceAll(uuid.NewString(), "-", ""))
	// Mkdir (not MkdirAll) fails on an existing name instead of sharing it.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return &Workspace{Dir: dir}, nil
}

// Release removes the workspace. It is idempotent and never returns an error:
// a failed removal is logged and left to Sweep.
func (m *Manager) Release(ctx context.Context, ws *Workspace) {
	if ws == nil || !ws.released.CompareAndSwap(false, true) {
		return
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		metrics.IncWorkspaceCleanupFailure()
		logger := log.WithComponentFromContext(ctx, "workspace")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "workspace.cleanup_failed").
			Str(log.FieldPath, ws.Dir).
			Msg("failed to remove workspace, leaving it for the sweeper")
	}
}

// Sweep removes manager-owned directories whose modification time is older
// than maxAge. It returns the number of directories removed.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		return 0, fmt.Errorf("workspace: read root: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, "workspace")
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), DirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.Root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("sweep: remove failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().
			Str(log.FieldEvent, "workspace.swept").
			Int("removed", removed).
			Msg("removed stale workspaces")
	}
	return removed, nil
}
