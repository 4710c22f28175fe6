// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWriteRelease(t *testing.T) {
	m := NewManager(t.TempDir())
	ctx := context.Background()

	ws, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.DirExists(t, ws.Dir)
	assert.Equal(t, ws.Dir, filepath.Dir(ws.ShipPath()))

	require.NoError(t, ws.WriteArtifact(ShipArtifact, []byte("length_m=100\n")))
	data, err := os.ReadFile(ws.ShipPath())
	require.NoError(t, err)
	assert.Equal(t, "length_m=100\n", string(data))

	m.Release(ctx, ws)
	assert.NoDirExists(t, ws.Dir)

	// Second release is a no-op.
	m.Release(ctx, ws)
	m.Release(ctx, nil)
}

func TestWriteArtifactRejectsPaths(t *testing.T) {
	m := NewManager(t.TempDir())
	ws, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer m.Release(context.Background(), ws)

	assert.Error(t, ws.WriteArtifact("../escape", []byte("x")))
	assert.Error(t, ws.WriteArtifact("", []byte("x")))
}

func TestConcurrentAcquireNeverCollides(t *testing.T) {
	m := NewManager(t.TempDir())
	const n = 64

	var (
		mu   sync.Mutex
		dirs = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := m.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			dirs[ws.Dir] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, dirs, n)
}

func TestAcquireFailsWithResourceExhausted(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing", "root"))
	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
}

func TestAcquireHonoursCanceledContext(t *testing.T) {
	m := NewManager(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepRemovesOnlyStaleOwnedDirs(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	stale, err := m.Acquire(context.Background())
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir, old, old))

	fresh, err := m.Acquire(context.Background())
	require.NoError(t, err)

	foreign := filepath.Join(root, "not-ours")
	require.NoError(t, os.Mkdir(foreign, 0o700))
	require.NoError(t, os.Chtimes(foreign, old, old))

	removed, err := m.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, stale.Dir)
	assert.DirExists(t, fresh.Dir)
	assert.DirExists(t, foreign)
}
