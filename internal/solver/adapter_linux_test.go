// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package solver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/cargoforge/internal/procgroup/proctest"
	"github.com/ManuGH/cargoforge/internal/solver"
	"github.com/ManuGH/cargoforge/internal/solver/solvertest"
	"github.com/ManuGH/cargoforge/internal/workspace"
)

// invokeScript runs script and also returns the solver's process group id.
func invokeScript(t *testing.T, script string, timeout time.Duration) (solver.Outcome, int) {
	t.Helper()
	m := workspace.NewManager(t.TempDir())
	ws, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer m.Release(context.Background(), ws)

	bin := solvertest.Write(t, script)
	a := solver.NewAdapter(bin, nil, 100*time.Millisecond)
	out, err := a.Invoke(context.Background(), ws, request(), timeout)
	require.NoError(t, err)
	return out, solvertest.ReadPID(t, bin)
}

func TestInvokeCleanExitWithLingeringChild(t *testing.T) {
	out, pgid := invokeScript(t, solvertest.Lingering, 10*time.Second)

	success, ok := out.(solver.Success)
	require.True(t, ok, "expected Success, got %#v", out)
	assert.Empty(t, success.Plan.Cargo)
	assert.Equal(t, "optimal", success.Plan.Analysis.StabilityStatus)

	proctest.RequireGroupGone(t, pgid, 2*time.Second)
}

func TestInvokeTimeoutLeavesNoProcesses(t *testing.T) {
	out, pgid := invokeScript(t, solvertest.Hanging, 300*time.Millisecond)
	require.Equal(t, solver.KindTimeout, out.Kind())

	proctest.RequireGroupGone(t, pgid, 2*time.Second)
}
