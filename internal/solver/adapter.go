// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package solver runs the external placement engine as a time-bounded
// subprocess and classifies what it produced.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/cargoforge/internal/cargo"
	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/metrics"
	"github.com/ManuGH/cargoforge/internal/procgroup"
	"github.com/ManuGH/cargoforge/internal/workspace"
)

const (
	// DefaultTimeout is the wall-clock bound for one solver run.
	DefaultTimeout = 30 * time.Second
	// DefaultKillGrace is the SIGTERM to SIGKILL escalation delay.
	DefaultKillGrace = 2 * time.Second

	stderrLines    = 256
	maxStdoutBytes = 16 << 20
	maxRawExcerpt  = 4096
)

// DefaultArgs is the argument template; {ship} and {cargo} are replaced with
// the artifact paths.
var DefaultArgs = []string{"optimize", "{ship}", "{cargo}", "--format=json"}

// Invoker runs the solver for one request inside ws.
type Invoker interface {
	Invoke(ctx context.Context, ws *workspace.Workspace, req cargo.Request, timeout time.Duration) (Outcome, error)
}

// Adapter invokes the solver binary.
type Adapter struct {
	BinPath   string
	Args      []string
	KillGrace time.Duration
}

// NewAdapter creates an adapter for binPath with the default argument template.
func NewAdapter(binPath string, args []string, killGrace time.Duration) *Adapter {
	if binPath == "" {
		binPath = "cargoforge"
	}
	if len(args) == 0 {
		args = DefaultArgs
	}
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &Adapter{BinPath: binPath, Args: args, KillGrace: killGrace}
}

// Invoke serializes req into ws, runs the solver and classifies the result.
//
// The returned error is non-nil only when the artifacts could not be written;
// every condition after that is expressed as an Outcome. Classification order:
// timeout, caller cancellation, non-zero exit, missing payload, parse failure,
// success. A timeout always preempts parsing, and the process group is reaped
// before Invoke returns.
func (a *Adapter) Invoke(ctx context.Context, ws *workspace.Workspace, req cargo.Request, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := ws.WriteArtifact(workspace.ShipArtifact, EncodeShip(req.Ship)); err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrResourceExhausted, err)
	}
	if err := ws.WriteArtifact(workspace.CargoArtifact, EncodeCargo(req.Items)); err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrResourceExhausted, err)
	}

	logger := log.WithComponentFromContext(ctx, "solver")

	// #nosec G204 - binary comes from configuration; arguments are artifact paths we created
	cmd := exec.Command(a.BinPath, a.args(ws)...)
	cmd.Dir = ws.Dir
	procgroup.Set(cmd)

	stdout := &cappedBuffer{limit: maxStdoutBytes}
	stderr := NewLineRing(stderrLines)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Bounds Wait if a leaked grandchild keeps the pipes open.
	cmd.WaitDelay = a.KillGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Str("bin", a.BinPath).Msg("failed to start solver")
		return SolverFailed{base: base{}, ExitCode: -1, Err: err.Error()}, nil
	}
	done := metrics.SolverStarted()
	defer done()

	// The solver leads its own group, so the group id is its pid.
	pgid := cmd.Process.Pid
	logger.Debug().Int(log.FieldPID, pgid).Dur("timeout", timeout).Msg("solver started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-waitCh:
		// Children the solver left behind must not outlive the dispatch.
		if err := procgroup.KillGroup(pgid, syscall.SIGKILL); err != nil {
			logger.Warn().Err(err).Int(log.FieldPID, pgid).Msg("failed to kill leftover solver processes")
		}
	case <-timer.C:
		_ = procgroup.Terminate(cmd, waitCh, a.KillGrace)
		elapsed := time.Since(start)
		logger.Warn().
			Str(log.FieldEvent, "solver.timeout").
			Dur("timeout", timeout).
			Msg("solver exceeded time limit, process group terminated")
		return Timeout{base: base{elapsed}, Limit: timeout}, nil
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, a.KillGrace)
		logger.Info().
			Str(log.FieldEvent, "solver.canceled").
			Err(ctx.Err()).
			Msg("dispatch canceled, process group terminated")
		return Canceled{base: base{time.Since(start)}, Cause: ctx.Err()}, nil
	}
	elapsed := time.Since(start)

	return classify(waitErr, cmd.ProcessState, stdout.Bytes(), stderr.Lines(), elapsed), nil
}

// classify maps a finished (not timed out) run to an Outcome. The exit status
// decides success; exec.ErrWaitDelay only means a leftover child held the
// output pipes open after the solver itself exited.
func classify(waitErr error, state *os.ProcessState, stdout []byte, diagnostics []string, elapsed time.Duration) Outcome {
	b := base{elapsed}
	exitedCleanly := state != nil && state.Success() &&
		(waitErr == nil || errors.Is(waitErr, exec.ErrWaitDelay))
	if !exitedCleanly {
		code := -1
		if state != nil {
			code = state.ExitCode()
		}
		msg := "solver did not exit cleanly"
		if waitErr != nil {
			msg = waitErr.Error()
		}
		return SolverFailed{base: b, ExitCode: code, Stderr: diagnostics, Err: msg}
	}

	payload, ok := ExtractPayload(stdout)
	if !ok {
		return MalformedOutput{base: b, Raw: excerpt(stdout), Reason: "no result marker in output"}
	}
	plan, err := ParsePlan(payload)
	if err != nil {
		return MalformedOutput{base: b, Raw: excerpt(stdout), Reason: err.Error()}
	}
	return Success{base: b, Plan: plan, Warnings: diagnostics}
}

func (a *Adapter) args(ws *workspace.Workspace) []string {
	out := make([]string, len(a.Args))
	r := strings.NewReplacer("{ship}", ws.ShipPath(), "{cargo}", ws.CargoPath())
	for i, arg := range a.Args {
		out[i] = r.Replace(arg)
	}
	return out
}

func excerpt(b []byte) string {
	if len(b) > maxRawExcerpt {
		return string(b[:maxRawExcerpt]) + "..."
	}
	return string(b)
}

// cappedBuffer stores at most limit bytes and silently drops the rest, so a
// runaway solver cannot exhaust memory. Truncated output fails to parse.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }
