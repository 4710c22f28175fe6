// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package solver

import (
	"fmt"
	"time"
)

// Kind names an outcome variant. The values double as metric labels.
type Kind string

const (
	KindSuccess         Kind = "success"
	KindSolverFailed    Kind = "solver_failed"
	KindTimeout         Kind = "timeout"
	KindMalformedOutput Kind = "malformed_output"
	KindCanceled        Kind = "canceled"
)

// Outcome is the result of one solver invocation. The set of implementations
// is closed; switch on the concrete type or on Kind.
type Outcome interface {
	Kind() Kind
	// Elapsed is the wall-clock time the subprocess ran.
	Elapsed() time.Duration
	outcome()
}

type base struct {
	elapsed time.Duration
}

func (b base) Elapsed() time.Duration { return b.elapsed }
func (base) outcome()                 {}

// Success carries the parsed plan and any diagnostic lines the solver wrote.
type Success struct {
	base
	Plan     *Plan
	Warnings []string
}

func (Success) Kind() Kind { return KindSuccess }

// SolverFailed reports a non-zero exit. ExitCode is -1 when the process could
// not be started or was killed by a foreign signal.
type SolverFailed struct {
	base
	ExitCode int
	Stderr   []string
	Err      string
}

func (SolverFailed) Kind() Kind { return KindSolverFailed }

func (f SolverFailed) String() string {
	return fmt.Sprintf("solver exited with code %d: %s", f.ExitCode, f.Err)
}

// Timeout reports that the solver did not exit within the bound and was killed.
type Timeout struct {
	base
	Limit time.Duration
}

func (Timeout) Kind() Kind { return KindTimeout }

// MalformedOutput reports a zero exit without a parseable result.
type MalformedOutput struct {
	base
	Raw    string
	Reason string
}

func (MalformedOutput) Kind() Kind { return KindMalformedOutput }

// Canceled reports that the caller abandoned the dispatch and the solver was killed.
type Canceled struct {
	base
	Cause error
}

func (Canceled) Kind() Kind { return KindCanceled }

// Succeeded reports whether o is a Success.
func Succeeded(o Outcome) bool {
	_, ok := o.(Success)
	return ok
}
