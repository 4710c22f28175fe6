// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

// Package proctest inspects process groups through /proc for tests.
package proctest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// LiveMembers returns the pids in group pgid that are still running.
// Zombies are skipped: a killed child reparented to a PID 1 that never
// reaps stays in state Z but holds no resources.
func LiveMembers(pgid int) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var live []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", e.Name(), "stat"))
		if err != nil {
			// Exited between ReadDir and ReadFile.
			continue
		}
		state, group, ok := parseStat(string(raw))
		if !ok || group != pgid {
			continue
		}
		if state == "Z" || state == "X" {
			continue
		}
		live = append(live, pid)
	}
	return live, nil
}

// parseStat extracts state and pgrp from a /proc/<pid>/stat line. The comm
// field may contain spaces and parentheses, so fields are counted from the
// last ')'.
func parseStat(line string) (state string, pgrp int, ok bool) {
	i := strings.LastIndexByte(line, ')')
	if i < 0 {
		return "", 0, false
	}
	// state ppid pgrp ...
	fields := strings.Fields(line[i+1:])
	if len(fields) < 3 {
		return "", 0, false
	}
	pgrp, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, false
	}
	return fields[0], pgrp, true
}

// RequireGroupGone fails tb unless group pgid has no running member within
// timeout.
func RequireGroupGone(tb testing.TB, pgid int, timeout time.Duration) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		live, err := LiveMembers(pgid)
		if err != nil {
			tb.Fatalf("list process group %d: %v", pgid, err)
		}
		if len(live) == 0 {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("process group %d still has running members %v", pgid, live)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
