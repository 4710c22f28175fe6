// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package solvertest provides fake solver executables for tests. The fakes are
// POSIX shell scripts and honour the default argument template
// (optimize <ship> <cargo> --format=json).
package solvertest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Placing reads the cargo manifest and reports every item as placed. It
// writes a banner line to stdout and a brace-laden diagnostic to stderr
// before the JSON result.
const Placing = `#!/bin/sh
cargo="$3"
[ -r "$2" ] || { echo "missing ship descriptor" >&2; exit 2; }
[ -r "$cargo" ] || { echo "missing cargo manifest" >&2; exit 2; }
echo "CargoForge-C optimizer starting"
echo "note: using {default} lightship" >&2
awk 'BEGIN { n = 0; printf "{\"ship\":{\"length\":100,\"width\":20},\"cargo\":[" }
!/^#/ && NF >= 6 {
  if (n > 0) printf ",";
  printf "{\"id\":\"%s\",\"weight\":%s,\"dimensions\":[%s,%s,%s],\"type\":\"%s\",\"position\":{\"x\":%d,\"y\":0,\"z\":0},\"placed\":true}", $1, $2, $3, $4, $5, $6, n * 10;
  n++
}
END {
  printf "],\"analysis\":{\"placed_count\":%d,\"total_count\":%d,\"total_cargo_weight\":0,\"total_ship_weight\":0,\"capacity_used_percent\":1.5,\"center_of_gravity\":{\"longitudinal_percent\":50,\"transverse_percent\":48},\"metacentric_height\":1.2,\"stability_status\":\"optimal\",\"balance_status\":\"good\",\"overweight\":false}}\n", n, n
}' "$cargo"
`

// PIDFile is written next to the script by fakes that report their pid,
// which is also their process group id.
const PIDFile = "solver.pid"

// Hanging never finishes on its own and forks a child into its process group.
const Hanging = `#!/bin/sh
echo $$ > "$(dirname "$0")/solver.pid"
sleep 30 &
sleep 30
`

// Lingering prints a valid empty result and exits zero, leaving a background
// child that still holds stdout.
const Lingering = `#!/bin/sh
echo $$ > "$(dirname "$0")/solver.pid"
sleep 30 &
printf '{"ship":{"length":100,"width":20},"cargo":[],"analysis":{"placed_count":0,"total_count":0,"stability_status":"optimal","balance_status":"good","overweight":false}}\n'
exit 0
`

// Failing exits non-zero after writing diagnostics.
const Failing = `#!/bin/sh
echo "Error: ship config invalid" >&2
exit 3
`

// Silent exits zero without producing a result.
const Silent = `#!/bin/sh
echo "nothing to report"
`

// Garbled exits zero with a marker but an invalid result structure.
const Garbled = `#!/bin/sh
echo "progress {50%"
`

// Write stores script as an executable file in a fresh temp dir and returns its path.
func Write(tb testing.TB, script string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "fake-solver.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		tb.Fatalf("write fake solver: %v", err)
	}
	return path
}

// ReadPID returns the pid recorded by a fake written with Write to scriptPath.
func ReadPID(tb testing.TB, scriptPath string) int {
	tb.Helper()
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(scriptPath), PIDFile))
	if err != nil {
		tb.Fatalf("read solver pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		tb.Fatalf("parse solver pid %q: %v", raw, err)
	}
	return pid
}
