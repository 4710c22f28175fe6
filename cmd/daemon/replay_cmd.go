// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/config"
	cflog "github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/subscription"
	"github.com/ManuGH/cargoforge/internal/version"
)

const maxReplayLine = 1 << 20

// recordedDelivery is one line of a replay file: the signature header as
// received and the raw payload bytes it covers.
type recordedDelivery struct {
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`
}

func runReplayCLI(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return replayCLI(ctx, args, os.Stdout, os.Stderr)
}

func replayCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cargoforge replay-events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	var resign bool
	var perSecond float64
	fs.StringVar(&file, "config", "", "path to YAML configuration file")
	fs.BoolVar(&resign, "resign", false, "re-sign every payload with the configured secret at the current time")
	fs.Float64Var(&perSecond, "rate", 0, "maximum deliveries per second (0 is unlimited)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: cargoforge replay-events [--config config.yaml] [--resign] [--rate N] <deliveries.jsonl>")
		return 2
	}

	cfg, err := config.NewLoader(resolveConfigPath(file), version.Version).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	cflog.Configure(cflog.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: version.Version, Output: stderr})

	deliveries, err := readDeliveries(fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read %s: %v\n", fs.Arg(0), err)
		return 1
	}
	if resign {
		now := time.Now()
		for i := range deliveries {
			deliveries[i].Signature = billing.Sign(deliveries[i].Payload, cfg.Billing.WebhookSecret, now)
		}
	}

	svc, err := openServices(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open stores: %v\n", err)
		return 1
	}
	defer svc.Close()

	processor := newProcessor(cfg, subscription.NewMachine(svc.principals))
	if perSecond > 0 {
		processor.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	results := processor.ProcessBatch(ctx, deliveries)
	return reportReplay(results, stdout)
}

func readDeliveries(path string) ([]billing.Delivery, error) {
	// #nosec G304 -- operator supplied path
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []billing.Delivery
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxReplayLine)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var rec recordedDelivery
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, billing.Delivery{
			Payload:   append([]byte(nil), rec.Payload...),
			Signature: rec.Signature,
		})
	}
	return out, sc.Err()
}

// reportReplay prints one line per delivery and a summary. It exits non-zero
// only if a delivery failed to apply; rejected and ignored deliveries are
// expected in a replay.
func reportReplay(results []billing.Result, w io.Writer) int {
	counts := make(map[billing.Status]int)
	failed := false
	for i, r := range results {
		counts[r.Status]++
		line := fmt.Sprintf("%4d %-18s %s %s", i+1, r.Status, r.EventID, r.Type)
		if r.Err != nil {
			line += " (" + r.Err.Error() + ")"
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(line, " "))
		if r.Status == billing.StatusFailed {
			failed = true
		}
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, counts[billing.Status(s)]))
	}
	_, _ = fmt.Fprintf(w, "processed %d deliveries: %s\n", len(results), strings.Join(parts, " "))

	if failed {
		return 1
	}
	return 0
}
