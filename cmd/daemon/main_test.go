// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/cargoforge/internal/auth"
	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/config"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/ledger/store"
	"github.com/ManuGH/cargoforge/internal/subscription"
)

const testSecret = "whsec_replay"

// isolatedEnv points every store at dir so tests never touch the defaults.
func isolatedEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("CFG_LEDGER_BACKEND", "sqlite")
	t.Setenv("CFG_LEDGER_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("CFG_SUBSCRIPTIONS_BACKEND", "sqlite")
	t.Setenv("CFG_SUBSCRIPTIONS_PATH", filepath.Join(dir, "principals.db"))
	t.Setenv("CFG_WORKSPACE_ROOT", filepath.Join(dir, "ws"))
	t.Setenv("CFG_BILLING_WEBHOOK_SECRET", testSecret)
	t.Setenv("CFG_LOG_LEVEL", "error")
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("ledger:\n  backend: memory\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("ledger:\n  backend: cassandra\n"), 0o600))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, configCLI([]string{"validate", "-f", good}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "is valid")

	stdout.Reset()
	assert.Equal(t, 1, configCLI([]string{"validate", "--file", bad}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "ledger.backend")

	assert.Equal(t, 2, configCLI([]string{"frobnicate"}, &stdout, &stderr))
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("billing:\n  webhook_secret: whsec_very_secret\n"), 0o600))

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, configCLI([]string{"dump", "-f", path, "--format", "json"}, &stdout, &stderr), stderr.String())
	assert.NotContains(t, stdout.String(), "whsec_very_secret")
	assert.Contains(t, stdout.String(), "***")
}

func signedLine(t *testing.T, payload string, ts time.Time) string {
	t.Helper()
	return fmt.Sprintf(`{"signature":%q,"payload":%s}`, billing.Sign([]byte(payload), testSecret, ts), payload)
}

func TestReadDeliveriesKeepsPayloadBytes(t *testing.T) {
	payload := `{"id":"evt_1","type":"invoice.payment_failed","data":{"object":{"customer":"cus_1"}}}`
	path := filepath.Join(t.TempDir(), "events.jsonl")
	body := "# recorded 2026-10-01\n" + signedLine(t, payload, time.Now()) + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	ds, err := readDeliveries(path)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, payload, string(ds[0].Payload))
	assert.NoError(t, billing.VerifySignature(ds[0].Payload, ds[0].Signature, testSecret, billing.DefaultTolerance, time.Now()))
}

func TestReplayAppliesBatch(t *testing.T) {
	dir := t.TempDir()
	isolatedEnv(t, dir)
	ctx := context.Background()

	principals, err := subscription.OpenStore(ctx, "sqlite", filepath.Join(dir, "principals.db"))
	require.NoError(t, err)
	_, err = subscription.Register(ctx, principals, "alice", time.Now())
	require.NoError(t, err)
	require.NoError(t, principals.Close())

	checkout := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"customer":"cus_a","subscription":"sub_a","client_reference_id":"alice"}}}`
	unknown := `{"id":"evt_2","type":"invoice.payment_failed","data":{"object":{"customer":"cus_nobody"}}}`
	stale := `{"id":"evt_3","type":"invoice.payment_failed","data":{"object":{"customer":"cus_a"}}}`
	lines := signedLine(t, checkout, time.Now()) + "\n" +
		signedLine(t, unknown, time.Now()) + "\n" +
		`{"signature":"t=1,v1=deadbeef","payload":` + stale + "}\n"
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))

	var stdout, stderr bytes.Buffer
	code := replayCLI(ctx, []string{path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "applied=1")
	assert.Contains(t, out, "unknown_customer=1")
	assert.Contains(t, out, "invalid_signature=1")

	principals, err = subscription.OpenStore(ctx, "sqlite", filepath.Join(dir, "principals.db"))
	require.NoError(t, err)
	defer principals.Close()
	p, err := principals.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.TierPro, p.Tier)
	assert.Equal(t, "cus_a", p.CustomerRef)
	assert.Equal(t, subscription.StatusActive, p.Status, "the unsigned invoice failure must not apply")
}

func TestReplayResign(t *testing.T) {
	dir := t.TempDir()
	isolatedEnv(t, dir)

	payload := `{"id":"evt_9","type":"invoice.payment_failed","data":{"object":{"customer":"cus_x"}}}`
	path := filepath.Join(dir, "events.jsonl")
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.WriteFile(path, []byte(signedLine(t, payload, old)+"\n"), 0o600))

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, replayCLI(context.Background(), []string{path}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "invalid_signature=1")

	stdout.Reset()
	require.Equal(t, 0, replayCLI(context.Background(), []string{"--resign", path}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "unknown_customer=1")
}

func TestReplayUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, replayCLI(context.Background(), nil, &stdout, &stderr))
}

func TestApplyReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	period, err := ledger.NewPeriod("UTC")
	require.NoError(t, err)
	svc := &services{
		ledger:     ledger.New(store.NewMemoryStore(), period, nil),
		principals: subscription.NewMemoryStore(),
	}
	initial, err := auth.NewKeyring(map[string]string{"aaaaaaaaaaaaaaaa": "alice"})
	require.NoError(t, err)
	var keys atomic.Pointer[auth.Keyring]
	keys.Store(initial)

	reloads := make(chan config.AppConfig, 1)
	done := make(chan struct{})
	go func() {
		applyReloads(ctx, reloads, svc, &keys, zerolog.Nop())
		close(done)
	}()

	next := config.Defaults()
	next.Ledger.Limits["free"] = 3
	next.Auth.APIKeys = map[string]string{"bbbbbbbbbbbbbbbb": "bob"}
	reloads <- next

	assert.Eventually(t, func() bool {
		id, ok := keys.Load().Resolve("bbbbbbbbbbbbbbbb")
		return ok && id == "bob"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, svc.ledger.Limit(ledger.TierFree))

	_, err = svc.principals.Get(ctx, "bob")
	assert.NoError(t, err, "new key principals are registered")

	cancel()
	<-done
}
