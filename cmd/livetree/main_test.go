package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vango-dev/livetree/internal/config"
)

const testSecret = "cli-test-secret-0123456789"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenSignAndInspect(t *testing.T) {
	t.Setenv("LIVETREE_TOKEN_SECRET", testSecret)

	tok, err := execute(t, "token", "sign", "count=3", `theme="dark"`)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tok = strings.TrimSpace(tok)
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("expected a three-part token, got %q", tok)
	}

	out, err := execute(t, "token", "inspect", tok)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if data["count"] != "3" || data["theme"] != `"dark"` {
		t.Errorf("unexpected state %v", data)
	}
}

func TestTokenInspectRejectsForeignSecret(t *testing.T) {
	t.Setenv("LIVETREE_TOKEN_SECRET", testSecret)
	tok, err := execute(t, "token", "sign", "count=1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	t.Setenv("LIVETREE_TOKEN_SECRET", "another-secret-0123456789")
	if _, err := execute(t, "token", "inspect", strings.TrimSpace(tok)); err == nil {
		t.Error("expected inspect with another secret to fail")
	}
}

func TestTokenSignRejectsBadPairs(t *testing.T) {
	t.Setenv("LIVETREE_TOKEN_SECRET", testSecret)
	for _, arg := range []string{"novalue", "=1", "name=not json"} {
		if _, err := execute(t, "token", "sign", arg); err == nil {
			t.Errorf("expected %q to be rejected", arg)
		}
	}
}

func TestTokenNeedsSecret(t *testing.T) {
	t.Setenv("LIVETREE_TOKEN_SECRET", "")
	if _, err := execute(t, "token", "sign", "count=1"); err == nil {
		t.Error("expected missing secret to fail")
	}
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("expected %q, got %q", version, out)
	}
}

func TestOpenSnapshots(t *testing.T) {
	logger := config.Default().Logger(&bytes.Buffer{})
	for _, backend := range []config.SnapshotConfig{
		{Backend: "memory"},
		{Backend: "badger", BadgerInMemory: true},
		{Backend: "s3", S3Bucket: "snapshots", S3Region: "us-east-1"},
	} {
		store, err := openSnapshots(backend, logger)
		if err != nil {
			t.Fatalf("%s: %v", backend.Backend, err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("%s close: %v", backend.Backend, err)
		}
	}
	if _, err := openSnapshots(config.SnapshotConfig{Backend: "tape"}, logger); err == nil {
		t.Error("expected unknown backend to fail")
	}
}

func TestStoreResolverRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Token.Secret = testSecret
	cfg.Token.Mode = "store"
	cfg.Snapshot = config.SnapshotConfig{Backend: "badger", BadgerInMemory: true}

	resolver, closeResolver, err := newResolver(cfg, cfg.Logger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("newResolver: %v", err)
	}
	defer closeResolver()

	ctx := context.Background()
	tok, err := resolver.CreateToken(ctx, map[string]string{"count": "7"}, "")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	data, err := resolver.Resolve(ctx, tok)
	if err != nil || data["count"] != "7" {
		t.Errorf("expected count 7, got %v (%v)", data, err)
	}
}

func TestRunServeStopsWithContext(t *testing.T) {
	cfg := config.Default()
	cfg.Token.Secret = testSecret
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Metrics.Enabled = true
	cfg.Tracing.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var logs bytes.Buffer
	if err := runServe(ctx, cfg, &logs); err != nil {
		t.Fatalf("runServe: %v", err)
	}
	if !strings.Contains(logs.String(), "livetree serving") {
		t.Errorf("expected startup log, got %s", logs.String())
	}
}
