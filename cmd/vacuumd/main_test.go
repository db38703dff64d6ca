package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dray-io/vacuum/internal/checkpoint"
	"github.com/dray-io/vacuum/internal/config"
	"github.com/dray-io/vacuum/internal/health"
	"github.com/dray-io/vacuum/internal/logging"
	"github.com/dray-io/vacuum/internal/metadata"
	"github.com/dray-io/vacuum/internal/report"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "vacuumd version dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	for _, path := range [][]string{{"run"}, {"scopes"}, {"checkpoint", "get"}, {"checkpoint", "reset"}, {"version"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestCheckpointGet_MemoryBackend(t *testing.T) {
	t.Setenv("VACUUM_CHECKPOINT_BACKEND", "memory")
	out, err := execute(t, "checkpoint", "get", "scope-1")
	if err != nil {
		t.Fatalf("checkpoint get failed: %v", err)
	}
	if !strings.Contains(out, "scope scope-1 has no checkpoint") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCheckpointReset_MemoryBackend(t *testing.T) {
	t.Setenv("VACUUM_CHECKPOINT_BACKEND", "memory")
	out, err := execute(t, "checkpoint", "reset", "scope-1")
	if err != nil {
		t.Fatalf("checkpoint reset failed: %v", err)
	}
	if !strings.Contains(out, "reset") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCheckpointGet_RequiresScope(t *testing.T) {
	if _, err := execute(t, "checkpoint", "get"); err == nil {
		t.Error("expected an argument error")
	}
}

func TestRun_BadConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vacuum.yaml")
	if err := os.WriteFile(path, []byte("checkpoint:\n  backend: etcd\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "run", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "checkpoint.backend") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestOpenBackends_CheckpointBackends(t *testing.T) {
	tests := []struct {
		backend string
		check   func(checkpoint.Store) bool
	}{
		{config.CheckpointMemory, func(s checkpoint.Store) bool { _, ok := s.(*checkpoint.MemoryStore); return ok }},
		{config.CheckpointRedis, func(s checkpoint.Store) bool { _, ok := s.(*checkpoint.RedisStore); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Checkpoint.Backend = tt.backend
			cfg.Checkpoint.RedisAddr = "localhost:0"

			b, err := openBackends(context.Background(), cfg, logging.Nop(), prometheus.NewRegistry(), need{reporter: true})
			if err != nil {
				t.Fatalf("openBackends failed: %v", err)
			}
			defer b.Close()
			if !tt.check(b.checkpoints) {
				t.Errorf("unexpected checkpoint store %T", b.checkpoints)
			}
			if multi, ok := b.reporter.(report.Multi); !ok || len(multi) != 1 {
				t.Errorf("expected a log-only reporter, got %#v", b.reporter)
			}
			if b.store != nil || b.index != nil || b.leases != nil {
				t.Error("unrequested backends were opened")
			}
		})
	}
}

func TestOpenBackends_FailureReturnsNil(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DSN = ""

	b, err := openBackends(context.Background(), cfg, logging.Nop(), prometheus.NewRegistry(), need{store: true})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if b != nil {
		t.Errorf("expected nil backends, got %#v", b)
	}
}

func TestOpenBackends_FailureClosesOpened(t *testing.T) {
	cfg := config.Default()
	cfg.Checkpoint.Backend = config.CheckpointRedis
	cfg.Checkpoint.RedisAddr = "localhost:0"
	cfg.Report.KafkaBrokers = []string{"localhost:notaport"}

	b, err := openBackends(context.Background(), cfg, logging.Nop(), prometheus.NewRegistry(), need{reporter: true})
	if err == nil {
		b.Close()
		t.Fatal("expected error for malformed kafka broker")
	}
	if b != nil {
		t.Errorf("expected nil backends, got %#v", b)
	}
}

func TestBackendsClose(t *testing.T) {
	var nilBackends *backends
	if err := nilBackends.Close(); err != nil {
		t.Errorf("Close on nil backends: %v", err)
	}

	var order []string
	b := &backends{closers: []func() error{
		func() error { order = append(order, "first"); return nil },
		func() error { order = append(order, "second"); return errors.New("boom") },
	}}
	if err := b.Close(); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
	if strings.Join(order, ",") != "second,first" {
		t.Errorf("closers ran in order %v", order)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestVacuumConfig(t *testing.T) {
	c := config.Default().Vacuum
	c.ScopeCacheSize = 123
	c.MaxInFlight = 4

	got := vacuumConfig(c, time.Minute)
	if got.ScopeCacheSize != 123 {
		t.Errorf("ScopeCacheSize = %d", got.ScopeCacheSize)
	}
	if got.MaxInFlight != 4 || got.PageSize != 1000 || got.BulkSize != 10 {
		t.Errorf("unexpected sizes %+v", got)
	}
	if got.Sleep != time.Minute {
		t.Errorf("Sleep = %s", got.Sleep)
	}
	if !got.DropOrphanSubIndexes {
		t.Error("expected DropOrphanSubIndexes")
	}
}

func TestNewHealthChecker(t *testing.T) {
	status := newHealthChecker(&backends{}).Readiness(context.Background())
	if status.Status != health.StatusOK || len(status.Checks) != 1 {
		t.Errorf("empty backends: %+v", status)
	}

	meta := metadata.NewMockStore()
	status = newHealthChecker(&backends{meta: meta}).Readiness(context.Background())
	if !status.Checks["metadata_store"].Healthy {
		t.Errorf("metadata check should be healthy: %+v", status)
	}

	meta.Close()
	status = newHealthChecker(&backends{meta: meta}).Readiness(context.Background())
	if status.Status != health.StatusNotReady {
		t.Errorf("closed metadata store should not be ready: %+v", status)
	}
}

func TestPrintScopes(t *testing.T) {
	rows := []scopeRow{
		{ScopeID: "a", LastCommitSeq: 42, Checkpointed: true},
		{ScopeID: "b"},
	}

	var text bytes.Buffer
	if err := printScopes(&text, rows, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "42") || !strings.HasSuffix(lines[1], "-") {
		t.Errorf("unexpected text output %q", text.String())
	}

	var js bytes.Buffer
	if err := printScopes(&js, rows, true); err != nil {
		t.Fatal(err)
	}
	var decoded []scopeRow
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[0].LastCommitSeq != 42 {
		t.Errorf("unexpected JSON rows %+v", decoded)
	}

	var empty bytes.Buffer
	_ = printScopes(&empty, nil, false)
	if strings.TrimSpace(empty.String()) != "no scopes" {
		t.Errorf("unexpected empty output %q", empty.String())
	}
}

func TestPrintCheckpoint(t *testing.T) {
	var out bytes.Buffer
	cp := checkpoint.Checkpoint{ScopeID: "s", LastCommitSeq: 7, UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := printCheckpoint(&out, "s", cp, true); err != nil {
		t.Fatal(err)
	}
	if out.String() != "scope s: last commit seq 7 (updated 2026-03-01T00:00:00Z)\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("2 of 3 scope passes failed")
	var err error = &ExitError{Code: ExitScopeFailed, Err: inner}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitScopeFailed {
		t.Error("ExitError should be matched by errors.As")
	}
	if !errors.Is(err, inner) || err.Error() != inner.Error() {
		t.Error("ExitError should wrap its error")
	}
}
