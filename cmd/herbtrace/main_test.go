package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"herbtrace/internal/config"
	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
)

const actorsYAML = `actors:
  - id: farmer-1
    role: Farmer
    displayName: Ravi Kumar
  - id: admin-1
    role: Administrator
`

func isolatedEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	actors := filepath.Join(dir, "actors.yaml")
	if err := os.WriteFile(actors, []byte(actorsYAML), 0o600); err != nil {
		t.Fatalf("write actors: %v", err)
	}
	for k, v := range map[string]string{
		"HERBTRACE_STORAGE_DRIVER": "sqlite",
		"HERBTRACE_SQLITE_PATH":    filepath.Join(dir, "herbtrace.db"),
		"HERBTRACE_ACTORS_FILE":    actors,
		"HERBTRACE_BLOB_DRIVER":    "",
		"HERBTRACE_METRICS":        "prometheus",
		"HERBTRACE_TRACE_EXPORTER": "none",
		"HERBTRACE_PLUGINS":        "ayush",
		"HERBTRACE_LOG_LEVEL":      "error",
	} {
		t.Setenv(k, v)
	}
	return dir
}

func TestAuditReportsHealthyLedgers(t *testing.T) {
	isolatedEnv(t)
	ctx := context.Background()

	cfgApp := mustApp(t)
	if _, err := cfgApp.svc.CreateBatch(ctx, "farmer-1", creationForTest()); err != nil {
		t.Fatalf("create: %v", err)
	}
	cfgApp.close()

	var stdout, stderr bytes.Buffer
	code := cli(ctx, []string{"-env", filepath.Join(t.TempDir(), "none.env"), "-audit"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	var report core.AuditReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode report %q: %v", stdout.String(), err)
	}
	if report.Batches != 1 || report.Events != 1 || !report.Healthy() {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	isolatedEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	var stdout, stderr bytes.Buffer
	go func() { done <- cli(ctx, []string{"-addr", addr}, &stdout, &stderr) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server never listened: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected clean shutdown, got %d", code)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestStartupFailures(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want int
	}{
		{"bad flag", nil, []string{"-bogus"}, exitUsage},
		{"bad metrics backend", map[string]string{"HERBTRACE_METRICS": "statsd"}, nil, exitFailure},
		{"unknown plugin", map[string]string{"HERBTRACE_PLUGINS": "fssai"}, []string{"-audit"}, exitFailure},
		{"unknown storage", map[string]string{"HERBTRACE_STORAGE_DRIVER": "mongo"}, []string{"-audit"}, exitFailure},
		{"missing actors file", map[string]string{"HERBTRACE_ACTORS_FILE": "/does/not/exist.yaml"}, []string{"-audit"}, exitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolatedEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			var stdout, stderr bytes.Buffer
			if got := cli(context.Background(), tc.args, &stdout, &stderr); got != tc.want {
				t.Fatalf("expected exit %d, got %d (%s)", tc.want, got, stderr.String())
			}
		})
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	isolatedEnv(t)
	var codes []int
	oldExit, oldArgs := exitFunc, os.Args
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc, os.Args = oldExit, oldArgs }()

	os.Args = []string{"herbtrace", "-audit"}
	main()
	os.Args = []string{"herbtrace", "-bogus"}
	main()
	if len(codes) != 2 || codes[0] != exitOK || codes[1] != exitUsage {
		t.Fatalf("unexpected exit codes: %v", codes)
	}
}

func TestPluginsInstalled(t *testing.T) {
	isolatedEnv(t)
	a := mustApp(t)
	defer a.close()
	plugins := a.svc.RegisteredPlugins()
	if len(plugins) != 1 || plugins[0].Name != "ayush" {
		t.Fatalf("expected the ayush pack, got %+v", plugins)
	}
	if a.svc.Thresholds().Version != domain.DefaultThresholds().Version {
		t.Fatalf("the pack must keep the configured thresholds, got %+v", a.svc.Thresholds())
	}
}

func TestThresholdOverridesReachService(t *testing.T) {
	isolatedEnv(t)
	t.Setenv("HERBTRACE_LIMIT_LEAD_PPM", "5")
	a := mustApp(t)
	defer a.close()
	if got := a.svc.Thresholds(); got.LeadPpm != 5 || got.Version != "env-1" {
		t.Fatalf("unexpected thresholds: %+v", got)
	}
}

func TestJSONTraceExporterWritesServiceSpans(t *testing.T) {
	isolatedEnv(t)
	t.Setenv("HERBTRACE_TRACE_EXPORTER", "json")
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var spans bytes.Buffer
	a, err := newApp(context.Background(), cfg, &spans)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()
	if _, err := a.svc.CreateBatch(context.Background(), "farmer-1", creationForTest()); err != nil {
		t.Fatalf("create: %v", err)
	}
	var entry core.JSONTraceEntry
	if err := json.NewDecoder(&spans).Decode(&entry); err != nil {
		t.Fatalf("decode span %q: %v", spans.String(), err)
	}
	if entry.Operation != "create_batch" || entry.Status != "success" {
		t.Fatalf("unexpected span: %+v", entry)
	}
}

func mustApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func creationForTest() domain.CreationRecord {
	return domain.CreationRecord{
		Species:             "Tulsi",
		Quantity:            15,
		Unit:                "kg",
		CollectionTimestamp: time.Date(2025, 8, 1, 6, 0, 0, 0, time.UTC),
		Location:            domain.GeoPoint{Latitude: 26.8467, Longitude: 80.9462},
	}
}
