// Command herbtrace serves the custody ledger API, or with -audit verifies
// every stored ledger and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"herbtrace/internal/adapters/httpapi"
	"herbtrace/internal/blob"
	"herbtrace/internal/config"
	"herbtrace/internal/core"
	"herbtrace/internal/platform/logger"
	"herbtrace/internal/platform/tracing"
	"herbtrace/plugins/ayush"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitCorrupt = 3
)

const shutdownTimeout = 10 * time.Second

var (
	exitFunc = os.Exit

	availablePlugins = map[string]func() core.Plugin{
		"ayush": func() core.Plugin { return ayush.New() },
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("herbtrace", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		envFiles string
		audit    bool
		addr     string
	)
	fs.StringVar(&envFiles, "env", ".env", "comma-separated .env files to load (missing files are skipped)")
	fs.BoolVar(&audit, "audit", false, "verify every ledger, print a JSON report and exit")
	fs.StringVar(&addr, "addr", "", "listen address (overrides HERBTRACE_HTTP_ADDR)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(strings.Split(envFiles, ",")...)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitFailure
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return exitFailure
	}
	defer a.close()

	if audit {
		return runAudit(ctx, a, stdout, stderr)
	}
	if err := serve(ctx, a, cfg.HTTPAddr); err != nil {
		a.log.Error("server stopped", "error", err)
		return exitFailure
	}
	return exitOK
}

type app struct {
	log     *logger.Logger
	svc     *core.Service
	store   core.PersistentStore
	handler http.Handler
	closers []func(context.Context) error
}

// newApp wires configuration into a ready service and router. On error every
// resource opened so far is released.
func newApp(ctx context.Context, cfg config.Config, traceOut io.Writer) (a *app, err error) {
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a = &app{log: log}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	tp, shutdownTracing, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName: httpapi.ServiceName,
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		Insecure:    cfg.TraceInsecure,
		SampleRatio: cfg.TraceSampleRatio,
		Writer:      traceOut,
	})
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, shutdownTracing)

	var tracer core.Tracer = tracing.NewTracer(tp)
	if cfg.TraceExporter == tracing.ExporterJSON {
		tracer = core.NewJSONTracer(traceOut)
	}

	opts := []core.ServiceOption{
		core.WithLogger(log.With("component", "core")),
		core.WithTracer(tracer),
		core.WithAuditRecorder(logger.NewAuditRecorder(log)),
		core.WithThresholds(cfg.Thresholds),
	}

	var gatherer prometheus.Gatherer
	switch cfg.Metrics {
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return a, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
		gatherer = reg
	case config.MetricsExpvar:
		opts = append(opts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("herbtrace")))
	}

	if cfg.ActorsFile != "" {
		dir, err := core.LoadDirectory(cfg.ActorsFile)
		if err != nil {
			return a, err
		}
		opts = append(opts, core.WithIdentityProvider(dir))
		log.Info("actor directory loaded", "path", cfg.ActorsFile, "actors", len(dir.Actors()))
	} else {
		log.Warn("no actor directory configured; every command will be rejected")
	}

	if cfg.ArchiveEnabled {
		archive, err := blob.Open(ctx)
		if err != nil {
			return a, fmt.Errorf("open ledger archive: %w", err)
		}
		opts = append(opts, core.WithArchive(archive))
		log.Info("ledger archive enabled", "driver", archive.Driver())
	}

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return a, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.svc = core.NewService(store, opts...)

	for _, name := range cfg.Plugins {
		newPlugin, ok := availablePlugins[strings.ToLower(name)]
		if !ok {
			return a, fmt.Errorf("unknown plugin %q", name)
		}
		if _, err := a.svc.InstallPlugin(newPlugin()); err != nil {
			return a, err
		}
	}

	a.handler = httpapi.NewRouter(httpapi.Options{
		Service:        a.svc,
		Logger:         log.With("component", "http"),
		CORSOrigins:    cfg.CORSOrigins,
		Gatherer:       gatherer,
		Expvar:         cfg.Metrics == config.MetricsExpvar,
		TracerProvider: tp,
	})
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("shutdown", "error", err)
		}
	}
	if a.store != nil {
		if err := core.CloseStore(a.store); err != nil {
			a.log.Warn("close store", "error", err)
		}
	}
	a.log.Sync()
}

func runAudit(ctx context.Context, a *app, stdout, stderr io.Writer) int {
	report, err := a.svc.AuditAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "audit: %v\n", err)
		return exitFailure
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return exitFailure
	}
	if !report.Healthy() {
		return exitCorrupt
	}
	return exitOK
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests.
func serve(ctx context.Context, a *app, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.log.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info("server stopped")
	return nil
}
