// Package config reads process configuration from HERBTRACE_* environment
// variables, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"herbtrace/pkg/domain"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsExpvar     = "expvar"
	MetricsNone       = "none"
)

// Config holds everything cmd/herbtrace needs beyond the storage and blob
// selection, which core.OpenPersistentStore and blob.Open read themselves.
type Config struct {
	HTTPAddr    string
	LogMode     string
	LogLevel    string
	ActorsFile  string
	CORSOrigins []string

	// ArchiveEnabled is true when HERBTRACE_BLOB_DRIVER is set.
	ArchiveEnabled bool

	Metrics string

	TraceExporter    string
	TraceEndpoint    string
	TraceInsecure    bool
	TraceSampleRatio float64

	Thresholds domain.Thresholds
	// Plugins lists compliance packs to install, by name. "none" disables them.
	Plugins []string
}

// Load applies the given .env files (missing files are skipped; no files
// means ".env") and then reads the environment. Variables already set in the
// process win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:       getEnv("HERBTRACE_HTTP_ADDR", ":8080"),
		LogMode:        getEnv("HERBTRACE_LOG_MODE", "dev"),
		LogLevel:       getEnv("HERBTRACE_LOG_LEVEL", "info"),
		ActorsFile:     getEnv("HERBTRACE_ACTORS_FILE", ""),
		CORSOrigins:    splitList(getEnv("HERBTRACE_CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		ArchiveEnabled: getEnv("HERBTRACE_BLOB_DRIVER", "") != "",
		Metrics:        strings.ToLower(getEnv("HERBTRACE_METRICS", MetricsPrometheus)),
		TraceExporter:  strings.ToLower(getEnv("HERBTRACE_TRACE_EXPORTER", "none")),
		TraceEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Plugins:        splitList(getEnv("HERBTRACE_PLUGINS", "ayush")),
	}
	switch cfg.Metrics {
	case MetricsPrometheus, MetricsExpvar, MetricsNone:
	default:
		return Config{}, fmt.Errorf("HERBTRACE_METRICS: unknown backend %q", cfg.Metrics)
	}
	var err error
	if cfg.TraceInsecure, err = getBool("OTEL_EXPORTER_OTLP_INSECURE"); err != nil {
		return Config{}, err
	}
	if cfg.TraceSampleRatio, err = getFloat("HERBTRACE_TRACE_SAMPLE_RATIO", 1); err != nil {
		return Config{}, err
	}
	if cfg.Thresholds, err = thresholdsFromEnv(); err != nil {
		return Config{}, err
	}
	if len(cfg.Plugins) == 1 && strings.EqualFold(cfg.Plugins[0], "none") {
		cfg.Plugins = nil
	}
	return cfg, nil
}

// thresholdsFromEnv starts from the built-in limits and applies any
// HERBTRACE_LIMIT_* overrides. Overridden limits need a profile version, which
// defaults to "env-1".
func thresholdsFromEnv() (domain.Thresholds, error) {
	t := domain.DefaultThresholds()
	limits := []struct {
		key string
		dst *float64
	}{
		{"HERBTRACE_LIMIT_LEAD_PPM", &t.LeadPpm},
		{"HERBTRACE_LIMIT_MERCURY_PPM", &t.MercuryPpm},
		{"HERBTRACE_LIMIT_ARSENIC_PPM", &t.ArsenicPpm},
		{"HERBTRACE_LIMIT_CADMIUM_PPM", &t.CadmiumPpm},
		{"HERBTRACE_LIMIT_MOISTURE_PCT", &t.MoisturePct},
		{"HERBTRACE_LIMIT_TOTAL_BACTERIAL_COUNT", &t.TotalBacterialCount},
		{"HERBTRACE_LIMIT_YEAST_MOLD", &t.YeastMold},
	}
	overridden := false
	for _, l := range limits {
		raw := strings.TrimSpace(os.Getenv(l.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return domain.Thresholds{}, fmt.Errorf("%s: expected a non-negative number, got %q", l.key, raw)
		}
		*l.dst = v
		overridden = true
	}
	if version := getEnv("HERBTRACE_THRESHOLDS_VERSION", ""); version != "" {
		t.Version = version
	} else if overridden {
		t.Version = "env-1"
	}
	return t, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
