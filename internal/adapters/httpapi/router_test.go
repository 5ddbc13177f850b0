package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"herbtrace/internal/blob"
	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
	"herbtrace/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type logLine struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if line.level == level && line.msg == "HTTP request" {
			n++
		}
	}
	return n
}

type fixture struct {
	router *gin.Engine
	logs   *captureLogger
	reg    *prometheus.Registry
	spans  *tracetest.SpanRecorder
}

func newFixture(t *testing.T, withArchive bool) fixture {
	t.Helper()
	dir, err := core.NewDirectory(
		domain.Actor{ID: "farmer-1", Role: domain.RoleFarmer, DisplayName: "Ravi Kumar"},
		domain.Actor{ID: "agent-1", Role: domain.RoleCollectionAgent, DisplayName: "Anil Shinde"},
		domain.Actor{ID: "lab-1", Role: domain.RoleLaboratory, DisplayName: "Mumbai Herbal Testing Lab"},
	)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	opts := []core.ServiceOption{core.WithIdentityProvider(dir), core.WithMetricsRecorder(metrics)}
	if withArchive {
		opts = append(opts, core.WithArchive(blob.NewMemory()))
	}
	svc := core.NewInMemoryService(nil, opts...)
	logs := &captureLogger{}
	spans := tracetest.NewSpanRecorder()
	router := NewRouter(Options{
		Service:        svc,
		Logger:         logs,
		CORSOrigins:    []string{"https://dashboard.example"},
		Gatherer:       reg,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
	})
	return fixture{router: router, logs: logs, reg: reg, spans: spans}
}

func (f fixture) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(headerActorID, actor)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code, field string) APIError {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	env := decode[ErrorEnvelope](t, rec)
	if env.Error.Code != code || env.Error.Field != field {
		t.Fatalf("expected %s/%q, got %+v", code, field, env.Error)
	}
	return env.Error
}

func creation() domain.CreationRecord {
	return domain.CreationRecord{
		Species:             "Ashwagandha",
		Quantity:            120,
		Unit:                "kg",
		CollectionTimestamp: time.Date(2025, 3, 14, 4, 30, 0, 0, time.UTC),
		Location:            domain.GeoPoint{Latitude: 18.5204, Longitude: 73.8567},
	}
}

func createBatch(t *testing.T, f fixture) core.Batch {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/batches", "farmer-1", creation())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	return decode[core.Accepted](t, rec).Batch
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, true)
	batch := createBatch(t, f)
	if batch.State != domain.StateCreated || batch.LatestSequenceNumber != 1 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	base := "/api/v1/batches/" + batch.ID

	assign := map[string]any{"eventType": domain.EventAssignedToAgency, "payload": domain.AssignmentRecord{AgentID: "agent-1"}}
	rec := f.do(t, http.MethodPost, base+"/events", "farmer-1", assign)
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
	}
	acc := decode[core.Accepted](t, rec)
	if acc.State != domain.StateAssignedToAgency || acc.Event.SequenceNumber != 2 || acc.Idempotent {
		t.Fatalf("unexpected accepted: %+v", acc)
	}

	rec = f.do(t, http.MethodPost, base+"/events", "farmer-1", assign)
	if rec.Code != http.StatusOK || !decode[core.Accepted](t, rec).Idempotent {
		t.Fatalf("retry should be idempotent: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, base, "", nil)
	if got := decode[core.Batch](t, rec); rec.Code != http.StatusOK || got.CurrentCustodianID != batch.CurrentCustodianID || got.LatestSequenceNumber != 2 {
		t.Fatalf("get batch: %d %+v", rec.Code, got)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/batches?state=AssignedToAgency", "", nil)
	list := decode[struct {
		Batches []core.Batch `json:"batches"`
	}](t, rec)
	if len(list.Batches) != 1 || list.Batches[0].ID != batch.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/batches?state=Created", "", nil)
	if !strings.Contains(rec.Body.String(), `"batches":[]`) {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, base+"/ledger", "", nil)
	ledger := decode[core.Ledger](t, rec)
	if len(ledger.Events) != 2 || ledger.Algorithm != domain.HashSHA256 {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}

	rec = f.do(t, http.MethodGet, base+"/timeline", "", nil)
	if rec.Code != http.StatusOK || decode[core.Timeline](t, rec).BatchID != batch.ID {
		t.Fatalf("timeline: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, base+"/token", "", nil)
	token := decode[tokenResponse](t, rec)
	if token.Token.SequenceNumber != 2 || !strings.HasPrefix(token.Encoded, domain.TokenPrefix) {
		t.Fatalf("unexpected token: %+v", token)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/verify/"+token.Encoded, "", nil)
	if result := decode[domain.VerificationResult](t, rec); result.Status != domain.VerificationValid {
		t.Fatalf("expected Valid, got %+v", result)
	}

	rec = f.do(t, http.MethodPost, base+"/exports", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	first := decode[core.ExportResult](t, rec)
	rec = f.do(t, http.MethodPost, base+"/exports", "", nil)
	if again := decode[core.ExportResult](t, rec); rec.Code != http.StatusOK || !again.Existing || again.Key != first.Key {
		t.Fatalf("re-export should return the existing bundle: %d %+v", rec.Code, again)
	}
	rec = f.do(t, http.MethodGet, base+"/exports", "", nil)
	exports := decode[struct {
		Exports []blob.Info `json:"exports"`
	}](t, rec)
	if len(exports.Exports) != 1 || exports.Exports[0].Key != first.Key {
		t.Fatalf("unexpected exports: %+v", exports)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/batches/missing/exports", "", nil)
	expectError(t, rec, http.StatusNotFound, string(domain.KindNotFound), "")
}

func TestRejectionsMapToStatus(t *testing.T) {
	f := newFixture(t, true)
	batch := createBatch(t, f)
	base := "/api/v1/batches/" + batch.ID
	stale := int64(5)

	cases := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
		code   string
		field  string
	}{
		{"missing actor", http.MethodPost, "/api/v1/batches", "", creation(), http.StatusForbidden, string(domain.KindUnauthorized), ""},
		{"invalid creation", http.MethodPost, "/api/v1/batches", "farmer-1", domain.CreationRecord{Unit: "kg"}, http.StatusUnprocessableEntity, string(domain.KindValidationFailure), "species"},
		{"malformed body", http.MethodPost, base + "/events", "farmer-1", "{", http.StatusUnprocessableEntity, string(domain.KindValidationFailure), "body"},
		{"unknown event", http.MethodPost, base + "/events", "farmer-1", map[string]any{"eventType": "Harvested"}, http.StatusUnprocessableEntity, string(domain.KindValidationFailure), "eventType"},
		{"wrong role", http.MethodPost, base + "/events", "farmer-1", map[string]any{"eventType": domain.EventCollected}, http.StatusForbidden, string(domain.KindUnauthorized), ""},
		{"stale sequence", http.MethodPost, base + "/events", "farmer-1", map[string]any{"eventType": domain.EventAssignedToAgency, "payload": domain.AssignmentRecord{AgentID: "agent-1"}, "expectedSequence": stale}, http.StatusConflict, string(domain.KindDuplicateConflict), ""},
		{"unknown batch", http.MethodGet, "/api/v1/batches/nope", "", nil, http.StatusNotFound, string(domain.KindNotFound), ""},
		{"unknown state filter", http.MethodGet, "/api/v1/batches?state=Harvested", "", nil, http.StatusUnprocessableEntity, string(domain.KindValidationFailure), "state"},
		{"malformed token", http.MethodGet, "/api/v1/verify/not-a-token", "", nil, http.StatusUnprocessableEntity, string(domain.KindValidationFailure), "token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.actor, tc.body)
			expectError(t, rec, tc.status, tc.code, tc.field)
		})
	}

	rec := f.do(t, http.MethodPost, base+"/events", "farmer-1", map[string]any{"eventType": domain.EventAssignedToAgency, "payload": domain.AssignmentRecord{AgentID: "agent-1"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, base+"/events", "agent-1", map[string]any{"eventType": domain.EventInTransitMarked, "payload": domain.HandoffRecord{Vehicle: "MH12AB1234"}})
	expectError(t, rec, http.StatusConflict, string(domain.KindInvalidTransition), "")

	rec = f.do(t, http.MethodGet, base+"/ledger", "", nil)
	if got := decode[core.Ledger](t, rec); len(got.Events) != 2 {
		t.Fatalf("rejections must leave the ledger untouched, got %d events", len(got.Events))
	}
	if f.logs.count("warn") == 0 {
		t.Fatalf("expected 4xx requests to log at warn")
	}
}

func TestExportWithoutArchive(t *testing.T) {
	f := newFixture(t, false)
	batch := createBatch(t, f)
	rec := f.do(t, http.MethodPost, "/api/v1/batches/"+batch.ID+"/exports", "", nil)
	expectError(t, rec, http.StatusNotImplemented, codeNoArchive, "")
	rec = f.do(t, http.MethodGet, "/api/v1/batches/"+batch.ID+"/exports", "", nil)
	expectError(t, rec, http.StatusNotImplemented, codeNoArchive, "")
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(t, false)
	createBatch(t, f)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "herbtrace_operations_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/api/v1/plugins", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"plugins":[]`) {
		t.Fatalf("plugins: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" || rec.Header().Get(headerTraceID) == "" {
		t.Fatalf("expected request and trace ids, got %v", rec.Header())
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-42")
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	if out.Header().Get(headerRequestID) != "req-42" {
		t.Fatalf("request id should be echoed, got %q", out.Header().Get(headerRequestID))
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/batches", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	out = httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	if out.Header().Get("Access-Control-Allow-Origin") != "https://dashboard.example" {
		t.Fatalf("expected CORS preflight to allow the dashboard, got %v", out.Header())
	}

	if len(f.spans.Ended()) == 0 {
		t.Fatalf("expected server spans")
	}
	if f.logs.count("info") == 0 {
		t.Fatalf("expected request logs")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.Corrupt(3, "hash mismatch"), http.StatusInternalServerError, string(domain.KindCorruptLedger)},
		{domain.Unauthorized(domain.RoleFarmer, "nope"), http.StatusForbidden, string(domain.KindUnauthorized)},
		{domain.Conflict("dup"), http.StatusConflict, string(domain.KindDuplicateConflict)},
		{core.ErrNoArchive, http.StatusNotImplemented, codeNoArchive},
		{errors.New("disk full"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		status, env := statusFor(tc.err)
		if status != tc.status || env.Error.Code != tc.code {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.code, status, env.Error.Code)
		}
	}
	_, env := statusFor(domain.Corrupt(3, "hash mismatch"))
	if env.Error.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %+v", env.Error)
	}
	_, env = statusFor(domain.Unauthorized(domain.RoleFarmer, "nope"))
	if env.Error.Role != string(domain.RoleFarmer) {
		t.Fatalf("expected role, got %+v", env.Error)
	}
}

func TestExpvarRoute(t *testing.T) {
	svc := core.NewInMemoryService(nil, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")))
	router := NewRouter(Options{Service: svc, Expvar: true})
	if _, err := svc.ListBatches(context.Background(), core.BatchFilter{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "list_batches") {
		t.Fatalf("expvar: %d %s", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics route should be absent without a gatherer, got %d", rec.Code)
	}
}

func TestHandlersGoThroughService(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden, "handlers must not bypass the service's ordering and audit")
}
