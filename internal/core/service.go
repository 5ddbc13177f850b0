package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"herbtrace/internal/blob"
	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/pkg/domain"
)

const (
	opCreateBatch      = "create_batch"
	opSubmitTransition = "submit_transition"
	opGetBatch         = "get_batch"
	opListBatches      = "list_batches"
	opGetLedger        = "get_ledger"
	opGetTimeline      = "get_timeline"
	opIssueToken       = "issue_token"
	opVerifyToken      = "verify_token"
	opExportLedger     = "export_ledger"
	opListExports      = "list_exports"
	opAuditAll         = "audit_all"
)

// Service exposes the batch custody commands and provenance queries on top of
// a PersistentStore.
type Service struct {
	store    PersistentStore
	identity IdentityProvider
	archive  blob.Store
	clock    Clock
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder

	mu         sync.RWMutex
	thresholds domain.Thresholds
	plugins    map[string]PluginMetadata
}

type serviceOptions struct {
	clock      Clock
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	identity   IdentityProvider
	archive    blob.Store
	thresholds domain.Thresholds
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:     noopLogger{},
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		audit:      noopAuditRecorder{},
		identity:   &Directory{actors: map[string]Actor{}},
		thresholds: domain.DefaultThresholds(),
	}
}

// ServiceOption configures optional collaborators of a Service.
type ServiceOption func(*serviceOptions)

// WithClock overrides the time source used to stamp events.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder installs a metrics recorder. Recorders that also
// implement EventObserver receive every accepted custody event.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit recorder for ledger commands.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithIdentityProvider sets the actor directory consulted for every command.
func WithIdentityProvider(provider IdentityProvider) ServiceOption {
	return func(o *serviceOptions) {
		if provider != nil {
			o.identity = provider
		}
	}
}

// WithArchive sets the blob store used by ExportLedger.
func WithArchive(store blob.Store) ServiceOption {
	return func(o *serviceOptions) { o.archive = store }
}

// WithThresholds replaces the quality gate limits. Profiles without a version
// are ignored.
func WithThresholds(t domain.Thresholds) ServiceOption {
	return func(o *serviceOptions) {
		if strings.TrimSpace(t.Version) != "" {
			o.thresholds = t
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		store:      store,
		identity:   cfg.identity,
		archive:    cfg.archive,
		clock:      cfg.clock,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
		audit:      cfg.audit,
		thresholds: cfg.thresholds,
		plugins:    make(map[string]PluginMetadata),
	}
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Thresholds returns the quality gate limits currently in force.
func (s *Service) Thresholds() domain.Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

// TransitionRequest asks for one custody event to be appended to a batch.
// ExpectedSequence, when set, must equal the batch's head sequence.
type TransitionRequest struct {
	BatchID          string           `json:"batchId"`
	EventType        domain.EventType `json:"eventType"`
	ActorID          string           `json:"actorId"`
	Payload          json.RawMessage  `json:"payload,omitempty"`
	ExpectedSequence *int64           `json:"expectedSequence,omitempty"`
}

// Accepted is the outcome of a successful command. Idempotent is true when the
// request matched the ledger head and nothing was appended.
type Accepted struct {
	State      domain.State `json:"state"`
	Batch      Batch        `json:"batch"`
	Event      CustodyEvent `json:"event"`
	Idempotent bool         `json:"idempotent"`
	Warnings   []Violation  `json:"warnings,omitempty"`
}

// CreateBatch registers a harvest and opens its ledger with a Created event.
func (s *Service) CreateBatch(ctx context.Context, actorID string, rec domain.CreationRecord) (Accepted, error) {
	scope := &opScope{actorID: actorID}
	var out Accepted
	err := s.run(ctx, opCreateBatch, scope, func(ctx context.Context) error {
		actor, err := s.lookupActor(ctx, actorID)
		if err != nil {
			return err
		}
		if err := domain.Authorize(actor.Role, domain.EventCreated); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		payload, err := domain.CompactPayload(rec)
		if err != nil {
			return fmt.Errorf("encode creation record: %w", err)
		}
		scope.entityID = uuid.NewString()
		event := CustodyEvent{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			EventType: domain.EventCreated,
			Timestamp: s.now(),
			Payload:   payload,
		}
		res, err := s.store.RunInTransaction(ctx, scope.entityID, func(tx domain.Transaction) error {
			if _, exists := tx.Batch(); exists {
				return domain.Conflict("batch %s already exists", scope.entityID)
			}
			appended, batch, err := tx.Append(event)
			if err != nil {
				return err
			}
			out = Accepted{State: batch.State, Batch: batch, Event: appended}
			return nil
		})
		if err != nil {
			return translateTxError(err)
		}
		out.Warnings = warningsOf(res)
		s.observeEvent(ctx, out)
		return nil
	})
	if err != nil {
		return Accepted{}, err
	}
	return out, nil
}

// SubmitTransition validates and appends one custody event. Rejections are
// typed *domain.Error values and leave the ledger untouched.
func (s *Service) SubmitTransition(ctx context.Context, req TransitionRequest) (Accepted, error) {
	scope := &opScope{entityID: req.BatchID, actorID: req.ActorID}
	var out Accepted
	err := s.run(ctx, opSubmitTransition, scope, func(ctx context.Context) error {
		if strings.TrimSpace(req.BatchID) == "" {
			return domain.Invalid("batchId", "batch id is required")
		}
		if !req.EventType.Valid() {
			return domain.Invalid("eventType", "unknown event type %q", req.EventType)
		}
		p, err := s.prepare(ctx, req)
		if err != nil {
			return err
		}
		appended := false
		res, err := s.store.RunInTransaction(ctx, req.BatchID, func(tx domain.Transaction) error {
			batch, ok := tx.Batch()
			if !ok {
				return domain.NotFound(domain.EntityBatch, req.BatchID)
			}
			events := tx.Events()
			if _, err := verifyLedger(tx.Hasher(), batch, events); err != nil {
				return err
			}
			head := events[len(events)-1]
			if p.retries(tx.Hasher(), head) {
				out = Accepted{State: batch.State, Batch: batch, Event: head, Idempotent: true}
				return nil
			}
			if err := p.admit(batch, events); err != nil {
				return err
			}
			timestamp := s.now()
			if timestamp.Before(head.Timestamp) {
				timestamp = head.Timestamp
			}
			event, next, err := tx.Append(CustodyEvent{
				ActorID:   p.actor.ID,
				ActorRole: p.actor.Role,
				EventType: req.EventType,
				Timestamp: timestamp,
				Payload:   p.payload,
			})
			if err != nil {
				return err
			}
			out = Accepted{State: next.State, Batch: next, Event: event}
			appended = true
			return nil
		})
		if err != nil {
			return translateTxError(err)
		}
		out.Warnings = warningsOf(res)
		if appended {
			s.observeEvent(ctx, out)
		}
		return nil
	})
	if err != nil {
		return Accepted{}, err
	}
	return out, nil
}

// preparedTransition holds everything resolved before the batch lock is
// taken. Lookup failures are kept and reported at their place in the check
// order.
type preparedTransition struct {
	req        TransitionRequest
	actor      Actor
	actorErr   error
	payload    json.RawMessage
	payloadErr error
	agentID    string
	agent      Actor
	agentErr   error
}

func (s *Service) prepare(ctx context.Context, req TransitionRequest) (preparedTransition, error) {
	p := preparedTransition{req: req}
	p.actor, p.actorErr = s.lookupActor(ctx, req.ActorID)
	if p.actorErr != nil && domain.KindOf(p.actorErr) == "" {
		return p, p.actorErr
	}
	p.payload, p.payloadErr = s.normalizePayload(req.EventType, req.Payload)
	if req.EventType == domain.EventAssignedToAgency && p.payloadErr == nil {
		rec, err := domain.DecodePayload[domain.AssignmentRecord](p.payload)
		if err != nil {
			return p, err
		}
		p.agentID = rec.AgentID
		p.agent, p.agentErr = s.identity.GetActor(ctx, rec.AgentID)
		if p.agentErr != nil && !domain.IsKind(p.agentErr, domain.KindNotFound) {
			return p, fmt.Errorf("identity lookup %s: %w", rec.AgentID, p.agentErr)
		}
	}
	return p, nil
}

// retries reports whether the request repeats the ledger head exactly.
func (p preparedTransition) retries(h domain.Hasher, head CustodyEvent) bool {
	if head.EventType != p.req.EventType || head.ActorID != p.req.ActorID {
		return false
	}
	want := h.PayloadHash(head.Payload)
	if p.payloadErr == nil && h.PayloadHash(p.payload) == want {
		return true
	}
	return len(p.req.Payload) > 0 && h.PayloadHash(p.req.Payload) == want
}

// admit runs the ordered rejection checks that follow ledger verification.
// A request for an event type already present in the ledger that the current
// state no longer accepts is a stale retry and reports a conflict.
func (p preparedTransition) admit(batch Batch, events []CustodyEvent) error {
	evt := p.req.EventType
	if p.req.ExpectedSequence != nil && *p.req.ExpectedSequence != batch.LatestSequenceNumber {
		return domain.Conflict("expected sequence %d but head is %d", *p.req.ExpectedSequence, batch.LatestSequenceNumber)
	}
	if domain.IsTerminal(batch.State) {
		_, err := domain.NextState(batch.State, evt, "")
		return err
	}
	if p.actorErr != nil {
		return p.actorErr
	}
	if err := domain.Authorize(p.actor.Role, evt); err != nil {
		return err
	}
	if !domain.Allowed(batch.State, evt) {
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].EventType == evt {
				return domain.Conflict("%s already recorded at sequence %d", evt, events[i].SequenceNumber)
			}
		}
		_, err := domain.NextState(batch.State, evt, "")
		return err
	}
	if p.payloadErr != nil {
		return p.payloadErr
	}
	return p.checkPreconditions(batch)
}

func (p preparedTransition) checkPreconditions(batch Batch) error {
	actor := p.actor
	switch p.req.EventType {
	case domain.EventAssignedToAgency:
		if actor.Role == domain.RoleFarmer && batch.OriginActorID != actor.ID {
			return domain.Unauthorized(actor.Role, "only the origin farmer may assign batch %s", batch.ID)
		}
		if p.agentErr != nil {
			return domain.Invalid("agentId", "agent %s not found", p.agentID)
		}
		if p.agent.Role != domain.RoleCollectionAgent {
			return domain.Invalid("agentId", "actor %s is not a collection agent", p.agent.ID)
		}
	case domain.EventAssignmentAcknowledged:
		if actor.ID != batch.AssignedAgentID {
			return domain.Unauthorized(actor.Role, "actor %s is not the assigned agent", actor.ID)
		}
		if batch.AgentAcknowledged {
			return domain.Conflict("assignment of batch %s already acknowledged", batch.ID)
		}
	case domain.EventCollected:
		if actor.ID != batch.AssignedAgentID {
			return domain.Unauthorized(actor.Role, "actor %s is not the assigned agent", actor.ID)
		}
	case domain.EventInTransitMarked, domain.EventLabTestSubmitted, domain.EventDistributed:
		if actor.ID != batch.CurrentCustodianID {
			return domain.Unauthorized(actor.Role, "actor %s is not the custodian of batch %s", actor.ID, batch.ID)
		}
	case domain.EventProcessingSubmitted:
		if batch.State == domain.StateReceivedByManufacturer && actor.ID != batch.CurrentCustodianID {
			return domain.Unauthorized(actor.Role, "actor %s is not the custodian of batch %s", actor.ID, batch.ID)
		}
	}
	return nil
}

type payloadValidator interface {
	Validate() error
}

func decodeValid[T payloadValidator](raw json.RawMessage) (T, error) {
	rec, err := domain.DecodePayload[T](raw)
	if err != nil {
		return rec, err
	}
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

func normalizeAs[T payloadValidator](raw json.RawMessage) (json.RawMessage, error) {
	rec, err := decodeValid[T](raw)
	if err != nil {
		return nil, err
	}
	return compact(rec)
}

func compact(v any) (json.RawMessage, error) {
	out, err := domain.CompactPayload(v)
	if err != nil {
		return nil, domain.Invalid("payload", "encode payload: %v", err)
	}
	return out, nil
}

// normalizePayload decodes, validates and re-encodes a payload in canonical
// compact form. Laboratory payloads are stamped by the quality gate.
func (s *Service) normalizePayload(evt domain.EventType, raw json.RawMessage) (json.RawMessage, error) {
	switch evt {
	case domain.EventCreated:
		return normalizeAs[domain.CreationRecord](raw)
	case domain.EventAssignedToAgency:
		return normalizeAs[domain.AssignmentRecord](raw)
	case domain.EventAssignmentAcknowledged, domain.EventCollected, domain.EventInTransitMarked,
		domain.EventReceivedByLab, domain.EventReceivedByManufacturer:
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			raw = json.RawMessage("{}")
		}
		return normalizeAs[domain.HandoffRecord](raw)
	case domain.EventLabTestSubmitted:
		rec, err := decodeValid[domain.LabTestRecord](raw)
		if err != nil {
			return nil, err
		}
		stamped, err := domain.Stamp(rec, s.Thresholds())
		if err != nil {
			return nil, err
		}
		return compact(stamped)
	case domain.EventProcessingSubmitted:
		return normalizeAs[domain.ProcessingRecord](raw)
	case domain.EventDistributed:
		return normalizeAs[domain.DistributionRecord](raw)
	case domain.EventRecalled:
		return normalizeAs[domain.RecallRecord](raw)
	}
	return nil, domain.Invalid("eventType", "unknown event type %q", evt)
}

func (s *Service) lookupActor(ctx context.Context, id string) (Actor, error) {
	if strings.TrimSpace(id) == "" {
		return Actor{}, domain.Unauthorized("", "actor id is required")
	}
	actor, err := s.identity.GetActor(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return Actor{}, domain.Unauthorized("", "unknown actor %s", id)
		}
		return Actor{}, fmt.Errorf("identity lookup %s: %w", id, err)
	}
	if !actor.Role.Valid() {
		return Actor{}, domain.Unauthorized(actor.Role, "actor %s has no recognised role", id)
	}
	return actor, nil
}

// verifyLedger recomputes the chain, replays it and compares the result with
// the cached summary. It returns the replayed batch.
func verifyLedger(h domain.Hasher, batch Batch, events []CustodyEvent) (Batch, error) {
	if len(events) == 0 {
		return Batch{}, domain.Corrupt(1, "ledger of batch %s is empty", batch.ID)
	}
	if err := h.VerifyChain(batch.ID, events); err != nil {
		return Batch{}, err
	}
	replayed, err := domain.Replay(events)
	if err != nil {
		return Batch{}, err
	}
	if !domain.SameHead(batch, replayed) {
		seq := min(batch.LatestSequenceNumber+1, int64(len(events)))
		if seq < 1 {
			seq = 1
		}
		return Batch{}, domain.Corrupt(seq, "batch summary disagrees with ledger replay")
	}
	return replayed, nil
}

func translateTxError(err error) error {
	var rv RuleViolationError
	if errors.As(err, &rv) {
		if v, ok := rv.Result.Blocking(); ok {
			return domain.ErrorFromViolation(v)
		}
	}
	return err
}

func warningsOf(res Result) []Violation {
	var out []Violation
	for _, v := range res.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) observeEvent(ctx context.Context, accepted Accepted) {
	if obs, ok := s.metrics.(EventObserver); ok {
		obs.ObserveEvent(ctx, accepted.Event.EventType, accepted.State)
	}
}

// BatchFilter narrows ListBatches. Empty fields match everything.
type BatchFilter struct {
	State         domain.State `json:"state,omitempty"`
	CustodianID   string       `json:"custodianId,omitempty"`
	OriginActorID string       `json:"originActorId,omitempty"`
}

func (f BatchFilter) matches(b Batch) bool {
	return (f.State == "" || b.State == f.State) &&
		(f.CustodianID == "" || b.CurrentCustodianID == f.CustodianID) &&
		(f.OriginActorID == "" || b.OriginActorID == f.OriginActorID)
}

// Ledger is the raw audit view of one batch.
type Ledger struct {
	Batch     Batch                `json:"batch"`
	Events    []CustodyEvent       `json:"events"`
	Algorithm domain.HashAlgorithm `json:"algorithm"`
}

// GetBatch returns the cached summary of a batch.
func (s *Service) GetBatch(ctx context.Context, id string) (Batch, error) {
	var out Batch
	err := s.run(ctx, opGetBatch, &opScope{entityID: id}, func(context.Context) error {
		b, ok := s.store.GetBatch(id)
		if !ok {
			return domain.NotFound(domain.EntityBatch, id)
		}
		out = b
		return nil
	})
	return out, err
}

// ListBatches returns the batches matching filter, oldest first.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	var out []Batch
	err := s.run(ctx, opListBatches, &opScope{}, func(context.Context) error {
		for _, b := range s.store.ListBatches() {
			if filter.matches(b) {
				out = append(out, b)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		return nil
	})
	return out, err
}

// GetLedger returns the batch summary and its events as stored. The chain is
// not verified; VerifyToken and AuditAll do that.
func (s *Service) GetLedger(ctx context.Context, id string) (Ledger, error) {
	var out Ledger
	err := s.run(ctx, opGetLedger, &opScope{entityID: id}, func(ctx context.Context) error {
		batch, events, err := s.snapshot(ctx, id)
		if err != nil {
			return err
		}
		out = Ledger{Batch: batch, Events: events, Algorithm: s.store.Hasher().Algorithm()}
		return nil
	})
	return out, err
}

// snapshot reads a batch and its events from one published head.
func (s *Service) snapshot(ctx context.Context, id string) (Batch, []CustodyEvent, error) {
	var (
		batch  Batch
		events []CustodyEvent
	)
	err := s.store.View(ctx, id, func(v domain.TransactionView) error {
		b, ok := v.FindBatch(id)
		if !ok {
			return domain.NotFound(domain.EntityBatch, id)
		}
		batch, events = b, v.ListEvents(id)
		return nil
	})
	return batch, events, err
}

// InstallPlugin registers a compliance pack's rules and threshold profile.
// Plugins are installed at startup before traffic is served.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, errors.New("plugin cannot be nil")
	}
	name := strings.TrimSpace(plugin.Name())
	if name == "" {
		return PluginMetadata{}, errors.New("plugin name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plugins[name]; exists {
		return PluginMetadata{}, fmt.Errorf("plugin %s already installed", name)
	}
	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, fmt.Errorf("register plugin %s: %w", name, err)
	}
	meta := PluginMetadata{Name: name, Version: plugin.Version(), Requirements: registry.Requirements()}
	if t, ok := registry.Thresholds(); ok {
		for _, other := range s.plugins {
			if other.ThresholdsVersion != "" {
				return PluginMetadata{}, fmt.Errorf("plugin %s: threshold profile already provided by %s", name, other.Name)
			}
		}
		meta.ThresholdsVersion = t.Version
	}
	rules := registry.Rules()
	engine := s.store.RulesEngine()
	if len(rules) > 0 && engine == nil {
		return PluginMetadata{}, fmt.Errorf("plugin %s: store has no rules engine", name)
	}
	for _, rule := range rules {
		engine.Register(rule)
		meta.Rules = append(meta.Rules, rule.Name())
	}
	if t, ok := registry.Thresholds(); ok {
		s.thresholds = t
	}
	s.plugins[name] = meta
	s.logger.Info("plugin installed", "plugin", name, "version", meta.Version, "rules", len(meta.Rules), "thresholds", meta.ThresholdsVersion)
	return meta, nil
}

// RegisteredPlugins lists installed plugins ordered by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPluginMetadata(s.plugins)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// opScope names the batch and actor an operation touches. Commands fill in
// the batch id once it is assigned.
type opScope struct {
	entityID string
	actorID  string
}

// run wraps an operation with tracing, metrics, logging and auditing.
func (s *Service) run(ctx context.Context, op string, scope *opScope, fn func(context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	duration := s.clock.Now().Sub(start)
	if duration < 0 {
		duration = 0
	}
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.logOutcome(op, *scope, duration, err)
	s.recordAudit(ctx, op, *scope, duration, err)
	return err
}

func (s *Service) logOutcome(op string, scope opScope, duration time.Duration, err error) {
	args := []any{"operation", op, "durationMs", duration.Milliseconds()}
	if scope.entityID != "" {
		args = append(args, "batchId", scope.entityID)
	}
	if scope.actorID != "" {
		args = append(args, "actorId", scope.actorID)
	}
	switch kind := domain.KindOf(err); {
	case err == nil:
		s.logger.Debug("operation completed", args...)
	case kind == domain.KindCorruptLedger:
		s.logger.Error("ledger verification failed", append(args, "error", err.Error())...)
	case kind != "":
		s.logger.Warn("operation rejected", append(args, "kind", string(kind), "error", err.Error())...)
	default:
		s.logger.Error("operation failed", append(args, "error", err.Error())...)
	}
}

func (s *Service) recordAudit(ctx context.Context, op string, scope opScope, duration time.Duration, err error) {
	target, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  scope.entityID,
		ActorID:   scope.actorID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.ErrorKind = domain.KindOf(err)
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
