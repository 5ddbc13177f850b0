// Package memory provides the in-memory ledger store. It is the transactional
// core shared by every durable backend, which wrap it and persist each commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"herbtrace/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Batch aliases domain.Batch.
	Batch = domain.Batch
	// CustodyEvent aliases domain.CustodyEvent.
	CustodyEvent = domain.CustodyEvent
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook durably records a commit before it becomes visible. A non-nil
// error aborts the transaction and leaves the published head untouched.
type CommitHook func(ctx context.Context, c domain.Commit) error

// StaleHeadError is returned by a commit hook whose backend already holds a
// newer ledger for the batch than the store. The store publishes Batch and
// Events as the batch's head and reports Err to the caller.
type StaleHeadError struct {
	Batch  Batch
	Events []CustodyEvent
	Err    error
}

func (e *StaleHeadError) Error() string { return e.Err.Error() }

func (e *StaleHeadError) Unwrap() error { return e.Err }

// ErrMultipleAppends is returned when a transaction tries to append twice.
var ErrMultipleAppends = errors.New("memory: a transaction appends at most one event")

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Batches map[string]Batch          `json:"batches"`
	Events  map[string][]CustodyEvent `json:"events"`
}

// head is the immutable published view of one batch. Writers only ever
// append beyond len(events), so readers holding an older head never observe
// later writes.
type head struct {
	batch  Batch
	events []CustodyEvent
}

type ledger struct {
	mu      sync.Mutex
	retired bool
	current atomic.Pointer[head]
}

// Store provides an in-memory transactional ledger store.
type Store struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger
	engine  *RulesEngine
	hasher  domain.Hasher
	commit  CommitHook
	nowFn   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHasher selects the digest used to seal events.
func WithHasher(h domain.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithCommitHook registers the durable commit callback.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commit = hook }
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		ledgers: make(map[string]*ledger),
		engine:  engine,
		hasher:  domain.DefaultHasher(),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the durable commit callback. Durable stores call it
// once after hydrating.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit = hook
}

// RulesEngine exposes the currently configured engine for integration points like plugins.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// Hasher returns the store-wide digest.
func (s *Store) Hasher() domain.Hasher {
	return s.hasher
}

func (s *Store) lookup(batchID string) *ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgers[batchID]
}

func (s *Store) ledgerFor(batchID string) *ledger {
	if l := s.lookup(batchID); l != nil {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.ledgers[batchID]; ok {
		return l
	}
	l := &ledger{}
	s.ledgers[batchID] = l
	return l
}

// lockLedger returns the batch's ledger with its write lock held. A ledger
// retired by a failed create is replaced by a fresh one.
func (s *Store) lockLedger(batchID string) *ledger {
	for {
		l := s.ledgerFor(batchID)
		l.mu.Lock()
		if !l.retired {
			return l
		}
		l.mu.Unlock()
	}
}

func (s *Store) retire(batchID string, l *ledger) {
	l.retired = true
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgers[batchID] == l {
		delete(s.ledgers, batchID)
	}
}

func (s *Store) hook() CommitHook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commit
}

// RunInTransaction executes fn under the batch's exclusive write lock. When fn
// appends an event, rules are evaluated over the staged changes, the commit
// hook persists it and only then is the new head published to readers.
func (s *Store) RunInTransaction(ctx context.Context, batchID string, fn func(tx Transaction) error) (Result, error) {
	if batchID == "" {
		return Result{}, domain.Invalid("batchId", "batch id is required")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	l := s.lockLedger(batchID)
	defer l.mu.Unlock()

	cur := l.current.Load()
	tx := &transaction{store: s, batchID: batchID, now: s.nowFn()}
	if cur != nil {
		tx.batch = cur.batch
		tx.events = cur.events
		tx.exists = true
	}

	abort := func() {
		if cur == nil {
			s.retire(batchID, l)
		}
	}

	if err := fn(tx); err != nil {
		abort()
		return Result{}, err
	}
	if tx.appended == nil {
		abort()
		return Result{}, nil
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.Snapshot(), tx.changes)
		if err != nil {
			abort()
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			abort()
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		abort()
		return result, err
	}
	if hook := s.hook(); hook != nil {
		commit := domain.Commit{Event: *tx.appended, Batch: tx.batch, Created: cur == nil}
		if err := hook(ctx, commit); err != nil {
			var stale *StaleHeadError
			if cur != nil && errors.As(err, &stale) && stale.Batch.LatestSequenceNumber > cur.batch.LatestSequenceNumber {
				l.current.Store(&head{batch: stale.Batch, events: cloneEvents(stale.Events)})
				return result, fmt.Errorf("durable commit: %w", stale.Err)
			}
			abort()
			return result, fmt.Errorf("durable commit: %w", err)
		}
	}
	l.current.Store(&head{batch: tx.batch, events: tx.events})
	return result, nil
}

// View executes fn against the latest published snapshot of one batch.
func (s *Store) View(_ context.Context, batchID string, fn func(TransactionView) error) error {
	h := s.headOf(batchID)
	if h == nil {
		return domain.NotFound(domain.EntityBatch, batchID)
	}
	return fn(headView{batchID: batchID, head: h})
}

func (s *Store) headOf(batchID string) *head {
	l := s.lookup(batchID)
	if l == nil {
		return nil
	}
	return l.current.Load()
}

// GetBatch returns the published summary of a batch.
func (s *Store) GetBatch(id string) (Batch, bool) {
	h := s.headOf(id)
	if h == nil {
		return Batch{}, false
	}
	return h.batch, true
}

// ListEvents returns a copy of the published ledger of a batch.
func (s *Store) ListEvents(batchID string) ([]CustodyEvent, bool) {
	h := s.headOf(batchID)
	if h == nil {
		return nil, false
	}
	return cloneEvents(h.events), true
}

// ListBatches returns every published batch ordered by creation time.
func (s *Store) ListBatches() []Batch {
	s.mu.RLock()
	out := make([]Batch, 0, len(s.ledgers))
	for _, l := range s.ledgers {
		if h := l.current.Load(); h != nil {
			out = append(out, h.batch)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Batches: make(map[string]Batch, len(s.ledgers)),
		Events:  make(map[string][]CustodyEvent, len(s.ledgers)),
	}
	for id, l := range s.ledgers {
		h := l.current.Load()
		if h == nil {
			continue
		}
		snap.Batches[id] = h.batch
		snap.Events[id] = cloneEvents(h.events)
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot. Events are
// ordered by sequence number but otherwise loaded as-is; integrity is checked
// on the next read or write, never repaired here.
func (s *Store) ImportState(snapshot Snapshot) {
	ledgers := make(map[string]*ledger, len(snapshot.Batches))
	for id, batch := range snapshot.Batches {
		events := cloneEvents(snapshot.Events[id])
		sort.SliceStable(events, func(i, j int) bool { return events[i].SequenceNumber < events[j].SequenceNumber })
		l := &ledger{}
		l.current.Store(&head{batch: batch, events: events})
		ledgers[id] = l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers = ledgers
}

func cloneEvents(events []CustodyEvent) []CustodyEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]CustodyEvent, len(events))
	for i, e := range events {
		e.Payload = append([]byte(nil), e.Payload...)
		out[i] = e
	}
	return out
}

type headView struct {
	batchID string
	head    *head
}

func (v headView) FindBatch(id string) (Batch, bool) {
	if id != v.batchID || v.head == nil {
		return Batch{}, false
	}
	return v.head.batch, true
}

func (v headView) ListEvents(batchID string) []CustodyEvent {
	if batchID != v.batchID || v.head == nil {
		return nil
	}
	return cloneEvents(v.head.events)
}

type transaction struct {
	store    *Store
	batchID  string
	batch    Batch
	exists   bool
	events   []CustodyEvent
	appended *CustodyEvent
	changes  []Change
	now      time.Time
}

func (tx *transaction) Snapshot() TransactionView {
	if !tx.exists {
		return headView{batchID: tx.batchID}
	}
	return headView{batchID: tx.batchID, head: &head{batch: tx.batch, events: tx.events}}
}

func (tx *transaction) Batch() (Batch, bool) {
	return tx.batch, tx.exists
}

func (tx *transaction) Events() []CustodyEvent {
	return cloneEvents(tx.events)
}

func (tx *transaction) Hasher() domain.Hasher {
	return tx.store.hasher
}

func (tx *transaction) Append(e CustodyEvent) (CustodyEvent, Batch, error) {
	if tx.appended != nil {
		return CustodyEvent{}, Batch{}, ErrMultipleAppends
	}
	e.BatchID = tx.batchID
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = tx.now
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Payload = append([]byte(nil), e.Payload...)

	var prev *CustodyEvent
	if n := len(tx.events); n > 0 {
		prev = &tx.events[n-1]
	}
	sealed, err := tx.store.hasher.Seal(e, prev)
	if err != nil {
		return CustodyEvent{}, Batch{}, fmt.Errorf("seal event: %w", err)
	}
	before := tx.batch
	next, err := domain.Apply(before, sealed)
	if err != nil {
		return CustodyEvent{}, Batch{}, err
	}

	if err := tx.record(sealed, before, next); err != nil {
		return CustodyEvent{}, Batch{}, err
	}
	tx.events = append(tx.events, sealed)
	tx.batch = next
	tx.exists = true
	tx.appended = &tx.events[len(tx.events)-1]
	return sealed, next, nil
}

func (tx *transaction) record(event CustodyEvent, before, after Batch) error {
	eventPayload, err := domain.NewChangePayloadFromValue(event)
	if err != nil {
		return fmt.Errorf("encode event change: %w", err)
	}
	afterPayload, err := domain.NewChangePayloadFromValue(after)
	if err != nil {
		return fmt.Errorf("encode batch change: %w", err)
	}
	batchChange := Change{Entity: domain.EntityBatch, Action: domain.ActionCreate, Before: domain.UndefinedChangePayload(), After: afterPayload}
	if tx.exists {
		beforePayload, err := domain.NewChangePayloadFromValue(before)
		if err != nil {
			return fmt.Errorf("encode batch change: %w", err)
		}
		batchChange.Action = domain.ActionUpdate
		batchChange.Before = beforePayload
	}
	tx.changes = append(tx.changes,
		Change{Entity: domain.EntityCustodyEvent, Action: domain.ActionCreate, Before: domain.UndefinedChangePayload(), After: eventPayload},
		batchChange,
	)
	return nil
}
