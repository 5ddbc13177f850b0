package domain

import "context"

// Transaction is the atomic unit of work over one batch ledger. It is held
// under the batch's exclusive write lock for its whole lifetime.
type Transaction interface {
	Snapshot() TransactionView
	// Batch returns the staged summary; false when the batch does not exist.
	Batch() (Batch, bool)
	// Events returns the staged ledger ordered by sequence number.
	Events() []CustodyEvent
	// Append seals e onto the ledger head, folds it into the summary and
	// stages both. Sequence number and hashes are assigned by the store.
	Append(e CustodyEvent) (CustodyEvent, Batch, error)
	Hasher() Hasher
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// Commit is the durable unit produced by a successful transaction: exactly
// one appended event and the summary it produced.
type Commit struct {
	Event   CustodyEvent
	Batch   Batch
	Created bool
}

// PersistentStore abstracts the ledger backends. Reads never block writers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, batchID string, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, batchID string, fn func(TransactionView) error) error
	GetBatch(id string) (Batch, bool)
	ListBatches() []Batch
	ListEvents(batchID string) ([]CustodyEvent, bool)
	Hasher() Hasher
	RulesEngine() *RulesEngine
}
