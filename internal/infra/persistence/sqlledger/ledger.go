// Package sqlledger holds the row mapping shared by the SQL ledger stores:
// applying DDL, hydrating a memory snapshot and writing one commit.
package sqlledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/internal/schema/sqlbundle"
	"herbtrace/pkg/domain"
)

// Dialect captures the placeholder syntax of a SQL backend.
type Dialect struct {
	Name        string
	Placeholder func(n int) string
}

// SQLite binds with question marks.
var SQLite = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }}

// Postgres binds with numbered parameters.
var Postgres = Dialect{Name: "postgres", Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}

func (d Dialect) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyDDL executes every statement of a DDL bundle.
func ApplyDDL(ctx context.Context, db Execer, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

const (
	eventColumns  = `batch_id, sequence_number, event_id, actor_id, actor_role, event_type, event_ts, payload, previous_hash, content_hash`
	selectBatches = `SELECT batch_id, summary FROM batches`
	selectEvents  = `SELECT ` + eventColumns + ` FROM custody_events ORDER BY batch_id, sequence_number`
	selectBatch   = `SELECT summary FROM batches WHERE batch_id = ?`
	selectLedger  = `SELECT ` + eventColumns + ` FROM custody_events WHERE batch_id = ? ORDER BY sequence_number`
	selectMeta    = `SELECT meta_value FROM ledger_meta WHERE meta_key = ?`
	insertMeta    = `INSERT INTO ledger_meta (meta_key, meta_value) VALUES (?, ?)`
	insertBatch   = `INSERT INTO batches (batch_id, state, current_custodian_id, latest_sequence_number, latest_content_hash, summary, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	updateBatch   = `UPDATE batches SET state = ?, current_custodian_id = ?, latest_sequence_number = ?, latest_content_hash = ?, summary = ?, updated_at = ? WHERE batch_id = ? AND latest_sequence_number = ?`
	insertEvent   = `INSERT INTO custody_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	hashAlgorithmKey = "hash_algorithm"
)

// EnsureAlgorithm records alg as the digest of the stored ledgers on first
// use. A store sealed with another digest is refused.
func EnsureAlgorithm(ctx context.Context, db *sql.DB, d Dialect, alg domain.HashAlgorithm) error {
	var stored string
	err := db.QueryRowContext(ctx, d.bind(selectMeta), hashAlgorithmKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, d.bind(insertMeta), hashAlgorithmKey, string(alg)); err != nil {
			return fmt.Errorf("record hash algorithm: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read hash algorithm: %w", err)
	case domain.HashAlgorithm(stored) != alg:
		return domain.Invalid("hashAlgorithm", "ledger is sealed with %s but %s is configured", stored, alg)
	}
	return nil
}

// Load reads every batch summary and ledger into a memory snapshot.
func Load(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snap := memory.Snapshot{
		Batches: map[string]domain.Batch{},
		Events:  map[string][]domain.CustodyEvent{},
	}
	rows, err := db.QueryContext(ctx, selectBatches)
	if err != nil {
		return snap, fmt.Errorf("select batches: %w", err)
	}
	for rows.Next() {
		var id string
		var summary []byte
		if err := rows.Scan(&id, &summary); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("scan batch: %w", err)
		}
		var b domain.Batch
		if err := json.Unmarshal(summary, &b); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("decode batch %s: %w", id, err)
		}
		snap.Batches[id] = b
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return snap, fmt.Errorf("iterate batches: %w", err)
	}
	_ = rows.Close()

	rows, err = db.QueryContext(ctx, selectEvents)
	if err != nil {
		return snap, fmt.Errorf("select events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return snap, err
	}
	for _, e := range events {
		snap.Events[e.BatchID] = append(snap.Events[e.BatchID], e)
	}
	return snap, nil
}

// LoadBatch reads the stored summary and ledger of one batch.
func LoadBatch(ctx context.Context, db *sql.DB, d Dialect, batchID string) (domain.Batch, []domain.CustodyEvent, error) {
	var b domain.Batch
	var summary []byte
	if err := db.QueryRowContext(ctx, d.bind(selectBatch), batchID).Scan(&summary); err != nil {
		return b, nil, fmt.Errorf("select batch %s: %w", batchID, err)
	}
	if err := json.Unmarshal(summary, &b); err != nil {
		return b, nil, fmt.Errorf("decode batch %s: %w", batchID, err)
	}
	rows, err := db.QueryContext(ctx, d.bind(selectLedger), batchID)
	if err != nil {
		return b, nil, fmt.Errorf("select events of %s: %w", batchID, err)
	}
	events, err := scanEvents(rows)
	return b, events, err
}

func scanEvents(rows *sql.Rows) ([]domain.CustodyEvent, error) {
	defer func() { _ = rows.Close() }()
	var out []domain.CustodyEvent
	for rows.Next() {
		var e domain.CustodyEvent
		var role, evt, ts string
		var payload []byte
		if err := rows.Scan(&e.BatchID, &e.SequenceNumber, &e.ID, &e.ActorID, &role, &evt, &ts, &payload, &e.PreviousHash, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event %s/%d timestamp: %w", e.BatchID, e.SequenceNumber, err)
		}
		e.Timestamp = parsed.UTC()
		e.ActorRole = domain.Role(role)
		e.EventType = domain.EventType(evt)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// RefreshOnConflict turns a lost head race reported by WriteCommit into a
// memory.StaleHeadError carrying the stored ledger, so the writer's in-memory
// head catches up. Other errors are returned unchanged.
func RefreshOnConflict(ctx context.Context, db *sql.DB, d Dialect, batchID string, err error) error {
	if err == nil || !domain.IsKind(err, domain.KindDuplicateConflict) {
		return err
	}
	batch, events, loadErr := LoadBatch(ctx, db, d, batchID)
	if loadErr != nil {
		return fmt.Errorf("%w (reload failed: %v)", err, loadErr)
	}
	return &memory.StaleHeadError{Batch: batch, Events: events, Err: err}
}

// WriteCommit persists one appended event and its summary in a single SQL
// transaction. The summary update is guarded by the previous head sequence; a
// writer that lost the race to another process gets a DuplicateConflict.
func WriteCommit(ctx context.Context, db *sql.DB, d Dialect, c domain.Commit) (retErr error) {
	summary, err := json.Marshal(c.Batch)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	b := c.Batch
	if c.Created {
		if _, err := tx.ExecContext(ctx, d.bind(insertBatch),
			b.ID, string(b.State), b.CurrentCustodianID, b.LatestSequenceNumber, b.LatestContentHash, string(summary),
			formatTime(b.CreatedAt), formatTime(b.UpdatedAt)); err != nil {
			return fmt.Errorf("insert batch %s: %w", b.ID, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, d.bind(updateBatch),
			string(b.State), b.CurrentCustodianID, b.LatestSequenceNumber, b.LatestContentHash, string(summary),
			formatTime(b.UpdatedAt), b.ID, c.Event.SequenceNumber-1)
		if err != nil {
			return fmt.Errorf("update batch %s: %w", b.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update batch %s: rows affected: %w", b.ID, err)
		}
		if n != 1 {
			return domain.Conflict("stored head of batch %s moved past sequence %d", b.ID, c.Event.SequenceNumber-1)
		}
	}

	e := c.Event
	if _, err := tx.ExecContext(ctx, d.bind(insertEvent),
		e.BatchID, e.SequenceNumber, e.ID, e.ActorID, string(e.ActorRole), string(e.EventType),
		formatTime(e.Timestamp), string(e.Payload), e.PreviousHash, e.ContentHash); err != nil {
		return fmt.Errorf("insert event %s/%d: %w", e.BatchID, e.SequenceNumber, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
