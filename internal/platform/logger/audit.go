package logger

import (
	"context"

	"herbtrace/internal/core"
)

// AuditRecorder writes ledger command audit entries as structured log lines
// under the "audit" logger name.
type AuditRecorder struct {
	log *Logger
}

var _ core.AuditRecorder = (*AuditRecorder)(nil)

// NewAuditRecorder returns a recorder logging through l.
func NewAuditRecorder(l *Logger) *AuditRecorder {
	return &AuditRecorder{log: &Logger{SugaredLogger: l.SugaredLogger.Named("audit")}}
}

// Record logs entry. Failed commands are logged at warn.
func (r *AuditRecorder) Record(_ context.Context, entry core.AuditEntry) {
	fields := []any{
		"operation", entry.Operation,
		"entity", string(entry.Entity),
		"action", string(entry.Action),
		"entityId", entry.EntityID,
		"actorId", entry.ActorID,
		"status", string(entry.Status),
		"duration", entry.Duration,
		"at", entry.Timestamp,
	}
	if entry.Status == core.AuditStatusError {
		fields = append(fields, "kind", string(entry.ErrorKind), "error", entry.Error)
		r.log.Warn("ledger command", fields...)
		return
	}
	r.log.Info("ledger command", fields...)
}
