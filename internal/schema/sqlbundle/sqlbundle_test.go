package sqlbundle

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	for name, ddl := range map[string]string{"sqlite": SQLite(), "postgres": Postgres()} {
		stmts := SplitStatements(ddl)
		if len(stmts) != 5 {
			t.Fatalf("%s: expected 5 statements, got %d", name, len(stmts))
		}
		for _, stmt := range stmts {
			if strings.HasPrefix(strings.TrimSpace(stmt), "--") {
				t.Fatalf("%s: statement unexpectedly starts with comment: %q", name, stmt)
			}
			if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
				t.Fatalf("%s: statement missing semicolon terminator: %q", name, stmt)
			}
		}
		if !strings.Contains(ddl, "PRIMARY KEY (batch_id, sequence_number)") {
			t.Fatalf("%s: ledger must be keyed by batch and sequence", name)
		}
	}
}

func TestSplitStatementsKeepsUnterminatedTail(t *testing.T) {
	stmts := SplitStatements("-- comment\nSELECT 1;\n\nSELECT 2")
	if len(stmts) != 2 || stmts[1] != "SELECT 2" {
		t.Fatalf("unexpected statements %q", stmts)
	}
}
