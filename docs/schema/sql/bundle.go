// Package sqldocs exposes the custody ledger DDL directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the ledger DDL for SQLite.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the ledger DDL for Postgres.
//
//go:embed postgres.sql
var Postgres string
