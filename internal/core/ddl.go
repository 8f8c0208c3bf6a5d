package core

import (
	"context"
	"fmt"
	"strings"

	db "github.com/JonMunkholm/ingest/internal/database"
)

// IngestedAtColumn is appended to every target table and refreshed on update.
const IngestedAtColumn = "ingested_at"

// TableRef names a target table, optionally qualified by schema.
type TableRef struct {
	Schema string
	Name   string
}

// String returns the quoted, possibly qualified, table name.
func (t TableRef) String() string {
	if t.Schema == "" {
		return quoteIdentifier(t.Name)
	}
	return quoteIdentifier(t.Schema) + "." + quoteIdentifier(t.Name)
}

// SQLType returns the Postgres column type for a field type.
func SQLType(ft FieldType) string {
	switch ft {
	case FieldInteger:
		return "bigint"
	case FieldNumeric:
		return "numeric"
	case FieldDate:
		return "date"
	case FieldTimestamp:
		return "timestamptz"
	case FieldBool:
		return "boolean"
	default:
		return "text"
	}
}

// EnsureTable creates the target table when it does not exist and adds any
// missing columns. It runs in its own short transaction under an advisory
// lock scoped to the table so concurrent first loads do not race.
func EnsureTable(ctx context.Context, pool TxBeginner, table TableRef, specs []FieldSpec) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ensure table: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := db.New(tx).AcquireXactLock(ctx, LockKey("ddl:"+table.String())); err != nil {
		return fmt.Errorf("lock table %s: %w", table, err)
	}

	for _, stmt := range ensureTableSQL(table, specs) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

// ensureTableSQL returns the CREATE TABLE statement followed by one
// ADD COLUMN IF NOT EXISTS per column.
func ensureTableSQL(table TableRef, specs []FieldSpec) []string {
	defs := make([]string, 0, len(specs)+1)
	for _, s := range specs {
		defs = append(defs, columnDef(s))
	}
	ingested := quoteIdentifier(IngestedAtColumn) + " timestamptz NOT NULL DEFAULT now()"
	defs = append(defs, ingested)

	stmts := make([]string, 0, len(specs)+1)
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		table, strings.Join(defs, ",\n    ")))
	for _, s := range specs {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", table, columnDef(s)))
	}
	return stmts
}

func columnDef(s FieldSpec) string {
	return quoteIdentifier(s.Name) + " " + SQLType(s.Type)
}

// quoteIdentifier safely quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdentifiers(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdentifier(n)
	}
	return out
}
