package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const acquireXactLock = `SELECT pg_advisory_xact_lock($1)`

// AcquireXactLock blocks until the transaction-scoped advisory lock on key is
// held. It is released automatically at commit or rollback.
func (q *Queries) AcquireXactLock(ctx context.Context, key int64) error {
	_, err := q.db.Exec(ctx, acquireXactLock, key)
	return err
}

const hasSuccessfulLoad = `SELECT EXISTS (
    SELECT 1 FROM ingest_ledger
    WHERE target_table = $1 AND file_hash = $2 AND status = 'success'
)`

func (q *Queries) HasSuccessfulLoad(ctx context.Context, targetTable, fileHash string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, hasSuccessfulLoad, targetTable, fileHash).Scan(&exists)
	return exists, err
}

const insertLedgerEntry = `INSERT INTO ingest_ledger (
    run_id, source_uri, target_table, dialect, file_hash,
    rows, status, warnings, error_summary, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
RETURNING id`

type InsertLedgerEntryParams struct {
	RunID        pgtype.UUID
	SourceURI    string
	TargetTable  string
	Dialect      string
	FileHash     string
	Rows         int64
	Status       LedgerStatus
	Warnings     []string
	ErrorSummary pgtype.Text
	StartedAt    pgtype.Timestamptz
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (int64, error) {
	warnings := arg.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	var id int64
	err := q.db.QueryRow(ctx, insertLedgerEntry,
		arg.RunID,
		arg.SourceURI,
		arg.TargetTable,
		arg.Dialect,
		arg.FileHash,
		arg.Rows,
		string(arg.Status),
		warnings,
		arg.ErrorSummary,
		arg.StartedAt,
	).Scan(&id)
	return id, err
}

const listLedgerEntries = `SELECT id, run_id, source_uri, target_table, dialect, file_hash,
       rows, status, warnings, error_summary, started_at, finished_at
FROM ingest_ledger
WHERE ($1::text = '' OR target_table = $1)
  AND ($2::text = '' OR status = $2)
  AND ($3::text = '' OR file_hash = $3)
ORDER BY finished_at DESC, id DESC
LIMIT $4`

type ListLedgerEntriesParams struct {
	TargetTable string
	Status      string
	FileHash    string
	Limit       int32
}

func (q *Queries) ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntries,
		arg.TargetTable,
		arg.Status,
		arg.FileHash,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LedgerEntry, error) {
		var e LedgerEntry
		var status string
		err := row.Scan(
			&e.ID,
			&e.RunID,
			&e.SourceURI,
			&e.TargetTable,
			&e.Dialect,
			&e.FileHash,
			&e.Rows,
			&status,
			&e.Warnings,
			&e.ErrorSummary,
			&e.StartedAt,
			&e.FinishedAt,
		)
		e.Status = LedgerStatus(status)
		return e, err
	})
}

const countLedgerEntries = `SELECT count(*) FROM ingest_ledger
WHERE target_table = $1 AND file_hash = $2 AND status = $3`

func (q *Queries) CountLedgerEntries(ctx context.Context, targetTable, fileHash string, status LedgerStatus) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countLedgerEntries, targetTable, fileHash, string(status)).Scan(&n)
	return n, err
}
