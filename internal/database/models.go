package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// LedgerStatus is the terminal outcome of one ingestion attempt.
type LedgerStatus string

const (
	StatusSuccess LedgerStatus = "success"
	StatusSkipped LedgerStatus = "skipped"
	StatusError   LedgerStatus = "error"
)

// LedgerEntry is one row of ingest_ledger.
type LedgerEntry struct {
	ID           int64              `json:"id"`
	RunID        pgtype.UUID        `json:"run_id"`
	SourceURI    string             `json:"source_uri"`
	TargetTable  string             `json:"target_table"`
	Dialect      string             `json:"dialect"`
	FileHash     string             `json:"file_hash"`
	Rows         int64              `json:"rows"`
	Status       LedgerStatus       `json:"status"`
	Warnings     []string           `json:"warnings"`
	ErrorSummary pgtype.Text        `json:"error_summary"`
	StartedAt    pgtype.Timestamptz `json:"started_at"`
	FinishedAt   pgtype.Timestamptz `json:"finished_at"`
}
