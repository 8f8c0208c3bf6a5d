package core

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	db "github.com/JonMunkholm/ingest/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// MaxErrorSummary bounds the error text stored in a ledger row, in characters.
const MaxErrorSummary = 1000

// DefaultLedgerLimit is used by Recent when the filter sets no limit.
const DefaultLedgerLimit = 50

// Pool is a connection pool that can also open transactions.
// Satisfied by *pgxpool.Pool.
type Pool interface {
	DBTX
	TxBeginner
}

// Ledger records the outcome of every job that reached the load
// transaction. Rows are append-only.
type Ledger struct {
	pool Pool
}

// NewLedger returns a ledger backed by pool.
func NewLedger(pool Pool) *Ledger {
	return &Ledger{pool: pool}
}

// LedgerRecord is one outcome to append.
type LedgerRecord struct {
	RunID       uuid.UUID
	SourceURI   string
	TargetTable string
	Dialect     string
	FileHash    string
	Rows        int64
	Status      db.LedgerStatus
	Warnings    []string
	StartedAt   time.Time
}

func (r LedgerRecord) params() db.InsertLedgerEntryParams {
	return db.InsertLedgerEntryParams{
		RunID:       pgtype.UUID{Bytes: r.RunID, Valid: true},
		SourceURI:   r.SourceURI,
		TargetTable: r.TargetTable,
		Dialect:     r.Dialect,
		FileHash:    r.FileHash,
		Rows:        r.Rows,
		Status:      r.Status,
		Warnings:    r.Warnings,
		StartedAt:   pgtype.Timestamptz{Time: r.StartedAt, Valid: true},
	}
}

// Lock takes the fingerprint's transaction-scoped advisory lock.
func (l *Ledger) Lock(ctx context.Context, tx DBTX, fingerprint string) error {
	if err := db.New(tx).AcquireXactLock(ctx, LockKey(fingerprint)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	return nil
}

// AlreadyLoaded reports whether a successful load of fingerprint into
// targetTable is on record.
func (l *Ledger) AlreadyLoaded(ctx context.Context, tx DBTX, targetTable, fingerprint string) (bool, error) {
	ok, err := db.New(tx).HasSuccessfulLoad(ctx, targetTable, fingerprint)
	if err != nil {
		return false, fmt.Errorf("check ledger: %w", err)
	}
	return ok, nil
}

// Record appends rec inside tx.
func (l *Ledger) Record(ctx context.Context, tx DBTX, rec LedgerRecord) error {
	if _, err := db.New(tx).InsertLedgerEntry(ctx, rec.params()); err != nil {
		return fmt.Errorf("write ledger %s row: %w", rec.Status, err)
	}
	return nil
}

// RecordError appends an error row for cause in its own short transaction,
// independent of the rolled-back load.
func (l *Ledger) RecordError(ctx context.Context, rec LedgerRecord, cause error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger error row: %w", err)
	}
	defer tx.Rollback(ctx)

	rec.Status = db.StatusError
	rec.Rows = 0
	p := rec.params()
	p.ErrorSummary = pgtype.Text{String: SummarizeError(cause), Valid: true}
	if _, err := db.New(tx).InsertLedgerEntry(ctx, p); err != nil {
		return fmt.Errorf("write ledger error row: %w", err)
	}
	return tx.Commit(ctx)
}

// LedgerFilter narrows Recent. Zero values match everything.
type LedgerFilter struct {
	TargetTable string
	Status      string
	FileHash    string
	Limit       int
}

// Recent lists ledger rows newest first.
func (l *Ledger) Recent(ctx context.Context, f LedgerFilter) ([]db.LedgerEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLedgerLimit
	}
	entries, err := db.New(l.pool).ListLedgerEntries(ctx, db.ListLedgerEntriesParams{
		TargetTable: f.TargetTable,
		Status:      f.Status,
		FileHash:    f.FileHash,
		Limit:       int32(min(limit, 1000)),
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return entries, nil
}

// Count returns how many rows with status record fingerprint loading into
// targetTable.
func (l *Ledger) Count(ctx context.Context, targetTable, fingerprint string, status db.LedgerStatus) (int64, error) {
	n, err := db.New(l.pool).CountLedgerEntries(ctx, targetTable, fingerprint, status)
	if err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return n, nil
}

// SummarizeError renders err for the ledger: the mapped error code, then
// the technical detail, truncated to MaxErrorSummary characters.
func SummarizeError(err error) string {
	if err == nil {
		return ""
	}
	s := "[" + MapError(err).Code + "] " + TechnicalDetail(err)
	if utf8.RuneCountInString(s) <= MaxErrorSummary {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxErrorSummary])
}
