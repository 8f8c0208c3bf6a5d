package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations used by the loader.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// TxBeginner opens transactions. Satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// FieldType represents the expected data type for a target column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
	FieldInteger
	FieldTimestamp
)

// FieldSpec declares one target column of a dialect and the rules its
// values must satisfy.
type FieldSpec struct {
	Name        string              // Canonical target column (snake_case)
	Type        FieldType           // Expected data type
	Required    bool                // Column must exist in the source header
	NotNull     bool                // Every row must carry a value
	Default     string              // Value used when the column is absent from the source
	NonNegative bool                // Numeric and integer values must be >= 0
	Length      int                 // Exact length in characters (0 = unchecked)
	EnumValues  []string            // Valid values for FieldEnum
	Normalizer  func(string) string // Optional transformation applied before checks
}

// Batch is an ordered run of rows sharing one column set. Raw batches carry
// source headers; canonical batches carry a dialect's target columns.
type Batch struct {
	Columns []string
	Rows    [][]string
	Offset  int // 1-based source row number of Rows[0]
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Records is a validated batch of typed values ready for COPY or INSERT.
// Values[i] is ordered like Columns.
type Records struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of records.
func (r *Records) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Job describes one ingestion request.
type Job struct {
	Path           string       // Fully readable local file
	SourceURI      string       // Recorded in the ledger; defaults to Path
	Dialect        string       // Explicit dialect ID; empty means auto-detect
	Force          bool         // Bypass the ledger skip check
	Streaming      bool         // Process in bounded batches with a lookahead pass
	ChunkSize      int          // Rows per batch; 0 uses the engine default
	IdempotencyKey string       // Caller fingerprint; empty hashes the file
	OnProgress     ProgressFunc // Optional progress observer
}

// Status is the non-error outcome of a job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
)

// Result is returned by a job that did not fail.
type Result struct {
	Status      Status        `json:"status"`
	Rows        int64         `json:"rows"`
	Dialect     string        `json:"dialect"`
	TargetTable string        `json:"target_table"`
	Warnings    []string      `json:"warnings"`
	FileHash    string        `json:"file_hash"`
	RunID       string        `json:"run_id"`
	Duration    time.Duration `json:"duration_ns"`
}

// Stage names the coarse phase reported to progress observers.
type Stage string

const (
	StageRead     Stage = "read"
	StageDetect   Stage = "detect"
	StageValidate Stage = "validate"
	StageWrite    Stage = "write"
)

// Progress is a snapshot passed to a ProgressFunc.
type Progress struct {
	Stage      Stage  `json:"stage"`
	Dialect    string `json:"dialect,omitempty"`
	Rows       int64  `json:"rows"`
	TotalRows  int64  `json:"total_rows,omitempty"`
	Batches    int    `json:"batches"`
	BytesRead  int64  `json:"bytes_read,omitempty"`
	BytesTotal int64  `json:"bytes_total,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
// Uses row-based progress if TotalRows is known, otherwise falls back to byte-based.
func (p Progress) Percent() int {
	if p.TotalRows > 0 {
		return int((p.Rows * 100) / p.TotalRows)
	}
	if p.BytesTotal > 0 {
		return int((p.BytesRead * 100) / p.BytesTotal)
	}
	return 0
}

// ProgressFunc observes job progress. It must not influence the result.
type ProgressFunc func(Progress)

// JobState is a step of the per-job state machine.
type JobState string

const (
	StateResolvingURI     JobState = "RESOLVING_URI"
	StateSniffingFormat   JobState = "SNIFFING_FORMAT"
	StateMetadataPass     JobState = "STREAMING_METADATA_PASS"
	StateResolvingDialect JobState = "RESOLVING_DIALECT"
	StateValidating       JobState = "VALIDATING"
	StateLoading          JobState = "LOADING"
	StateAnalyzing        JobState = "ANALYZING"
	StateLedgerSuccess    JobState = "LEDGER_SUCCESS"
	StateLedgerSkipped    JobState = "LEDGER_SKIPPED"
	StateLedgerError      JobState = "LEDGER_ERROR"
)
