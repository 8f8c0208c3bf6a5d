// Package core imports tabular report files into Postgres.
//
// The package holds all domain logic independent of any transport. The
// HTTP server and the command line tool both drive it through [Engine].
//
// # Pipeline
//
// One call to [Engine.Import] runs a job through these stages:
//
//  1. Fingerprint the input (SHA-256 of the bytes, or a caller key)
//  2. [Sniff] the container, text encoding and delimiter
//  3. Read raw batches through a [Source]
//  4. Resolve the [Dialect] from the first header, or by override
//  5. Normalize and validate every row before the database is touched
//  6. Create or widen the target table, then load inside one transaction
//  7. Append the outcome to the [Ledger]
//
// Streaming jobs make two passes over the file: a metadata pass that only
// keeps counters, and a load pass. Non-streaming jobs keep the validated
// records between the passes.
//
// # Dialects
//
// A dialect maps one class of report onto a target table. Dialects are
// registered in a [Registry] built at startup; detection order is
// registration order. Declared dialects load a fixed column list, while
// free-form dialects take their columns from the file.
//
// # Idempotency
//
// A job whose fingerprint already has a success row for the same target
// table is skipped unless forced. Jobs with the same fingerprint serialize
// on a transaction-scoped advisory lock.
//
// # Error Handling
//
// Input the user must fix is reported as [*ValidationError] and never
// reaches the ledger. Failures after the load transaction opened are
// wrapped in [*PipelineError] and recorded as error rows. [MapError]
// turns either into a coded message for display:
//
//   - DB001-DB008: database errors
//   - VAL001-VAL008: validation errors
//   - FILE001-FILE005: file errors
//   - JOB001-JOB004: job limiter and cancellation errors
package core
