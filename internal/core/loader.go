package core

// loader.go writes validated records into a target table inside the job's
// transaction.
//
// Two strategies share one contract. "copy" streams each batch into a
// temporary staging table with COPY and merges it into the target with two
// set-based statements. "rows" issues one UPDATE (and INSERT when nothing
// matched) per record. Both collapse duplicate keys within a batch keep-last
// first, so they leave the target in the same state.

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Strategy selects the write path.
type Strategy string

const (
	StrategyCopy Strategy = "copy"
	StrategyRows Strategy = "rows"
)

// ParseStrategy returns the strategy named s, defaulting to copy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyCopy:
		return StrategyCopy, nil
	case StrategyRows:
		return StrategyRows, nil
	default:
		return "", fmt.Errorf("unknown load strategy %q", s)
	}
}

// Loader holds job-independent write settings.
type Loader struct {
	Strategy         Strategy
	AnalyzeThreshold int64 // 0 disables ANALYZE
}

// Writer loads the batches of one job. It is not safe for concurrent use.
type Writer struct {
	tx       DBTX
	strategy Strategy
	table    TableRef
	columns  []string
	conflict []string
	keyIdx   []int
	staging  string
	rows     int64
}

// NewWriter prepares a writer for the fixed column order. An empty conflict
// list makes the run append-only.
func (l *Loader) NewWriter(tx DBTX, table TableRef, columns, conflict []string) (*Writer, error) {
	w := &Writer{
		tx:       tx,
		strategy: l.Strategy,
		table:    table,
		columns:  columns,
		conflict: conflict,
	}
	if w.strategy == "" {
		w.strategy = StrategyCopy
	}
	if len(conflict) > 0 {
		idx, ok := columnIndexes(columns, conflict)
		if !ok {
			return nil, fmt.Errorf("conflict columns [%s] not in target columns [%s]",
				strings.Join(conflict, ", "), strings.Join(columns, ", "))
		}
		w.keyIdx = idx
	}
	return w, nil
}

// Rows returns the number of records handed to Write so far, before
// in-batch duplicate collapsing.
func (w *Writer) Rows() int64 {
	return w.rows
}

// Upsert reports whether the writer merges on a conflict key.
func (w *Writer) Upsert() bool {
	return len(w.keyIdx) > 0
}

// Write loads one batch. Its columns must match the writer's column order.
func (w *Writer) Write(ctx context.Context, recs *Records) error {
	if recs.Len() == 0 {
		return nil
	}
	if len(recs.Columns) != len(w.columns) {
		return fmt.Errorf("batch has %d columns, writer expects %d", len(recs.Columns), len(w.columns))
	}
	w.rows += int64(recs.Len())

	if w.Upsert() {
		recs = DedupKeepLast(recs, w.keyIdx)
	}

	var err error
	switch w.strategy {
	case StrategyRows:
		err = w.writeRows(ctx, recs)
	default:
		err = w.writeCopy(ctx, recs)
	}
	return err
}

func (w *Writer) writeCopy(ctx context.Context, recs *Records) error {
	if w.staging == "" {
		name := "ingest_stg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if _, err := w.tx.Exec(ctx, createStagingSQL(name, w.table, w.columns)); err != nil {
			return fmt.Errorf("create staging table: %w", err)
		}
		w.staging = name
	} else {
		if _, err := w.tx.Exec(ctx, "TRUNCATE "+quoteIdentifier(w.staging)); err != nil {
			return fmt.Errorf("truncate staging table: %w", err)
		}
	}

	n, err := w.tx.CopyFrom(ctx, pgx.Identifier{w.staging}, w.columns, pgx.CopyFromRows(recs.Values))
	if err != nil {
		return fmt.Errorf("copy into staging: %w", err)
	}
	if n != int64(recs.Len()) {
		return fmt.Errorf("copy into staging: wrote %d of %d rows", n, recs.Len())
	}

	if !w.Upsert() {
		if _, err := w.tx.Exec(ctx, appendFromStagingSQL(w.table, w.staging, w.columns)); err != nil {
			return fmt.Errorf("insert from staging: %w", err)
		}
		return nil
	}

	if _, err := w.tx.Exec(ctx, mergeUpdateSQL(w.table, w.staging, w.columns, w.conflict)); err != nil {
		return fmt.Errorf("update from staging: %w", err)
	}
	if _, err := w.tx.Exec(ctx, mergeInsertSQL(w.table, w.staging, w.columns, w.conflict)); err != nil {
		return fmt.Errorf("insert from staging: %w", err)
	}
	return nil
}

func (w *Writer) writeRows(ctx context.Context, recs *Records) error {
	insert := rowInsertSQL(w.table, w.columns)
	var update string
	if w.Upsert() {
		update = rowUpdateSQL(w.table, w.columns, w.conflict)
	}

	for i, row := range recs.Values {
		if update != "" {
			args := make([]any, 0, len(row)+len(w.keyIdx))
			args = append(args, row...)
			for _, k := range w.keyIdx {
				args = append(args, row[k])
			}
			tag, err := w.tx.Exec(ctx, update, args...)
			if err != nil {
				return fmt.Errorf("update row %d: %w", i+1, err)
			}
			if tag.RowsAffected() > 0 {
				continue
			}
		}
		if _, err := w.tx.Exec(ctx, insert, row...); err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	return nil
}

// Analyze refreshes planner statistics once a job has written at least
// AnalyzeThreshold rows. It reports whether it ran.
func (l *Loader) Analyze(ctx context.Context, tx DBTX, table TableRef, rows int64) (bool, error) {
	if l.AnalyzeThreshold <= 0 || rows < l.AnalyzeThreshold {
		return false, nil
	}
	if _, err := tx.Exec(ctx, "ANALYZE "+table.String()); err != nil {
		return false, fmt.Errorf("analyze %s: %w", table, err)
	}
	return true, nil
}

func createStagingSQL(staging string, table TableRef, columns []string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		quoteIdentifier(staging), strings.Join(quoteIdentifiers(columns), ", "), table)
}

func appendFromStagingSQL(table TableRef, staging string, columns []string) string {
	cols := strings.Join(quoteIdentifiers(columns), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		table, cols, cols, quoteIdentifier(staging))
}

func mergeUpdateSQL(table TableRef, staging string, columns, keys []string) string {
	sets := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		if contains(keys, c) {
			continue
		}
		q := quoteIdentifier(c)
		sets = append(sets, fmt.Sprintf("%s = s.%s", q, q))
	}
	sets = append(sets, quoteIdentifier(IngestedAtColumn)+" = now()")

	return fmt.Sprintf("UPDATE %s AS t SET %s FROM %s AS s WHERE %s",
		table, strings.Join(sets, ", "), quoteIdentifier(staging), keyMatch(keys))
}

func mergeInsertSQL(table TableRef, staging string, columns, keys []string) string {
	cols := quoteIdentifiers(columns)
	sel := make([]string, len(cols))
	for i, c := range cols {
		sel[i] = "s." + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s AS s WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE %s)",
		table, strings.Join(cols, ", "), strings.Join(sel, ", "), quoteIdentifier(staging), table, keyMatch(keys))
}

func keyMatch(keys []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		q := quoteIdentifier(k)
		conds[i] = fmt.Sprintf("t.%s = s.%s", q, q)
	}
	return strings.Join(conds, " AND ")
}

// rowUpdateSQL binds every column as $1..$n followed by the keys.
func rowUpdateSQL(table TableRef, columns, keys []string) string {
	sets := make([]string, 0, len(columns)+1)
	for i, c := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdentifier(c), i+1))
	}
	sets = append(sets, quoteIdentifier(IngestedAtColumn)+" = now()")

	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(k), len(columns)+i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(conds, " AND "))
}

func rowInsertSQL(table TableRef, columns []string) string {
	params := make([]string, len(columns))
	for i := range columns {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoteIdentifiers(columns), ", "), strings.Join(params, ", "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
