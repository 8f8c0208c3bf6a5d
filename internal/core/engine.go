package core

// engine.go runs one ingestion job end to end.
//
// Everything that can be decided without the database (format, dialect,
// schema validity, conflict-key completeness) is settled before the load
// transaction opens, so user errors never leave a ledger row. Once the
// transaction is open, any failure rolls it back and is recorded as an
// error row in a separate transaction.

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ingest/internal/config"
	db "github.com/JonMunkholm/ingest/internal/database"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ledgerErrorTimeout bounds the short transaction that records a failure
// after the caller's context may already be done.
const ledgerErrorTimeout = 10 * time.Second

// EngineConfig holds job-independent engine settings.
type EngineConfig struct {
	ChunkSize        int
	Strategy         Strategy
	AnalyzeThreshold int64
	Idempotency      bool
	LegacyEncoding   string
	SniffSampleBytes int
	TargetSchema     string
}

// DefaultEngineConfig returns the settings used when nothing is configured.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ChunkSize:        DefaultChunkSize,
		Strategy:         StrategyCopy,
		AnalyzeThreshold: 50000,
		Idempotency:      true,
		LegacyEncoding:   DefaultLegacyEncoding,
		SniffSampleBytes: DefaultSniffSampleBytes,
	}
}

// EngineConfigFrom maps the loaded ingest settings onto an EngineConfig.
func EngineConfigFrom(c config.IngestConfig) (EngineConfig, error) {
	strategy, err := ParseStrategy(c.Strategy)
	if err != nil {
		return EngineConfig{}, err
	}
	return EngineConfig{
		ChunkSize:        c.ChunkSize,
		Strategy:         strategy,
		AnalyzeThreshold: c.AnalyzeThreshold,
		Idempotency:      c.Idempotency,
		LegacyEncoding:   c.LegacyEncoding,
		SniffSampleBytes: c.SniffSampleBytes,
		TargetSchema:     c.TargetSchema,
	}, nil
}

// Engine imports files into Postgres. It is safe for concurrent use; each
// Import call owns its buffers.
type Engine struct {
	pool     Pool
	registry *Registry
	loader   *Loader
	ledger   *Ledger
	metrics  *metrics.Metrics
	cfg      EngineConfig
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithMetrics records job metrics.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an engine over pool using the given dialect catalog.
func NewEngine(pool Pool, registry *Registry, cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCopy
	}
	e := &Engine{
		pool:     pool,
		registry: registry,
		loader:   &Loader{Strategy: cfg.Strategy, AnalyzeThreshold: cfg.AnalyzeThreshold},
		ledger:   NewLedger(pool),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's dialect catalog.
func (e *Engine) Registry() *Registry { return e.registry }

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// StreamMetadata is what the lookahead pass learns about a file before any
// row is written.
type StreamMetadata struct {
	Dialect     *Dialect
	Columns     []string // Target column order, fixed at resolution
	RawRows     int64    // Data rows read, including blank ones
	Rows        int64    // Validated rows
	Batches     int
	KeyComplete bool // Every validated row populated all conflict columns
}

// Import runs one job. Failures are *ValidationError for input the user
// must fix, or *PipelineError for failures after the load transaction
// opened.
func (e *Engine) Import(ctx context.Context, job Job) (*Result, error) {
	run := &jobRun{
		engine: e,
		job:    job,
		runID:  uuid.New(),
		start:  time.Now(),
	}
	if run.job.SourceURI == "" {
		run.job.SourceURI = job.Path
	}
	if run.job.ChunkSize <= 0 {
		run.job.ChunkSize = e.cfg.ChunkSize
	}
	run.log = logging.WithFields(ctx,
		"run_id", run.runID.String(),
		"path", job.Path,
	)

	res, err := run.execute(ctx)
	err = run.classify(err)

	elapsed := time.Since(run.start)
	dialect := ""
	if run.dialect != nil {
		dialect = run.dialect.ID
	}
	switch {
	case err == nil:
		res.Duration = elapsed
		e.metrics.ObserveJob(dialect, string(res.Status), elapsed)
		if res.Status == StatusSuccess {
			e.metrics.AddRows(res.TargetTable, res.Rows)
		}
		run.log.Info("import finished",
			"status", res.Status,
			"dialect", dialect,
			"target_table", res.TargetTable,
			"rows", res.Rows,
			"duration", elapsed,
		)
	case IsValidation(err) && !IsPipeline(err):
		e.metrics.ObserveJob(dialect, "invalid", elapsed)
		run.log.Info("import rejected", "error", err)
	default:
		e.metrics.ObserveJob(dialect, string(db.StatusError), elapsed)
		run.log.Error("import failed", "error", err, "duration", elapsed)
	}
	return res, err
}

// jobRun is the mutable state of one Import call.
type jobRun struct {
	engine *Engine
	job    Job
	runID  uuid.UUID
	start  time.Time
	log    *slog.Logger
	state  JobState

	fingerprint string
	tx          pgx.Tx
	source      Source
	dialect     *Dialect
	validator   *Validator
	table       TableRef
	warnings    []string

	// Non-streaming jobs keep validated records between the passes.
	records []*Records
}

// classify wraps errors raised outside the load, such as a canceled read,
// so callers only ever see the two domain error types.
func (r *jobRun) classify(err error) error {
	if err == nil || IsValidation(err) || IsPipeline(err) {
		return err
	}
	return &PipelineError{State: r.state, Err: err}
}

func (r *jobRun) transition(s JobState) {
	r.state = s
	r.log.Debug("job state", "state", string(s))
}

func (r *jobRun) execute(ctx context.Context) (*Result, error) {
	e := r.engine

	r.transition(StateResolvingURI)
	if r.job.Path == "" {
		return nil, NewValidationError("cannot open file: no path given")
	}
	fp, err := Fingerprint(r.job.Path, r.job.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	r.fingerprint = fp

	r.transition(StateSniffingFormat)
	format, err := Sniff(r.job.Path, SniffOptions{
		Streaming:      r.job.Streaming,
		LegacyEncoding: e.cfg.LegacyEncoding,
		SampleBytes:    e.cfg.SniffSampleBytes,
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("format sniffed",
		"kind", format.Kind.String(),
		"encoding", format.Encoding,
		"delimiter", string(format.Delimiter),
	)

	src, err := OpenSource(r.job.Path, format, SourceOptions{
		ChunkSize:   r.job.ChunkSize,
		SampleBytes: e.cfg.SniffSampleBytes,
	})
	if err != nil {
		return nil, err
	}
	r.source = src

	meta, err := r.lookahead(ctx)
	if err != nil {
		return nil, err
	}
	if meta.Rows == 0 {
		return nil, NewValidationError(MsgEmptyFile)
	}

	conflict := r.dialect.ConflictColumns
	if len(conflict) > 0 && r.dialect.ConditionalKey && !meta.KeyComplete {
		r.warnings = append(r.warnings, fmt.Sprintf(
			"conflict key (%s) is not populated on every row; loaded append-only",
			strings.Join(conflict, ", ")))
		conflict = nil
	}

	return r.load(ctx, meta, conflict)
}

// lookahead resolves the dialect and validates every row before the load
// transaction opens. Streaming jobs keep only counters; non-streaming jobs
// keep the validated records.
func (r *jobRun) lookahead(ctx context.Context) (*StreamMetadata, error) {
	if r.job.Streaming {
		r.transition(StateMetadataPass)
		for {
			meta, err := r.scan(r.source.Batches(ctx), false)
			if errors.Is(err, ErrEncodingRestart) {
				r.log.Info("restarting metadata pass", "encoding", r.source.Format().Encoding)
				r.reset()
				continue
			}
			return meta, err
		}
	}

	batches, err := ReadAll(ctx, r.source)
	if err != nil {
		return nil, err
	}
	return r.scan(sliceSeq(batches), true)
}

func (r *jobRun) reset() {
	r.dialect = nil
	r.validator = nil
	r.records = nil
}

func (r *jobRun) scan(batches iter.Seq2[*Batch, error], keep bool) (*StreamMetadata, error) {
	meta := &StreamMetadata{KeyComplete: true}
	var keyIdx []int

	for raw, err := range batches {
		if err != nil {
			return nil, err
		}
		meta.RawRows += int64(raw.Len())
		r.progress(Progress{
			Stage:      StageRead,
			Rows:       meta.RawRows,
			BytesRead:  r.source.BytesRead(),
			BytesTotal: r.source.Format().Size,
		})

		// Resolution waits for a batch that has data.
		if r.dialect == nil && allBlank(raw.Rows) {
			continue
		}

		recs, err := r.prepare(raw)
		if err != nil {
			return nil, err
		}
		if recs.Len() == 0 {
			continue
		}

		if keyIdx == nil && len(r.dialect.ConflictColumns) > 0 {
			idx, ok := columnIndexes(recs.Columns, r.dialect.ConflictColumns)
			if !ok {
				meta.KeyComplete = false
			}
			keyIdx = idx
		}
		if meta.KeyComplete && keyIdx != nil {
			meta.KeyComplete = keysPopulated(recs, keyIdx)
		}

		meta.Rows += int64(recs.Len())
		meta.Batches++
		if keep {
			r.records = append(r.records, recs)
		}
		r.progress(Progress{Stage: StageValidate, Dialect: r.dialect.ID, Rows: meta.Rows, Batches: meta.Batches})
	}

	meta.Dialect = r.dialect
	if r.validator != nil {
		meta.Columns = r.validator.Columns()
	}
	if r.dialect == nil || len(r.dialect.ConflictColumns) == 0 {
		meta.KeyComplete = false
	}
	return meta, nil
}

// prepare resolves the dialect on the first batch, then normalizes and
// validates raw.
func (r *jobRun) prepare(raw *Batch) (*Records, error) {
	if r.dialect == nil {
		r.transition(StateResolvingDialect)
		d, err := r.engine.registry.Resolve(r.job.Dialect, raw.Columns)
		if err != nil {
			return nil, err
		}
		r.dialect = d
		r.table = TableRef{Schema: r.engine.cfg.TargetSchema, Name: d.TargetTable}
		r.log = r.log.With("dialect", d.ID, "target_table", d.TargetTable)
		r.progress(Progress{Stage: StageDetect, Dialect: d.ID})
		r.transition(StateValidating)
	}

	canon, err := r.dialect.NormalizeBatch(raw)
	if err != nil {
		return nil, err
	}
	if canon.Len() == 0 {
		return nil, nil
	}
	if r.validator == nil {
		r.validator = NewValidator(r.dialect, canon.Columns)
	}
	return r.validator.Validate(canon)
}

// load runs the database side of the job. Every error it returns is a
// *PipelineError, except for ledger-skip outcomes which return a Result.
func (r *jobRun) load(ctx context.Context, meta *StreamMetadata, conflict []string) (*Result, error) {
	e := r.engine
	r.transition(StateLoading)

	if err := EnsureTable(ctx, e.pool, r.table, r.validator.Specs()); err != nil {
		return nil, r.fail(ctx, err)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, r.fail(ctx, fmt.Errorf("begin load: %w", err))
	}
	defer tx.Rollback(ctx)
	r.tx = tx

	if err := e.ledger.Lock(ctx, tx, r.fingerprint); err != nil {
		return nil, r.fail(ctx, err)
	}

	if e.cfg.Idempotency && !r.job.Force {
		loaded, err := e.ledger.AlreadyLoaded(ctx, tx, r.dialect.TargetTable, r.fingerprint)
		if err != nil {
			return nil, r.fail(ctx, err)
		}
		if loaded {
			r.transition(StateLedgerSkipped)
			if err := e.ledger.Record(ctx, tx, r.ledgerRecord(db.StatusSkipped, 0)); err != nil {
				return nil, r.fail(ctx, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, r.fail(ctx, fmt.Errorf("commit skip: %w", err))
			}
			return r.result(StatusSkipped, 0), nil
		}
	}

	w, err := e.loader.NewWriter(tx, r.table, r.validator.Columns(), conflict)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	batches := 0
	write := func(recs *Records) error {
		if err := w.Write(ctx, recs); err != nil {
			return err
		}
		batches++
		r.progress(Progress{
			Stage:     StageWrite,
			Dialect:   r.dialect.ID,
			Rows:      w.Rows(),
			TotalRows: meta.Rows,
			Batches:   batches,
		})
		return nil
	}

	if r.job.Streaming {
		for raw, err := range r.source.Batches(ctx) {
			if err != nil {
				return nil, r.fail(ctx, err)
			}
			recs, err := r.prepare(raw)
			if err != nil {
				return nil, r.fail(ctx, err)
			}
			if recs.Len() == 0 {
				continue
			}
			if err := write(recs); err != nil {
				return nil, r.fail(ctx, err)
			}
		}
	} else {
		for _, recs := range r.records {
			if err := write(recs); err != nil {
				return nil, r.fail(ctx, err)
			}
		}
	}

	rows := w.Rows()
	if rows != meta.Rows {
		return nil, r.fail(ctx, fmt.Errorf("load pass wrote %d rows, lookahead validated %d", rows, meta.Rows))
	}

	r.transition(StateAnalyzing)
	analyzed, err := e.loader.Analyze(ctx, tx, r.table, rows)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	if analyzed {
		r.log.Debug("table analyzed", "rows", rows)
	}

	r.transition(StateLedgerSuccess)
	if err := e.ledger.Record(ctx, tx, r.ledgerRecord(db.StatusSuccess, rows)); err != nil {
		return nil, r.fail(ctx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, r.fail(ctx, fmt.Errorf("commit load: %w", err))
	}
	return r.result(StatusSuccess, rows), nil
}

// fail rolls back the load transaction, records cause in the ledger in a
// transaction of its own and wraps it.
func (r *jobRun) fail(ctx context.Context, cause error) error {
	failedAt := r.state
	r.transition(StateLedgerError)

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerErrorTimeout)
	defer cancel()
	if r.tx != nil {
		if err := r.tx.Rollback(lctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.log.Warn("rollback failed", "error", err)
		}
		r.tx = nil
	}
	if err := r.engine.ledger.RecordError(lctx, r.ledgerRecord(db.StatusError, 0), cause); err != nil {
		r.log.Error("failed to record ledger error row", "error", err, "cause", cause)
	}
	return &PipelineError{State: failedAt, Err: cause}
}

func (r *jobRun) ledgerRecord(status db.LedgerStatus, rows int64) LedgerRecord {
	return LedgerRecord{
		RunID:       r.runID,
		SourceURI:   r.job.SourceURI,
		TargetTable: r.dialect.TargetTable,
		Dialect:     r.dialect.ID,
		FileHash:    r.fingerprint,
		Rows:        rows,
		Status:      status,
		Warnings:    r.warnings,
		StartedAt:   r.start,
	}
}

func (r *jobRun) result(status Status, rows int64) *Result {
	warnings := r.warnings
	if warnings == nil {
		warnings = []string{}
	}
	return &Result{
		Status:      status,
		Rows:        rows,
		Dialect:     r.dialect.ID,
		TargetTable: r.dialect.TargetTable,
		Warnings:    warnings,
		FileHash:    r.fingerprint,
		RunID:       r.runID.String(),
	}
}

// progress calls the job's observer. A panicking observer is logged and
// otherwise ignored.
func (r *jobRun) progress(p Progress) {
	fn := r.job.OnProgress
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("progress callback panicked", "panic", rec)
		}
	}()
	fn(p)
}

func keysPopulated(recs *Records, keyIdx []int) bool {
	var buf []byte
	for _, row := range recs.Values {
		var ok bool
		if buf, ok = appendKey(buf[:0], row, keyIdx); !ok {
			return false
		}
	}
	return true
}

func sliceSeq(batches []*Batch) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for _, b := range batches {
			if !yield(b, nil) {
				return
			}
		}
	}
}
