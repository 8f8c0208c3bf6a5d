package core

// reader.go turns a sniffed file into lazy sequences of raw batches.
//
// Every call to Batches opens the file afresh, so a streaming job can make a
// metadata pass and a load pass over the same Source. A single sequence can
// only be ranged once.

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"os"
	"slices"
	"sync/atomic"
)

// DefaultChunkSize is the number of rows per batch when none is configured.
const DefaultChunkSize = 5000

// ErrEncodingRestart is yielded when a decode failure past the sniff sample
// moved the source to the next encoding. Batches already yielded by that
// pass must be discarded and the pass started over.
var ErrEncodingRestart = errors.New("source encoding changed; restart the pass")

var errSequenceConsumed = errors.New("batch sequence already consumed")

// Source yields raw batches of one file.
type Source interface {
	// Batches returns a fresh pass over the file. Raw batches carry the
	// source header of the sheet or file they came from.
	Batches(ctx context.Context) iter.Seq2[*Batch, error]

	// Format returns the sniffed format, including encoding changes made
	// by earlier passes.
	Format() *Format

	// BytesRead reports bytes consumed by the current pass, or 0 when the
	// container does not expose a byte position.
	BytesRead() int64
}

// SourceOptions tunes OpenSource.
type SourceOptions struct {
	ChunkSize   int
	SampleBytes int
}

// OpenSource returns the reader for a sniffed file.
func OpenSource(path string, f *Format, opts SourceOptions) (Source, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.SampleBytes <= 0 {
		opts.SampleBytes = DefaultSniffSampleBytes
	}
	switch f.Kind {
	case KindText:
		if len(f.ladder) == 0 {
			return nil, errors.New("text source has no sniffed encoding")
		}
		return &textSource{path: path, format: f, opts: opts}, nil
	case KindSpreadsheet:
		return &sheetSource{path: path, format: f, chunk: opts.ChunkSize}, nil
	default:
		return nil, NewValidationError("unsupported source kind %s", f.Kind)
	}
}

// onceSeq guards a sequence against being ranged twice.
func onceSeq(seq iter.Seq2[*Batch, error]) iter.Seq2[*Batch, error] {
	var used atomic.Bool
	return func(yield func(*Batch, error) bool) {
		if used.Swap(true) {
			yield(nil, errSequenceConsumed)
			return
		}
		seq(yield)
	}
}

// textSource reads delimited text.
type textSource struct {
	path    string
	format  *Format
	opts    SourceOptions
	counter atomic.Pointer[CountingReader]
}

func (s *textSource) Format() *Format { return s.format }

func (s *textSource) BytesRead() int64 {
	if c := s.counter.Load(); c != nil {
		return c.BytesRead()
	}
	return 0
}

func (s *textSource) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	return onceSeq(func(yield func(*Batch, error) bool) {
		file, err := os.Open(s.path)
		if err != nil {
			yield(nil, NewValidationError("cannot open file: %v", err))
			return
		}
		defer file.Close()

		counter := NewCountingReader(file, s.format.Size)
		s.counter.Store(counter)

		r := csv.NewReader(s.format.decoder().decode(counter))
		r.Comma = s.format.Delimiter
		r.LazyQuotes = true
		r.FieldsPerRecord = -1

		var (
			header []string
			batch  *Batch
		)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				if isDecodeError(err) {
					if nerr := s.format.nextEncoding(s.path, s.opts.SampleBytes); nerr != nil {
						yield(nil, nerr)
						return
					}
					yield(nil, ErrEncodingRestart)
					return
				}
				yield(nil, NewValidationError("%s: %v", MsgFailedReadCSV, err))
				return
			}

			if header == nil {
				if isBlankRow(rec) {
					continue
				}
				header = rec
				continue
			}

			line, _ := r.FieldPos(0)
			if batch == nil {
				batch = &Batch{Columns: header, Offset: line}
			}
			batch.Rows = append(batch.Rows, rec)
			if len(batch.Rows) >= s.opts.ChunkSize {
				if !yield(batch, nil) {
					return
				}
				batch = nil
			}
		}

		if batch != nil {
			yield(batch, nil)
		}
	})
}

// ReadAll drains a source into memory, restarting on encoding changes.
// Consecutive batches with the same header are merged, so a file yields one
// batch and a workbook one batch per distinct sheet header.
func ReadAll(ctx context.Context, src Source) ([]*Batch, error) {
	for {
		out, err := readPass(ctx, src)
		if errors.Is(err, ErrEncodingRestart) {
			continue
		}
		return out, err
	}
}

func readPass(ctx context.Context, src Source) ([]*Batch, error) {
	var out []*Batch
	for b, err := range src.Batches(ctx) {
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && slices.Equal(out[n-1].Columns, b.Columns) {
			out[n-1].Rows = append(out[n-1].Rows, b.Rows...)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
