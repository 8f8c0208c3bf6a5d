package core

import (
	"context"
	"iter"

	"github.com/xuri/excelize/v2"
)

// sheetSource reads OOXML workbooks row by row through excelize's streaming
// iterator. Each sheet carries its own header row; blank rows are skipped
// and data rows are padded or truncated to the header width.
type sheetSource struct {
	path   string
	format *Format
	chunk  int
}

func (s *sheetSource) Format() *Format { return s.format }

// BytesRead is unknown for zipped workbooks.
func (s *sheetSource) BytesRead() int64 { return 0 }

func (s *sheetSource) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	return onceSeq(func(yield func(*Batch, error) bool) {
		wb, err := excelize.OpenFile(s.path)
		if err != nil {
			yield(nil, NewValidationError("cannot open spreadsheet: %v", err))
			return
		}
		defer wb.Close()

		for _, sheet := range wb.GetSheetList() {
			if !s.readSheet(ctx, wb, sheet, yield) {
				return
			}
		}
	})
}

// readSheet yields the batches of one sheet. It returns false when the
// consumer stopped or an error was yielded.
func (s *sheetSource) readSheet(ctx context.Context, wb *excelize.File, sheet string, yield func(*Batch, error) bool) bool {
	rows, err := wb.Rows(sheet)
	if err != nil {
		yield(nil, NewValidationError("read sheet %q: %v", sheet, err))
		return false
	}
	defer rows.Close()

	var (
		header []string
		batch  *Batch
		rowNum int
	)
	for rows.Next() {
		rowNum++
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return false
		}

		cols, err := rows.Columns()
		if err != nil {
			yield(nil, NewValidationError("read sheet %q row %d: %v", sheet, rowNum, err))
			return false
		}
		if isBlankRow(cols) {
			continue
		}
		if header == nil {
			header = trimTrailingEmpty(cols)
			continue
		}

		if batch == nil {
			batch = &Batch{Columns: header, Offset: rowNum}
		}
		batch.Rows = append(batch.Rows, fitWidth(cols, len(header)))
		if len(batch.Rows) >= s.chunk {
			if !yield(batch, nil) {
				return false
			}
			batch = nil
		}
	}
	if err := rows.Error(); err != nil {
		yield(nil, NewValidationError("read sheet %q: %v", sheet, err))
		return false
	}

	if batch != nil {
		return yield(batch, nil)
	}
	return true
}

// fitWidth pads short rows with empty cells and drops cells beyond width.
func fitWidth(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && CleanCell(row[end-1]) == "" {
		end--
	}
	return row[:end]
}
