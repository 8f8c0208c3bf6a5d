package core

// sniff.go classifies a source file before any rows are read: container
// kind by extension, text encoding by strict probing, and the field
// delimiter by consistency of candidate counts across sampled lines.

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SourceKind is the container format of a source file.
type SourceKind int

const (
	KindText SourceKind = iota
	KindSpreadsheet
)

func (k SourceKind) String() string {
	if k == KindSpreadsheet {
		return "spreadsheet"
	}
	return "text"
}

// DefaultSniffSampleBytes is how much decoded text the delimiter probe reads.
const DefaultSniffSampleBytes = 64 << 10

// delimiterCandidates are tried in order when inference is inconclusive.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// Format is the sniffed description of a source file.
type Format struct {
	Kind      SourceKind
	Ext       string
	Size      int64
	Encoding  string // Name of the accepted ladder rung (text only)
	Delimiter rune   // Field separator (text only)
	Sheets    []string

	ladder   []encodingProbe
	encIndex int
}

// SniffOptions tunes Sniff.
type SniffOptions struct {
	Streaming      bool
	LegacyEncoding string
	SampleBytes    int
}

// Sniff inspects the file at path. Every failure it reports for the file's
// content is a *ValidationError.
func Sniff(path string, opts SniffOptions) (*Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewValidationError("cannot open file: %v", err)
	}
	if info.IsDir() {
		return nil, NewValidationError("cannot open file: %s is a directory", path)
	}
	if info.Size() == 0 {
		return nil, NewValidationError(MsgEmptyFile)
	}
	if opts.SampleBytes <= 0 {
		opts.SampleBytes = DefaultSniffSampleBytes
	}

	f := &Format{
		Ext:  strings.ToLower(filepath.Ext(path)),
		Size: info.Size(),
	}

	switch f.Ext {
	case ".csv", ".tsv", ".txt":
		f.Kind = KindText
		ladder, err := newEncodingLadder(opts.LegacyEncoding)
		if err != nil {
			return nil, err
		}
		f.ladder = ladder
		if err := f.probeFrom(path, 0, opts.SampleBytes); err != nil {
			return nil, err
		}
		return f, nil

	case ".xls":
		if opts.Streaming {
			return nil, NewValidationError("legacy .xls workbooks cannot be streamed; save the file as .xlsx or CSV")
		}
		f.Kind = KindSpreadsheet
		if err := f.openSheets(path); err != nil {
			return nil, NewValidationError("unsupported spreadsheet: .xls files must be OOXML workbooks; save the file as .xlsx or CSV")
		}
		return f, nil

	case ".xlsx", ".xlsm":
		f.Kind = KindSpreadsheet
		if err := f.openSheets(path); err != nil {
			return nil, NewValidationError("cannot open spreadsheet: %v", err)
		}
		return f, nil

	default:
		return nil, NewValidationError("unsupported file type %q (expected .csv, .tsv, .txt, .xlsx, .xlsm or .xls)", f.Ext)
	}
}

func (f *Format) openSheets(path string) error {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return err
	}
	defer wb.Close()

	f.Sheets = wb.GetSheetList()
	if len(f.Sheets) == 0 {
		return errors.New("workbook has no sheets")
	}
	return nil
}

// probeFrom walks the ladder starting at rung start and keeps the first
// encoding under which the sample decodes and yields a parseable header.
func (f *Format) probeFrom(path string, start, sampleBytes int) error {
	for i := start; i < len(f.ladder); i++ {
		delim, outcome, err := probeText(path, f.ladder[i], sampleBytes)
		if err != nil {
			return err
		}
		switch outcome {
		case probeEmpty:
			return NewValidationError(MsgEmptyFile)
		case probeOK:
			f.encIndex = i
			f.Encoding = f.ladder[i].Name
			f.Delimiter = delim
			return nil
		}
	}
	return NewValidationError(MsgFailedReadCSV)
}

// nextEncoding advances to the next rung after a decode failure that the
// sample did not reveal.
func (f *Format) nextEncoding(path string, sampleBytes int) error {
	return f.probeFrom(path, f.encIndex+1, sampleBytes)
}

func (f *Format) decoder() encodingProbe {
	return f.ladder[f.encIndex]
}

type probeOutcome int

const (
	probeRejected probeOutcome = iota
	probeOK
	probeEmpty
)

// probeText decodes a sample of the file with one probe. Errors returned
// are I/O failures; a decode failure is reported as probeRejected.
func probeText(path string, p encodingProbe, sampleBytes int) (rune, probeOutcome, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, probeRejected, NewValidationError("cannot open file: %v", err)
	}
	defer file.Close()

	head := make([]byte, len(utf8BOM))
	n, _ := io.ReadFull(file, head)
	if !p.accepts(head[:n]) {
		return 0, probeRejected, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, probeRejected, err
	}

	buf := make([]byte, sampleBytes)
	n, err = io.ReadFull(p.decode(file), buf)
	truncated := err == nil
	switch {
	case err == nil, err == io.EOF, err == io.ErrUnexpectedEOF:
	case isDecodeError(err):
		return 0, probeRejected, nil
	default:
		return 0, probeRejected, err
	}

	sample := string(buf[:n])
	if truncated {
		if cut := strings.LastIndexByte(sample, '\n'); cut > 0 {
			sample = sample[:cut+1]
		}
	}
	if strings.TrimSpace(strings.TrimPrefix(sample, "\ufeff")) == "" && !truncated {
		return 0, probeEmpty, nil
	}

	if d, ok := inferDelimiter(sample); ok && parsesHeader(sample, d) {
		return d, probeOK, nil
	}
	for _, d := range delimiterCandidates {
		if parsesHeader(sample, d) {
			return d, probeOK, nil
		}
	}
	return 0, probeRejected, nil
}

// parsesHeader reports whether the sample has a non-blank first record
// under delimiter d.
func parsesHeader(sample string, d rune) bool {
	r := csv.NewReader(strings.NewReader(sample))
	r.Comma = d
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	for {
		rec, err := r.Read()
		if err != nil {
			return false
		}
		if !isBlankRow(rec) {
			return true
		}
	}
}

// maxSniffLines bounds how many logical lines inferDelimiter inspects.
const maxSniffLines = 50

// inferDelimiter picks the candidate whose per-line count is most
// consistent across the sample, preferring higher counts on ties.
func inferDelimiter(sample string) (rune, bool) {
	lines := splitLogicalLines(sample, maxSniffLines)
	if len(lines) == 0 {
		return 0, false
	}

	var (
		best      rune
		bestScore float64
		bestMode  int
	)
	for _, d := range delimiterCandidates {
		freq := make(map[int]int)
		for _, line := range lines {
			freq[countUnquoted(line, d)]++
		}
		mode, hits := 0, 0
		for count, n := range freq {
			if count > 0 && (n > hits || (n == hits && count > mode)) {
				mode, hits = count, n
			}
		}
		if mode == 0 {
			continue
		}
		score := float64(hits) / float64(len(lines))
		if score > bestScore || (score == bestScore && mode > bestMode) {
			best, bestScore, bestMode = d, score, mode
		}
	}

	if bestMode == 0 {
		return 0, false
	}
	if len(lines) < 3 && bestScore < 1 {
		return 0, false
	}
	if bestScore < 0.9 {
		return 0, false
	}
	return best, true
}

// splitLogicalLines splits on newlines outside double quotes and drops
// blank lines.
func splitLogicalLines(s string, limit int) []string {
	var (
		lines    []string
		inQuotes bool
		start    int
	)
	emit := func(end int) {
		line := strings.TrimRight(s[start:end], "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	for i := 0; i < len(s) && len(lines) < limit; i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case '\n':
			if !inQuotes {
				emit(i)
				start = i + 1
			}
		}
	}
	if start < len(s) && len(lines) < limit && !inQuotes {
		emit(len(s))
	}
	return lines
}

func countUnquoted(line string, d rune) int {
	n := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == d && !inQuotes:
			n++
		}
	}
	return n
}
