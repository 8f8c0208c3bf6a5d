package core

// streaming.go provides small io.Reader wrappers used while reading sources:
//
//   - BOMSkippingReader: Removes a UTF-8 BOM (0xEF 0xBB 0xBF) written by Windows tools
//   - CountingReader: Tracks bytes consumed from the file for progress reporting
//
// Both keep O(buffer) memory regardless of file size.

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	br      *bufio.Reader
	checked bool
	found   bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{br: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if bytes.Equal(head, utf8BOM) {
			r.found = true
			if _, err := r.br.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		} else if err != nil && err != io.EOF {
			return 0, err
		}
	}
	return r.br.Read(p)
}

// Found reports whether a BOM was skipped. Valid after the first Read.
func (r *BOMSkippingReader) Found() bool {
	return r.found
}

// hasBOM reports whether data starts with a UTF-8 byte order mark.
func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, utf8BOM)
}

// CountingReader wraps an io.Reader to track bytes read.
// BytesRead is safe to call from another goroutine.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead() * 100 / r.Total)
}
