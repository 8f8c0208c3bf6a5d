package core

// encoding.go defines the text encoding ladder tried for delimited files.
//
// The ladder is an ordered slice of probes rather than a chain of fallbacks:
// each probe either decodes the file strictly or reports failure, and only
// the sniffer turns exhaustion of the whole ladder into a domain error.

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultLegacyEncoding is the single-byte codepage tried after UTF-8.
const DefaultLegacyEncoding = "windows-1252"

// encodingProbe is one rung of the ladder.
type encodingProbe struct {
	Name string

	// rejectBOM makes the probe decline files that start with a BOM so the
	// BOM-aware rung owns them.
	rejectBOM bool

	// decode wraps raw file bytes into a UTF-8 text stream. Strict probes
	// surface invalid input as encoding.ErrInvalidUTF8 from Read.
	decode func(io.Reader) io.Reader
}

// accepts reports whether the probe applies to a file starting with head.
func (p encodingProbe) accepts(head []byte) bool {
	return !(p.rejectBOM && hasBOM(head))
}

// newEncodingLadder returns UTF-8, UTF-8 with BOM, then the named legacy
// codepage.
func newEncodingLadder(legacy string) ([]encodingProbe, error) {
	if legacy == "" {
		legacy = DefaultLegacyEncoding
	}
	enc, err := htmlindex.Get(legacy)
	if err != nil {
		return nil, fmt.Errorf("legacy encoding %q: %w", legacy, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = legacy
	}

	return []encodingProbe{
		{
			Name:      "utf-8",
			rejectBOM: true,
			decode: func(r io.Reader) io.Reader {
				return transform.NewReader(r, encoding.UTF8Validator)
			},
		},
		{
			Name: "utf-8-sig",
			decode: func(r io.Reader) io.Reader {
				return NewBOMSkippingReader(transform.NewReader(r, encoding.UTF8Validator))
			},
		},
		{
			// A UTF-8 BOM can reach this rung when a later byte is invalid;
			// it is dropped before single-byte decoding would mangle it.
			Name: name,
			decode: func(r io.Reader) io.Reader {
				return transform.NewReader(NewBOMSkippingReader(r), enc.NewDecoder())
			},
		},
	}, nil
}

// isDecodeError reports whether err means the bytes do not fit the probe's
// encoding, as opposed to an I/O or parse failure.
func isDecodeError(err error) bool {
	return errors.Is(err, encoding.ErrInvalidUTF8)
}
