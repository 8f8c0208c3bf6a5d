package core

// dialect.go defines report dialects and the default header/row normalizer.
//
// A dialect maps one class of source report onto a target table. Headers
// are compared after NormalizeHeader, then mapped through the dialect's
// synonyms and finally snake_cased into canonical column names.

import (
	"fmt"
	"strings"
	"unicode"
)

// HeaderIndex maps normalized header names to their position in a row.
type HeaderIndex map[string]int

// Dialect describes one class of source report.
type Dialect struct {
	ID          string
	Label       string
	TargetTable string

	// Synonyms maps a normalized source header to a canonical column.
	Synonyms map[string]string

	// Fields lists the declared target columns in load order. Free-form
	// dialects use it only to type the columns they know about.
	Fields []FieldSpec

	// ConflictColumns is the upsert key. Empty means append-only.
	ConflictColumns []string

	// ConditionalKey marks ConflictColumns as trusted only when every row
	// of the job populates them.
	ConditionalKey bool

	// FreeForm dialects take their target columns from the first
	// validated batch instead of Fields.
	FreeForm bool

	// Detect reports whether normalized header names belong to this
	// dialect. A nil Detect means the dialect is only used by override.
	Detect func(cols []string) bool

	// Normalize overrides the default normalizer when set.
	Normalize func(d *Dialect, b *Batch) (*Batch, error)
}

// Field returns the declared spec for a canonical column.
func (d *Dialect) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the declared target columns in order.
func (d *Dialect) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Name
	}
	return cols
}

// CanonicalColumn maps a source header to this dialect's column name.
func (d *Dialect) CanonicalColumn(header string) string {
	n := NormalizeHeader(CleanCell(header))
	if syn, ok := d.Synonyms[n]; ok {
		return syn
	}
	return SnakeCase(n)
}

// NormalizeBatch converts a raw batch into a canonical one.
func (d *Dialect) NormalizeBatch(b *Batch) (*Batch, error) {
	if d.Normalize != nil {
		return d.Normalize(d, b)
	}
	if d.FreeForm {
		return d.normalizeFreeForm(b)
	}
	return d.normalizeDeclared(b)
}

// normalizeDeclared emits rows in declared field order, filling absent
// optional columns with their defaults and dropping blank rows.
func (d *Dialect) normalizeDeclared(b *Batch) (*Batch, error) {
	src := d.sourceIndex(b.Columns)
	if err := d.checkRequired(src); err != nil {
		return nil, err
	}

	out := &Batch{Columns: d.Columns(), Offset: b.Offset}
	out.Rows = make([][]string, 0, len(b.Rows))
	for _, row := range b.Rows {
		if isBlankRow(row) {
			continue
		}
		canon := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			pos, ok := src[f.Name]
			switch {
			case !ok:
				canon[i] = f.Default
			case pos < len(row):
				canon[i] = CleanCell(row[pos])
			}
		}
		out.Rows = append(out.Rows, canon)
	}
	return out, nil
}

// normalizeFreeForm keeps every source column under its canonical name.
func (d *Dialect) normalizeFreeForm(b *Batch) (*Batch, error) {
	src := d.sourceIndex(b.Columns)
	if err := d.checkRequired(src); err != nil {
		return nil, err
	}

	cols := make([]string, len(b.Columns))
	seen := make(map[string]int, len(b.Columns))
	for i, h := range b.Columns {
		name := d.CanonicalColumn(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		cols[i] = name
	}

	out := &Batch{Columns: cols, Offset: b.Offset}
	out.Rows = make([][]string, 0, len(b.Rows))
	for _, row := range b.Rows {
		if isBlankRow(row) {
			continue
		}
		canon := make([]string, len(cols))
		for i := range cols {
			if i < len(row) {
				canon[i] = CleanCell(row[i])
			}
		}
		out.Rows = append(out.Rows, canon)
	}
	return out, nil
}

// sourceIndex maps canonical column names to source positions. The first
// occurrence of a duplicated header wins.
func (d *Dialect) sourceIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		name := d.CanonicalColumn(h)
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

func (d *Dialect) checkRequired(src HeaderIndex) error {
	var missing []string
	for _, f := range d.Fields {
		if !f.Required {
			continue
		}
		if _, ok := src[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return NewValidationError("%s: missing required columns: %s", d.ID, strings.Join(missing, ", "))
	}
	return nil
}

// NormalizeHeader trims, collapses internal whitespace and lowercases a
// header name. A leading byte order mark is dropped.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// NormalizeHeaders applies NormalizeHeader to every name.
func NormalizeHeaders(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = NormalizeHeader(CleanCell(h))
	}
	return out
}

// SnakeCase converts a normalized header into a column identifier:
// "afn-fulfillable-quantity" -> "afn_fulfillable_quantity",
// "(child) asin" -> "child_asin".
func SnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// HasAll reports whether every name appears in cols.
func HasAll(cols []string, names ...string) bool {
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c] = struct{}{}
	}
	for _, n := range names {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one name appears in cols.
func HasAny(cols []string, names ...string) bool {
	for _, c := range cols {
		for _, n := range names {
			if c == n {
				return true
			}
		}
	}
	return false
}

func allBlank(rows [][]string) bool {
	for _, row := range rows {
		if !isBlankRow(row) {
			return false
		}
	}
	return true
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}
