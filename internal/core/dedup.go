package core

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/zeebo/xxh3"
)

// DedupKeepLast collapses records sharing a conflict key so only the last
// occurrence survives, in the position of that last occurrence. Records
// with a NULL in any key column pass through untouched. keyCols are indexes
// into recs.Columns.
func DedupKeepLast(recs *Records, keyCols []int) *Records {
	if recs.Len() < 2 || len(keyCols) == 0 {
		return recs
	}

	last := make(map[xxh3.Uint128]int, len(recs.Values))
	keys := make([]xxh3.Uint128, len(recs.Values))
	keyed := make([]bool, len(recs.Values))
	var buf []byte
	for i, row := range recs.Values {
		var ok bool
		buf, ok = appendKey(buf[:0], row, keyCols)
		if !ok {
			continue
		}
		keys[i] = xxh3.Hash128(buf)
		keyed[i] = true
		last[keys[i]] = i
	}
	if len(last) == countTrue(keyed) {
		return recs
	}

	out := &Records{
		Columns: recs.Columns,
		Values:  make([][]any, 0, len(last)+len(recs.Values)-countTrue(keyed)),
	}
	for i, row := range recs.Values {
		if keyed[i] && last[keys[i]] != i {
			continue
		}
		out.Values = append(out.Values, row)
	}
	return out
}

// appendKey encodes the key tuple of row. It reports false when any key
// value is NULL.
func appendKey(buf []byte, row []any, keyCols []int) ([]byte, bool) {
	for n, c := range keyCols {
		if n > 0 {
			buf = append(buf, 0x1f)
		}
		s, ok := keyText(row[c])
		if !ok {
			return buf, false
		}
		buf = append(buf, s...)
	}
	return buf, true
}

func keyText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case pgtype.Text:
		return t.String, t.Valid
	case pgtype.Int8:
		return strconv.FormatInt(t.Int64, 10), t.Valid
	case pgtype.Date:
		return t.Time.Format("2006-01-02"), t.Valid
	case pgtype.Timestamptz:
		return t.Time.UTC().Format("2006-01-02T15:04:05.999999999Z"), t.Valid
	case pgtype.Bool:
		return strconv.FormatBool(t.Bool), t.Valid
	case pgtype.Numeric:
		if !t.Valid {
			return "", false
		}
		f, err := t.Float64Value()
		if err != nil {
			return "", false
		}
		return strconv.FormatFloat(f.Float64, 'g', -1, 64), true
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// columnIndexes returns the positions of names within cols, or false when
// any name is missing.
func columnIndexes(cols, names []string) ([]int, bool) {
	idx := make([]int, len(names))
	for i, n := range names {
		p := slices.Index(cols, n)
		if p < 0 {
			return nil, false
		}
		idx[i] = p
	}
	return idx, true
}
