package core

// validation.go enforces a dialect's declarative schema on canonical batches.
//
// Each cell is normalized, checked against its FieldSpec (nullability, type,
// sign, length, enum membership) and coerced into the pgtype value the loader
// writes. The first failing cell aborts the batch with a *ValidationError;
// rows are never dropped silently.

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// Validator checks canonical batches whose column order was fixed when the
// dialect was resolved.
type Validator struct {
	columns []string
	specs   []FieldSpec
}

// NewValidator builds a validator for the given target columns. Columns the
// dialect does not declare validate as nullable text.
func NewValidator(d *Dialect, columns []string) *Validator {
	specs := make([]FieldSpec, len(columns))
	for i, c := range columns {
		if f, ok := d.Field(c); ok {
			specs[i] = f
		} else {
			specs[i] = FieldSpec{Name: c, Type: FieldText}
		}
	}
	return &Validator{
		columns: slices.Clone(columns),
		specs:   specs,
	}
}

// Columns returns the column order every batch must follow.
func (v *Validator) Columns() []string {
	return v.columns
}

// Specs returns the field specs aligned with Columns.
func (v *Validator) Specs() []FieldSpec {
	return v.specs
}

// Validate coerces every row of b. A batch whose columns differ from the
// resolved order is rejected.
func (v *Validator) Validate(b *Batch) (*Records, error) {
	if !slices.Equal(b.Columns, v.columns) {
		return nil, NewValidationError("batch columns [%s] do not match resolved columns [%s]",
			strings.Join(b.Columns, ", "), strings.Join(v.columns, ", "))
	}

	recs := &Records{
		Columns: v.columns,
		Values:  make([][]any, 0, len(b.Rows)),
	}
	for i, row := range b.Rows {
		vals := make([]any, len(v.specs))
		for j, spec := range v.specs {
			raw := ""
			if j < len(row) {
				raw = row[j]
			}
			val, err := CoerceCell(raw, spec)
			if err != nil {
				return nil, &ValidationError{
					Field:   spec.Name,
					Value:   raw,
					Row:     b.Offset + i,
					Message: err.Error(),
				}
			}
			vals[j] = val
		}
		recs.Values = append(recs.Values, vals)
	}
	return recs, nil
}

// CoerceCell validates a single value against its spec and returns the typed
// value to load. Empty values become typed NULLs.
func CoerceCell(raw string, spec FieldSpec) (any, error) {
	raw = strings.TrimSpace(raw)
	if spec.Normalizer != nil && raw != "" {
		raw = spec.Normalizer(raw)
	}

	if raw == "" {
		if spec.NotNull {
			return nil, fmt.Errorf("required field is empty")
		}
		return nullOf(spec.Type), nil
	}

	switch spec.Type {
	case FieldInteger:
		v := ToPgInt8(raw)
		if !v.Valid {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		if spec.NonNegative && v.Int64 < 0 {
			return nil, fmt.Errorf("must be a non-negative integer")
		}
		return v, nil

	case FieldNumeric:
		v := ToPgNumeric(raw)
		if !v.Valid {
			return nil, fmt.Errorf("invalid number format")
		}
		if spec.NonNegative && v.Int != nil && v.Int.Sign() < 0 {
			return nil, fmt.Errorf("must be non-negative")
		}
		return v, nil

	case FieldDate:
		v := ToPgDate(raw)
		if !v.Valid {
			return nil, fmt.Errorf("invalid date format (use YYYY-MM-DD or similar)")
		}
		return v, nil

	case FieldTimestamp:
		v := ToPgTimestamptz(raw)
		if !v.Valid {
			return nil, fmt.Errorf("invalid timestamp format (use ISO 8601)")
		}
		return v, nil

	case FieldBool:
		v := ToPgBool(raw)
		if !v.Valid {
			return nil, fmt.Errorf("must be yes/no, true/false, or 1/0")
		}
		return v, nil

	case FieldEnum:
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, raw) {
				return pgtype.Text{String: ev, Valid: true}, nil
			}
		}
		return nil, fmt.Errorf("invalid enum value, must be one of: %s", strings.Join(spec.EnumValues, ", "))

	default:
		if spec.Length > 0 && utf8.RuneCountInString(raw) != spec.Length {
			return nil, fmt.Errorf("must be exactly %d characters", spec.Length)
		}
		return pgtype.Text{String: raw, Valid: true}, nil
	}
}

func nullOf(ft FieldType) any {
	switch ft {
	case FieldInteger:
		return pgtype.Int8{}
	case FieldNumeric:
		return pgtype.Numeric{}
	case FieldDate:
		return pgtype.Date{}
	case FieldTimestamp:
		return pgtype.Timestamptz{}
	case FieldBool:
		return pgtype.Bool{}
	default:
		return pgtype.Text{}
	}
}

// String returns a human-readable name for a field type.
func (ft FieldType) String() string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	case FieldInteger:
		return "integer"
	case FieldTimestamp:
		return "timestamp"
	default:
		return "value"
	}
}
