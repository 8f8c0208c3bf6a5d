package core

import (
	"errors"
	"fmt"
)

// Messages of ValidationErrors that callers match on.
const (
	MsgEmptyFile      = "empty file"
	MsgFailedReadCSV  = "Failed to read CSV"
	MsgUnknownDialect = "Unknown report: cannot detect dialect"
)

// ValidationError reports input the user must fix: an empty or unreadable
// file, an undetectable dialect, or a schema violation. It is not retryable
// and never produces a ledger row.
type ValidationError struct {
	Field   string // Target column, when the error concerns one
	Value   string // The offending value
	Row     int    // 1-based source row number, 0 when not row-specific
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Row > 0:
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

// NewValidationError returns a ValidationError carrying only a message.
func NewValidationError(format string, args ...any) *ValidationError {
	if len(args) == 0 {
		return &ValidationError{Message: format}
	}
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// PipelineError wraps any failure that is not a ValidationError. Failures
// after the load transaction opened also have an error row in the ledger;
// earlier ones, such as a canceled metadata pass, do not.
type PipelineError struct {
	State JobState // State the job was in when it failed
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("ingest pipeline failed during %s: %v", e.State, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPipeline reports whether err is or wraps a *PipelineError.
func IsPipeline(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}
