package core

// error_messages.go maps technical errors to coded, user-facing messages.
//
// # Error Codes Reference
//
// Codes are quoted in HTTP responses and prefixed to ledger error summaries
// so operators can find the failure class without reading stack traces.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: a unique index on the target rejected a row
//	DB002 - Constraint violation: a NOT NULL or CHECK constraint failed
//	DB003 - Foreign key: referenced record does not exist
//	DB004 - Connection refused: unable to connect to database
//	DB005 - Connection reset: database connection was interrupted
//	DB006 - Timeout: statement or lock wait timed out
//	DB007 - Deadlock: conflicting concurrent loads
//	DB008 - Schema mismatch: target table does not have the expected shape
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date or timestamp
//	VAL002 - Invalid number
//	VAL003 - Required field is empty
//	VAL004 - Required column is missing from the header
//	VAL005 - Unknown report: no dialect matched the header
//	VAL006 - Invalid enum value
//	VAL007 - Negative value where only non-negative values are allowed
//	VAL008 - Wrong length (currency codes)
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Unsupported file type
//	FILE002 - Unreadable delimited text under every encoding
//	FILE003 - Legacy .xls workbook that cannot be read
//	FILE004 - File cannot be opened or read
//	FILE005 - Empty file
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Too many concurrent jobs
//	JOB002 - Request cancelled
//	JOB003 - Request timed out
//	JOB004 - Service shutting down
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the application logs for
// the original technical error.
//
// # Matching
//
// A *pgconn.PgError is classified by SQLSTATE first. Everything else is
// matched case-insensitively with strings.Contains against errorPatterns in
// order; the first match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgDuplicateKey = UserMessage{
		Message: "A row conflicts with a unique index on the target table",
		Action:  "Check the table's unique indexes against the dialect's conflict key",
		Code:    "DB001",
	}
	msgConstraint = UserMessage{
		Message: "A row violates a constraint on the target table",
		Action:  "Review the rejected values against the table definition",
		Code:    "DB002",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Load the parent records first",
		Code:    "DB003",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Try again later or stream the file in smaller chunks",
		Code:    "DB006",
	}
	msgDeadlock = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}
	msgSchemaMismatch = UserMessage{
		Message: "Target table does not have the expected columns",
		Action:  "Compare the table definition with the dialect's fields",
		Code:    "DB008",
	}
)

// sqlStateMessages classifies Postgres errors by SQLSTATE.
var sqlStateMessages = map[string]UserMessage{
	"23505": msgDuplicateKey,
	"23502": msgConstraint,
	"23514": msgConstraint,
	"23503": msgForeignKey,
	"40P01": msgDeadlock,
	"57014": msgTimeout,
	"55P03": msgTimeout,
	"42P01": msgSchemaMismatch,
	"42703": msgSchemaMismatch,
	"42804": msgSchemaMismatch,
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// Database
	{pattern: "duplicate key", msg: msgDuplicateKey},
	{pattern: "violates unique", msg: msgDuplicateKey},
	{pattern: "violates not-null", msg: msgConstraint},
	{pattern: "violates check", msg: msgConstraint},
	{pattern: "violates foreign key", msg: msgForeignKey},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{pattern: "deadlock", msg: msgDeadlock},
	{pattern: "does not exist", msg: msgSchemaMismatch},

	// Validation
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid timestamp",
		msg: UserMessage{
			Message: "Invalid timestamp format detected",
			Action:  "Use ISO 8601, for example 2024-01-15T10:30:00Z",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use a plain decimal number; currency symbols and thousands separators are accepted",
			Code:    "VAL002",
		},
	},
	{
		pattern: "invalid integer",
		msg: UserMessage{
			Message: "Invalid whole number detected",
			Action:  "Remove decimals and text from count columns",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL003",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "Required column is missing from the header",
			Action:  "Check that the export contains every required column",
			Code:    "VAL004",
		},
	},
	{
		pattern: "unknown report",
		msg: UserMessage{
			Message: "The report type could not be recognized",
			Action:  "Name the dialect explicitly or check the header row",
			Code:    "VAL005",
		},
	},
	{
		pattern: "unknown dialect",
		msg: UserMessage{
			Message: "The requested dialect is not registered",
			Action:  "List the available dialects and pick one of them",
			Code:    "VAL005",
		},
	},
	{
		pattern: "invalid enum",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this field",
			Code:    "VAL006",
		},
	},
	{
		pattern: "non-negative",
		msg: UserMessage{
			Message: "A negative value was found where only zero or more is allowed",
			Action:  "Check quantity and count columns",
			Code:    "VAL007",
		},
	},
	{
		pattern: "must be exactly",
		msg: UserMessage{
			Message: "A value has the wrong length",
			Action:  "Use three-letter currency codes such as USD or EUR",
			Code:    "VAL008",
		},
	},

	// File
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "This file type is not supported",
			Action:  "Upload CSV, TSV, TXT or XLSX files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "failed to read csv",
		msg: UserMessage{
			Message: "The file could not be read as delimited text",
			Action:  "Save the file as UTF-8 CSV and try again",
			Code:    "FILE002",
		},
	},
	{
		pattern: ".xls",
		msg: UserMessage{
			Message: "Legacy Excel workbooks cannot be read",
			Action:  "Save the file as .xlsx or CSV",
			Code:    "FILE003",
		},
	},
	{
		pattern: "cannot open",
		msg: UserMessage{
			Message: "The file could not be opened",
			Action:  "Check the path and file permissions",
			Code:    "FILE004",
		},
	},
	{
		pattern: "cannot read file",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Check that the file is complete and retry the import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file is empty",
			Action:  "Upload a file with a header row and data rows",
			Code:    "FILE005",
		},
	},

	// Job
	{
		pattern: "too many concurrent jobs",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "JOB001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "JOB002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Use streaming mode for large files or try again later",
			Code:    "JOB003",
		},
	},
	{
		pattern: "shutting down",
		msg: UserMessage{
			Message: "The service is shutting down",
			Action:  "Retry against another instance or after restart",
			Code:    "JOB004",
		},
	},
	{pattern: "timeout", msg: msgTimeout},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Postgres errors are classified by SQLSTATE; other errors by the first
// matching pattern. If nothing matches, ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStateMessages[pgErr.Code]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// TechnicalDetail renders err for operators, appending Postgres detail and
// hint fields when present.
func TechnicalDetail(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			s += "; detail: " + pgErr.Detail
		}
		if pgErr.Hint != "" {
			s += "; hint: " + pgErr.Hint
		}
	}
	return s
}
