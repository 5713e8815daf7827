// Package werr defines the workbook engine's error taxonomy: a closed set
// of error kinds (not Go types) that the ABI layer maps to status codes
// without needing to inspect message text.
package werr

import (
	"errors"
	"fmt"
)

// Code is one of the error kinds the workbook engine can report.
type Code string

const (
	InvalidHandle     Code = "INVALID_HANDLE"
	OpenFailed        Code = "OPEN_FAILED"
	ImportFailed      Code = "IMPORT_FAILED"
	MalformedInput    Code = "MALFORMED_INPUT"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	DuplicateSource   Code = "DUPLICATE_SOURCE"
	UnknownSource     Code = "UNKNOWN_SOURCE"
	DuplicateDataset  Code = "DUPLICATE_DATASET"
	UnknownDataset    Code = "UNKNOWN_DATASET"
	InvalidName       Code = "INVALID_NAME"
	SqlError          Code = "SQL_ERROR"
	ExportFailed      Code = "EXPORT_FAILED"
	InternalError     Code = "INTERNAL_ERROR"
)

// Error is the concrete error type every workbook operation returns.
// Message is human-readable and lands verbatim in a workbook's last-error
// slot; Code is what callers (and the ABI layer) branch on.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries an underlying cause, e.g. the
// embedded store's native error text for SqlError.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the Code from err, defaulting to InternalError for any
// error that did not originate from this package.
func CodeOf(err error) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	if err == nil {
		return ""
	}
	return InternalError
}

// Is reports whether err (or something it wraps) carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
