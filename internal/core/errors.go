package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes every backend adapter maps its
// native errors onto. The DAO classification table is keyed by these values.
type ErrorKind int

const (
	// KindBackendFailure covers every backend error that has no more specific kind.
	KindBackendFailure ErrorKind = iota

	// KindRecordNotFound means a read or delete found no matching record.
	KindRecordNotFound

	// KindRecordExists means a create-only write found a pre-existing record.
	KindRecordExists

	// KindGenerationConflict means an expected-generation precondition failed.
	KindGenerationConflict

	// KindStoreNotFound means the backing store or table does not exist.
	KindStoreNotFound
)

// String returns the identifier used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindRecordNotFound:
		return "record_not_found"
	case KindRecordExists:
		return "record_exists"
	case KindGenerationConflict:
		return "generation_conflict"
	case KindStoreNotFound:
		return "store_not_found"
	default:
		return "backend_failure"
	}
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, error) {
	for k := KindBackendFailure; k <= KindStoreNotFound; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindBackendFailure, fmt.Errorf("unknown error kind %q", s)
}

// Sentinels for errors.Is checks against a *BackendError.
var (
	ErrBackendFailure     = errors.New("backend failure")
	ErrRecordNotFound     = errors.New("record not found")
	ErrRecordExists       = errors.New("record already exists")
	ErrGenerationConflict = errors.New("record generation conflict")
	ErrStoreNotFound      = errors.New("store not found")
)

var kindSentinels = map[ErrorKind]error{
	KindBackendFailure:     ErrBackendFailure,
	KindRecordNotFound:     ErrRecordNotFound,
	KindRecordExists:       ErrRecordExists,
	KindGenerationConflict: ErrGenerationConflict,
	KindStoreNotFound:      ErrStoreNotFound,
}

// BackendError is the tagged result every adapter returns on failure.
type BackendError struct {
	Kind    ErrorKind
	Backend string // adapter type, e.g. "redis"
	Op      string // adapter operation, e.g. "put"
	Code    string // backend-native error identifier, if any
	Message string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, msg)
}

// Unwrap returns the native error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *BackendError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewBackendError builds a BackendError.
func NewBackendError(kind ErrorKind, backend, op, code string, err error) *BackendError {
	return &BackendError{Kind: kind, Backend: backend, Op: op, Code: code, Err: err}
}

// KindOf extracts the kind from err. The second result is false when err does
// not wrap a *BackendError.
func KindOf(err error) (ErrorKind, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return KindBackendFailure, false
}

// ValidationKind enumerates field-level validation failures.
type ValidationKind string

const (
	NullNotAllowed     ValidationKind = "null_not_allowed"
	TypeMismatch       ValidationKind = "type_mismatch"
	OutOfRange         ValidationKind = "out_of_range"
	TooLong            ValidationKind = "too_long"
	InvalidShape       ValidationKind = "invalid_shape"
	NotInAllowedValues ValidationKind = "not_in_allowed_values"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError is raised synchronously by field validation and is never swallowed.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s: %s", e.Field, e.Kind, e.Detail)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError with a formatted detail.
func NewValidationError(kind ValidationKind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// ErrSchema is matched by every *SchemaError.
var ErrSchema = errors.New("schema error")

// SchemaError reports a broken schema definition or use: undefined table name,
// duplicate or missing primary key, unmapped field kind. It is always fatal.
type SchemaError struct {
	Schema string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema %q field %q: %s", e.Schema, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema %q: %s", e.Schema, e.Reason)
}

// Is reports whether target is ErrSchema.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// NewSchemaError builds a SchemaError with a formatted reason.
func NewSchemaError(schemaName, field, format string, args ...any) *SchemaError {
	return &SchemaError{Schema: schemaName, Field: field, Reason: fmt.Sprintf(format, args...)}
}
