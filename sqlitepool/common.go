package sqlitepool

import (
	"errors"
	"fmt"
)

var ErrEmptyDatabasePath = errors.New("empty database path supplied")
var ErrHandleClosed = errors.New("handle is closed")
var ErrPoolExhausted = errors.New("all handle creation attempts failed")
var ErrPoolReleasing = errors.New("pool manager is releasing all handles")
var ErrExtractionFailed = errors.New("native column type is not supported")

// RowIDInt64 is a type alias for int64, representing the native rowid of a table row.
type RowIDInt64 = int64

// PrepareError wraps a native compile or bind failure with the offending
// query text attached for diagnosis.
type PrepareError struct {
	Query string
	Err   error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("preparing statement failed: %v (query: %s)", e.Err, e.Query)
}

func (e *PrepareError) Unwrap() error {
	return e.Err
}

// StepError wraps a native step failure with the offending query text attached.
type StepError struct {
	Query string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("stepping statement failed: %v (query: %s)", e.Err, e.Query)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// BindError reports a parameter whose Go value has no one-to-one native mapping.
type BindError struct {
	Query string
	Name  string
	Index int
	Value any
}

func (e *BindError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("binding parameter %q failed: unsupported value type %T (query: %s)", e.Name, e.Value, e.Query)
	}

	return fmt.Sprintf("binding parameter %d failed: unsupported value type %T (query: %s)", e.Index, e.Value, e.Query)
}

// ConstraintError reports a constraint violation during a step or execute.
// NotNull is set when the extended result code identifies a not-null
// violation, which callers commonly special-case.
type ConstraintError struct {
	Query   string
	NotNull bool
	Err     error
}

func (e *ConstraintError) Error() string {
	if e.NotNull {
		return fmt.Sprintf("not-null constraint violated: %v (query: %s)", e.Err, e.Query)
	}

	return fmt.Sprintf("constraint violated: %v (query: %s)", e.Err, e.Query)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// IsNotNullViolation reports whether err is a constraint error caused by a
// not-null violation.
func IsNotNullViolation(err error) bool {
	var constraintErr *ConstraintError
	if errors.As(err, &constraintErr) {
		return constraintErr.NotNull
	}

	return false
}
