package pipeline

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Pipeline Errors
// ---------------------------------------------------------------------------

var (
	// Run lifecycle errors
	ErrConcurrentRunRejected = errors.New("pipeline: another run is in progress for this source and target")
	ErrInvalidTransition     = errors.New("pipeline: invalid batch status transition")
	ErrBatchNotFound         = errors.New("pipeline: batch run not found")
	ErrRunCancelled          = errors.New("pipeline: run cancelled")
	ErrRetriesExhausted      = errors.New("pipeline: transient failure retries exhausted")

	// Data errors
	ErrSchemaMismatch = errors.New("pipeline: schema mismatch")

	// Operator errors
	ErrUnknownSource      = errors.New("pipeline: unknown source")
	ErrUnknownTarget      = errors.New("pipeline: unknown target table")
	ErrSourceInactive     = errors.New("pipeline: source is not active")
	ErrMissingCredentials = errors.New("pipeline: missing credentials")
	ErrUpsertRequiresKey  = errors.New("pipeline: upsert mode requires key columns")
	ErrModeNotSupported   = errors.New("pipeline: load mode not supported by target")
	ErrInvalidWindow      = errors.New("pipeline: invalid extraction window")
)

// ErrorKind classifies a failure for the retry and batch policy.
type ErrorKind string

const (
	// KindTransient failures are retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindFatal failures abort the batch and mark it failed.
	KindFatal ErrorKind = "fatal"
	// KindOperator failures are misconfiguration, reported before a batch exists.
	KindOperator ErrorKind = "operator"
)

// String returns the string representation
func (k ErrorKind) String() string {
	return string(k)
}

// Error is a classified pipeline failure.
type Error struct {
	Kind ErrorKind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retry-eligible.
func NewTransientError(op, code string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Op: op, Err: err}
}

// NewFatalError wraps err as batch-aborting.
func NewFatalError(op, code string, err error) *Error {
	return &Error{Kind: KindFatal, Code: code, Op: op, Err: err}
}

// NewOperatorError wraps err as a configuration or request problem.
func NewOperatorError(op, code string, err error) *Error {
	return &Error{Kind: KindOperator, Code: code, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are fatal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsOperator reports whether err is an operator error.
func IsOperator(err error) bool {
	return err != nil && KindOf(err) == KindOperator
}

// CodeOf returns the code of the outermost classified error, or "".
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
