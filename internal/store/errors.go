package store

import "sync/atomic"

// ErrorKind classifies an AppError. Every failure currently maps to
// ErrorGeneric; callers cannot tell a network failure from bad credentials.
type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// DefaultErrorMessage is the human readable fallback carried by every AppError.
const DefaultErrorMessage = "Ошибка"

// AppError is the value held by a store's error projection after an
// operation fails. It owns the closure that re-runs the failed operation.
type AppError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool

	retry func()
	used  atomic.Bool
	cause error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying failure for logging.
func (e *AppError) Unwrap() error {
	return e.cause
}

// CanRetry reports whether Retry would do anything.
func (e *AppError) CanRetry() bool {
	return e != nil && e.Retryable && e.retry != nil && !e.used.Load()
}

// Retry schedules the failed operation again. Each error can be retried
// once; a failed retry sets a new error. It returns false when there is
// nothing to retry. Safe on a nil receiver.
func (e *AppError) Retry() bool {
	if !e.CanRetry() || !e.used.CompareAndSwap(false, true) {
		return false
	}
	e.retry()
	return true
}
