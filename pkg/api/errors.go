package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine and saga errors so callers (and the HTTP
// layer) can map them without string matching.
type ErrorKind string

const (
	// KindValidation marks malformed or missing identifiers and definitions.
	KindValidation ErrorKind = "VALIDATION"

	// KindNotFound marks an unknown context or snapshot id.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindPreconditionNotMet marks a resume attempted before the snapshot's
	// resume condition holds. The snapshot stays suspended.
	KindPreconditionNotMet ErrorKind = "PRECONDITION_NOT_MET"

	// KindConcurrencyConflict marks a version mismatch caused by a
	// concurrent resume of the same snapshot.
	KindConcurrencyConflict ErrorKind = "CONCURRENCY_CONFLICT"

	// KindStepExecution marks a step forward action that failed after its
	// retries were exhausted. The cause is wrapped.
	KindStepExecution ErrorKind = "STEP_EXECUTION"

	// KindTimeout marks a step that exceeded its deadline. It is a
	// StepExecution subtype: IsStepExecution reports true for it.
	KindTimeout ErrorKind = "TIMEOUT"

	// KindStepBudgetExceeded marks a run that reached max_steps while
	// still running.
	KindStepBudgetExceeded ErrorKind = "STEP_BUDGET_EXCEEDED"

	// KindCompensation marks a saga compensation action that itself failed.
	// Never retried; always terminal for the saga run.
	KindCompensation ErrorKind = "COMPENSATION"
)

// Error is the error type used throughout the engine and saga orchestrator.
// It carries a kind for classification and, for compensation failures, the
// bookkeeping the caller needs for manual intervention.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error

	// FailedAtStep and CompensatedSteps are set only for KindCompensation.
	FailedAtStep     string
	CompensatedSteps []string
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two kesto errors by kind, so sentinel-style
// comparisons like errors.Is(err, &Error{Kind: KindNotFound}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error of the given kind around a cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the ErrorKind of err, or "" if err is not a kesto Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsNotFound reports whether err marks an unknown context or snapshot.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsPreconditionNotMet reports whether err marks a premature resume.
func IsPreconditionNotMet(err error) bool { return isKind(err, KindPreconditionNotMet) }

// IsConcurrencyConflict reports whether err marks a lost resume race.
func IsConcurrencyConflict(err error) bool { return isKind(err, KindConcurrencyConflict) }

// IsStepExecution reports whether err marks a failed forward action.
// Timeouts count: they are step execution failures with a deadline cause.
func IsStepExecution(err error) bool {
	return isKind(err, KindStepExecution) || isKind(err, KindTimeout)
}

// IsTimeout reports whether err is specifically a step deadline failure.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsStepBudgetExceeded reports whether err marks an exhausted step budget.
func IsStepBudgetExceeded(err error) bool { return isKind(err, KindStepBudgetExceeded) }

// IsCompensation reports whether err marks a failed compensation action.
func IsCompensation(err error) bool { return isKind(err, KindCompensation) }
