// Package errors provides standardized error handling for the bridge.
// Errors are classified into the four failure domains of the system:
// catalog (load-time), evaluation (per-state recompute), authorization
// (long-press allow-list) and session (telemetry I/O). Helpers wrap errors
// with consistent "component.method: action failed" context and the
// predicates work through errors.Is/As chains.
package errors

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for handling purposes.
type Class int

const (
	// ClassCatalog marks a malformed definition document or formula.
	// Load is all-or-nothing; the previous catalog is preserved.
	ClassCatalog Class = iota
	// ClassEvaluation marks an arithmetic-domain or malformed-token failure
	// during recomputation, scoped to a single state.
	ClassEvaluation
	// ClassAuthorization marks a long-press command outside the allow-list.
	ClassAuthorization
	// ClassSession marks a telemetry I/O failure. Triggers supervisor
	// teardown and indefinite retry, never process exit.
	ClassSession
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassCatalog:
		return "catalog"
	case ClassEvaluation:
		return "evaluation"
	case ClassAuthorization:
		return "authorization"
	case ClassSession:
		return "session"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Catalog errors
	ErrInvalidDocument  = errors.New("invalid definition document")
	ErrInvalidFormula   = errors.New("invalid formula")
	ErrInvalidTypeSpec  = errors.New("invalid output type spec")
	ErrDuplicateState   = errors.New("state redefined with different definition")
	ErrUnknownPage      = errors.New("unknown page")
	ErrVersionMismatch  = errors.New("unsupported document version")

	// Evaluation errors
	ErrDivisionByZero = errors.New("division by zero")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrUnknownToken   = errors.New("unrecognized token")

	// Authorization errors
	ErrNotAllowListed = errors.New("command not allow-listed")

	// Session errors
	ErrNotConnected      = errors.New("no telemetry session")
	ErrSessionLost       = errors.New("telemetry session lost")
	ErrTooManySubscribed = errors.New("subscription limit reached")
)

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern
// "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapCatalog wraps an error as a catalog (load-time) error with context.
func WrapCatalog(err error, component, method, action string) error {
	return wrapClassified(ClassCatalog, err, component, method, action)
}

// WrapEvaluation wraps an error as an evaluation error with context.
func WrapEvaluation(err error, component, method, action string) error {
	return wrapClassified(ClassEvaluation, err, component, method, action)
}

// WrapAuthorization wraps an error as an authorization error with context.
func WrapAuthorization(err error, component, method, action string) error {
	return wrapClassified(ClassAuthorization, err, component, method, action)
}

// WrapSession wraps an error as a session error with context.
func WrapSession(err error, component, method, action string) error {
	return wrapClassified(ClassSession, err, component, method, action)
}

func hasClass(err error, class Class) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	return false
}

// IsCatalog checks if an error is a catalog load failure.
func IsCatalog(err error) bool {
	return hasClass(err, ClassCatalog) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrInvalidFormula) ||
		errors.Is(err, ErrInvalidTypeSpec) ||
		errors.Is(err, ErrDuplicateState) ||
		errors.Is(err, ErrVersionMismatch)
}

// IsEvaluation checks if an error is a recomputation failure.
func IsEvaluation(err error) bool {
	return hasClass(err, ClassEvaluation) ||
		errors.Is(err, ErrDivisionByZero) ||
		errors.Is(err, ErrStackUnderflow) ||
		errors.Is(err, ErrUnknownToken)
}

// IsAuthorization checks if an error is an allow-list refusal.
func IsAuthorization(err error) bool {
	return hasClass(err, ClassAuthorization) || errors.Is(err, ErrNotAllowListed)
}

// IsSession checks if an error is a telemetry I/O failure.
func IsSession(err error) bool {
	return hasClass(err, ClassSession) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrSessionLost)
}

// Classify returns the error class for an error. Unclassified errors default
// to session so callers retry rather than drop.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case IsCatalog(err):
		return ClassCatalog
	case IsEvaluation(err):
		return ClassEvaluation
	case IsAuthorization(err):
		return ClassAuthorization
	default:
		return ClassSession
	}
}

// New and Is/As re-exports so callers need a single errors import.

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }
