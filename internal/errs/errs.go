// Package errs defines the error kinds shared by the prediction pipeline.
//
// Every error produced by the pipeline belongs to exactly one kind:
//
//   - ErrConfiguration: the artifact or settings are unusable. Fatal at startup.
//   - ErrValidation: the caller sent a bad request and may correct and resubmit.
//   - ErrComputation: evaluation of a single request failed.
//
// Named causes (ErrSchemaMismatch, ErrDimensionMismatch, ...) are matched with
// errors.Is alongside the kind.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kinds
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrComputation   = errors.New("computation error")
)

// Causes
var (
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrModelUnavailable     = errors.New("model unavailable")
	ErrExplainerUnavailable = errors.New("explainer unavailable")
	ErrInvalidValue         = errors.New("invalid value")
)

// Error carries a kind, an optional named cause and a message.
type Error struct {
	Kind  error
	Cause error
	Msg   string
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Msg != "":
		return fmt.Sprintf("%v: %s", e.Cause, e.Msg)
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return e.Msg
	}
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Configuration builds a ConfigurationError.
func Configuration(cause error, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a ValidationError.
func Validation(cause error, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

// Computation builds a ComputationError.
func Computation(cause error, format string, args ...any) error {
	return &Error{Kind: ErrComputation, Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

// SchemaMismatchError reports the difference between a request's feature
// names and the schema. It is a ValidationError.
type SchemaMismatchError struct {
	Missing []string
	Extra   []string
}

// NewSchemaMismatch returns nil when both lists are empty.
func NewSchemaMismatch(missing, extra []string) error {
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &SchemaMismatchError{Missing: missing, Extra: extra}
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing ["+strings.Join(e.Missing, ", ")+"]")
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "extra ["+strings.Join(e.Extra, ", ")+"]")
	}
	return "schema mismatch: " + strings.Join(parts, ", ")
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch || target == ErrValidation
}

// KindOf returns the kind sentinel of err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrConfiguration, ErrComputation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Label is a short name for the kind, used in metrics and HTTP bodies.
func Label(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation"
	case ErrConfiguration:
		return "configuration"
	case ErrComputation:
		return "computation"
	default:
		return "unknown"
	}
}
