package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	// ErrNotFound indicates a referenced entity does not exist in storage.
	ErrNotFound = errors.New("not found")

	// ErrDivisionByZero indicates a value was divided by a zero quantity.
	ErrDivisionByZero = errors.New("division by zero quantity")

	// ErrNonPositiveAmount indicates a distribution amount was zero or negative.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrNegativeQuantity indicates a quantity or money value below zero.
	ErrNegativeQuantity = errors.New("negative quantity")
)

// ConfigurationError reports a malformed value equation, rule, equation
// variable, filter payload or request. It aborts the whole run.
type ConfigurationError struct {
	// Subject names the offending object (bucket ID, rule ID, filter key).
	Subject string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", e.Subject, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Configf creates a ConfigurationError for subject.
func Configf(subject, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// DataIntegrityError reports a dangling reference in the flow graph, such as a
// claimed event whose resource no longer exists.
type DataIntegrityError struct {
	// Kind is the entity kind holding the reference ("event", "process").
	Kind string
	// ID is the entity holding the reference.
	ID string
	// Ref describes the missing target.
	Ref string
	Err error
}

// Error implements the error interface.
func (e *DataIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data integrity: %s %s references missing %s: %v", e.Kind, e.ID, e.Ref, e.Err)
	}
	return fmt.Sprintf("data integrity: %s %s references missing %s", e.Kind, e.ID, e.Ref)
}

// Unwrap returns the underlying error.
func (e *DataIntegrityError) Unwrap() error {
	return e.Err
}

// Dangling creates a DataIntegrityError.
func Dangling(kind, id, ref string, err error) *DataIntegrityError {
	return &DataIntegrityError{Kind: kind, ID: id, Ref: ref, Err: err}
}

// ReconciliationError reports that distributed amounts still differ from the
// requested amount after the rounding adjustment.
type ReconciliationError struct {
	Expected    string
	Distributed string
}

// Error implements the error interface.
func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("rounding reconciliation failed: expected %s, distributed %s", e.Expected, e.Distributed)
}
