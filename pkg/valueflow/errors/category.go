// Package errors provides the error taxonomy for value roll-up and distribution.
//
// Errors are classified so callers know whether a distribution run must abort:
//   - Configuration: malformed buckets, rules, equations or filters. Fatal.
//   - DataIntegrity: dangling graph references in historical data. The affected
//     branch is skipped and contributes zero.
//   - Arithmetic: division by a zero quantity. Always guarded, never surfaced.
//   - Reconciliation: rounding drift left after the final adjustment. Fatal.
//   - Transient: payment rail failures that may succeed on retry.
//   - Cancelled: the caller aborted the traversal.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryConfiguration indicates the value equation or request is malformed.
	CategoryConfiguration Category = iota

	// CategoryDataIntegrity indicates a dangling reference in the flow graph.
	CategoryDataIntegrity

	// CategoryArithmetic indicates an attempted division by zero.
	CategoryArithmetic

	// CategoryReconciliation indicates distributed totals do not match the amount.
	CategoryReconciliation

	// CategoryTransient indicates a collaborator failure that retry may fix.
	CategoryTransient

	// CategoryCancelled indicates the caller cancelled the operation.
	CategoryCancelled
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryDataIntegrity:
		return "data_integrity"
	case CategoryArithmetic:
		return "arithmetic"
	case CategoryReconciliation:
		return "reconciliation"
	case CategoryTransient:
		return "transient"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryConfiguration // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return CategoryConfiguration
	}

	var dataErr *DataIntegrityError
	if errors.As(err, &dataErr) {
		return CategoryDataIntegrity
	}

	var recErr *ReconciliationError
	if errors.As(err, &recErr) {
		return CategoryReconciliation
	}

	if errors.Is(err, ErrDivisionByZero) {
		return CategoryArithmetic
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCancelled
	}

	// Unknown errors abort the run (fail safe)
	return CategoryConfiguration
}

// IsRecoverable reports whether the affected branch can be skipped with a
// zero contribution instead of failing the run.
func IsRecoverable(err error) bool {
	switch Categorize(err) {
	case CategoryDataIntegrity, CategoryArithmetic:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must abort the whole distribution run.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
