package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/observability"
)

// Traversal carries the per-call state of one recursive walk over the graph.
// Build a new Traversal for every top-level call; it must never be shared
// between walks or stored in package-level variables.
//
// Traversal is not safe for concurrent use.
type Traversal struct {
	ctx     context.Context
	logger  *slog.Logger
	visited map[string]struct{}
	steps   int
	skipped int
}

// NewTraversal creates a traversal bound to ctx. A nil logger falls back to
// slog.Default().
func NewTraversal(ctx context.Context, logger *slog.Logger) *Traversal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Traversal{
		ctx:     ctx,
		logger:  logger,
		visited: make(map[string]struct{}),
	}
}

// Context returns the context the traversal was created with.
func (t *Traversal) Context() context.Context {
	return t.ctx
}

// Logger returns the traversal logger.
func (t *Traversal) Logger() *slog.Logger {
	return t.logger
}

// Visit marks a process as expanded. It returns false when the process was
// already expanded in this traversal, which is how cycles are broken.
func (t *Traversal) Visit(processID string) bool {
	if _, seen := t.visited[processID]; seen {
		return false
	}
	t.visited[processID] = struct{}{}
	return true
}

// Visited reports whether the process has been expanded.
func (t *Traversal) Visited(processID string) bool {
	_, seen := t.visited[processID]
	return seen
}

// VisitedCount returns the number of processes expanded so far.
func (t *Traversal) VisitedCount() int {
	return len(t.visited)
}

// Enter is called at every resource or process boundary. It counts the step
// and returns a CancellationError if the caller has aborted.
func (t *Traversal) Enter(kind, id string) error {
	t.steps++
	if err := t.ctx.Err(); err != nil {
		return &CancellationError{Kind: kind, ID: id, Cause: err}
	}
	return nil
}

// Steps returns the number of boundaries entered.
func (t *Traversal) Steps() int {
	return t.steps
}

// Skip logs a recoverable data problem; the branch contributes zero.
func (t *Traversal) Skip(kind, id string, err error) {
	t.skipped++
	observability.LogBranchSkipped(t.logger, kind, id, err)
}

// Skipped returns the number of skipped branches.
func (t *Traversal) Skipped() int {
	return t.skipped
}

// CancellationError records where a traversal was aborted.
type CancellationError struct {
	// Kind is "resource" or "process".
	Kind string
	ID   string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("traversal cancelled at %s %s: %v", e.Kind, e.ID, e.Cause)
}

// Unwrap returns the cancellation cause.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}
