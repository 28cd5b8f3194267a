package rollup

import (
	"github.com/shopspring/decimal"
)

// Result is the outcome of one roll-up call. Nothing in the graph is
// modified until the Result is passed to Engine.Commit.
type Result struct {
	// ResourceID, ProcessID or EventID is the root of the roll-up.
	ResourceID string
	ProcessID  string
	EventID    string

	// ValuePerUnit is the root's value per unit, rounded up to cents.
	ValuePerUnit decimal.Decimal

	// Values maps every resource valued during the walk to its value per unit.
	Values map[string]decimal.Decimal

	// ProcessValues maps every expanded process to its unrounded value per
	// unit of output.
	ProcessValues map[string]decimal.Decimal

	// EventValues maps every event valued during the walk to its value.
	EventValues map[string]decimal.Decimal

	ProcessesVisited int
	Skipped          int

	// derived marks event values computed by the walk rather than read
	// from the event. Only these are committed.
	derived map[string]bool
}

func newResult() *Result {
	return &Result{
		Values:        make(map[string]decimal.Decimal),
		ProcessValues: make(map[string]decimal.Decimal),
		EventValues:   make(map[string]decimal.Decimal),
		derived:       make(map[string]bool),
	}
}

// ResourceValue returns the value per unit computed for a resource.
func (r *Result) ResourceValue(id string) (decimal.Decimal, bool) {
	v, ok := r.Values[id]
	return v, ok
}

// EventValue returns the value computed for an event.
func (r *Result) EventValue(id string) (decimal.Decimal, bool) {
	v, ok := r.EventValues[id]
	return v, ok
}

// Derived reports whether the event's value was computed rather than read.
func (r *Result) Derived(eventID string) bool {
	return r.derived[eventID]
}
