package flow

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Reader is the synchronous storage collaborator the engine reads the flow
// graph through. Lookups of missing entities return an error wrapping
// errors.ErrNotFound from the valueflow errors package.
type Reader interface {
	Agent(ctx context.Context, id string) (*Agent, error)
	ResourceType(ctx context.Context, id string) (*ResourceType, error)
	ProcessType(ctx context.Context, id string) (*ProcessType, error)
	Resource(ctx context.Context, id string) (*Resource, error)
	Process(ctx context.Context, id string) (*Process, error)
	Event(ctx context.Context, id string) (*Event, error)
	Order(ctx context.Context, id string) (*Order, error)

	// ResourceEvents returns the events referencing the resource, restricted
	// to the given relationships when any are passed.
	ResourceEvents(ctx context.Context, resourceID string, rels ...Relationship) ([]*Event, error)

	// ProcessEvents returns every event attached to the process, inputs and
	// outputs alike.
	ProcessEvents(ctx context.Context, processID string) ([]*Event, error)

	// Events returns events matching the query.
	Events(ctx context.Context, q EventQuery) ([]*Event, error)
}

// EventQuery selects events by date range, context and relationship.
// Zero values do not filter.
type EventQuery struct {
	ContextAgentID   string
	Start            time.Time
	End              time.Time
	Relationships    []Relationship
	ContributionOnly bool
}

// Matches reports whether the event satisfies the query. End is inclusive.
func (q EventQuery) Matches(e *Event) bool {
	if q.ContextAgentID != "" && e.ContextAgentID != q.ContextAgentID {
		return false
	}
	if !q.Start.IsZero() && e.Date.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Date.After(q.End) {
		return false
	}
	if len(q.Relationships) > 0 && !slices.Contains(q.Relationships, e.Relationship) {
		return false
	}
	if q.ContributionOnly && !e.IsContribution {
		return false
	}
	return true
}

// SortEvents orders events by date, then ID, so traversal results never
// depend on storage iteration order.
func SortEvents(events []*Event) {
	slices.SortStableFunc(events, func(a, b *Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Split partitions events by relationship.
func Split(events []*Event) map[Relationship][]*Event {
	out := make(map[Relationship][]*Event)
	for _, e := range events {
		out[e.Relationship] = append(out[e.Relationship], e)
	}
	return out
}

// Produced sums the quantity of the Out events in events.
func Produced(events []*Event) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		if e.Relationship == Out {
			total = total.Add(e.Quantity)
		}
	}
	return total
}
