// Package store provides storage for the flow graph, the claim ledger and
// saved distributions.
//
// Two implementations are available:
//   - MemoryStore: in-memory, for tests and previews
//   - SQLiteStore: SQLite-backed, for single-process production use
//
// Both implement flow.Reader, rollup.Writer, claim.Store and
// distribution.Store. Lookups of missing entities return an error wrapping
// errors.ErrNotFound.
package store

import (
	"errors"
	"slices"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/distribution"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/rollup"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("store closed")

// Graph is a batch of flow graph entities to load into a store.
type Graph struct {
	Agents        []*flow.Agent        `json:"agents,omitempty"`
	ResourceTypes []*flow.ResourceType `json:"resource_types,omitempty"`
	ProcessTypes  []*flow.ProcessType  `json:"process_types,omitempty"`
	Resources     []*flow.Resource     `json:"resources,omitempty"`
	Processes     []*flow.Process      `json:"processes,omitempty"`
	Events        []*flow.Event        `json:"events,omitempty"`
	Orders        []*flow.Order        `json:"orders,omitempty"`
}

var (
	_ flow.Reader        = (*MemoryStore)(nil)
	_ rollup.Writer      = (*MemoryStore)(nil)
	_ claim.Store        = (*MemoryStore)(nil)
	_ distribution.Store = (*MemoryStore)(nil)

	_ flow.Reader        = (*SQLiteStore)(nil)
	_ rollup.Writer      = (*SQLiteStore)(nil)
	_ claim.Store        = (*SQLiteStore)(nil)
	_ distribution.Store = (*SQLiteStore)(nil)
)

func claimKey(eventID, ruleID string) string {
	return eventID + "\x00" + ruleID
}

func cloneAgent(a *flow.Agent) *flow.Agent {
	cp := *a
	cp.ParentIDs = slices.Clone(a.ParentIDs)
	return &cp
}

func cloneResource(r *flow.Resource) *flow.Resource {
	cp := *r
	cp.OwnerIDs = slices.Clone(r.OwnerIDs)
	return &cp
}

func cloneOrder(o *flow.Order) *flow.Order {
	cp := *o
	cp.Items = make([]flow.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.ShipmentIDs = slices.Clone(it.ShipmentIDs)
		cp.Items[i] = it
	}
	return &cp
}

func cloneEvent(e *flow.Event) *flow.Event {
	cp := *e
	return &cp
}

func cloneClaimEvent(ce *claim.ClaimEvent) *claim.ClaimEvent {
	cp := *ce
	return &cp
}

func cloneDistribution(d *distribution.Distribution) *distribution.Distribution {
	cp := *d
	cp.ValueEquationContent = slices.Clone(d.ValueEquationContent)
	cp.DistributionEventIDs = slices.Clone(d.DistributionEventIDs)
	cp.IncomeEventIDs = slices.Clone(d.IncomeEventIDs)
	cp.Transfers = slices.Clone(d.Transfers)
	return &cp
}

func copyOf[T any](v *T) *T {
	cp := *v
	return &cp
}
