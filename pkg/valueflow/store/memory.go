package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/distribution"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// MemoryStore is an in-memory store for testing and previews.
// Data is lost when the process exits. Values are copied on the way in and
// out, so callers may modify what they pass or receive.
type MemoryStore struct {
	mu     sync.RWMutex
	data   *memData
	closed bool
}

type memData struct {
	agents        map[string]*flow.Agent
	resourceTypes map[string]*flow.ResourceType
	processTypes  map[string]*flow.ProcessType
	resources     map[string]*flow.Resource
	processes     map[string]*flow.Process
	orders        map[string]*flow.Order
	events        map[string]*flow.Event
	byResource    map[string]map[string]struct{} // resourceID -> eventIDs
	byProcess     map[string]map[string]struct{} // processID -> eventIDs

	claims        map[string]*claim.Claim
	claimKeys     map[string]string              // eventID+ruleID -> claimID
	claimEvents   map[string][]*claim.ClaimEvent // claimID -> events in save order
	distributions map[string]*distribution.Distribution
}

func newMemData() *memData {
	return &memData{
		agents:        make(map[string]*flow.Agent),
		resourceTypes: make(map[string]*flow.ResourceType),
		processTypes:  make(map[string]*flow.ProcessType),
		resources:     make(map[string]*flow.Resource),
		processes:     make(map[string]*flow.Process),
		orders:        make(map[string]*flow.Order),
		events:        make(map[string]*flow.Event),
		byResource:    make(map[string]map[string]struct{}),
		byProcess:     make(map[string]map[string]struct{}),
		claims:        make(map[string]*claim.Claim),
		claimKeys:     make(map[string]string),
		claimEvents:   make(map[string][]*claim.ClaimEvent),
		distributions: make(map[string]*distribution.Distribution),
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

// Seed loads every entity of g, replacing entities with the same IDs.
// References between entities are not checked.
func (m *MemoryStore) Seed(_ context.Context, g Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for _, a := range g.Agents {
		m.data.agents[a.ID] = cloneAgent(a)
	}
	for _, rt := range g.ResourceTypes {
		m.data.resourceTypes[rt.ID] = copyOf(rt)
	}
	for _, pt := range g.ProcessTypes {
		m.data.processTypes[pt.ID] = copyOf(pt)
	}
	for _, r := range g.Resources {
		m.data.resources[r.ID] = cloneResource(r)
	}
	for _, p := range g.Processes {
		m.data.processes[p.ID] = copyOf(p)
	}
	for _, o := range g.Orders {
		m.data.orders[o.ID] = cloneOrder(o)
	}
	for _, e := range g.Events {
		m.data.putEvent(e)
	}
	return nil
}

// PutAgent stores an agent.
func (m *MemoryStore) PutAgent(_ context.Context, a *flow.Agent) error {
	return m.write(func(d *memData) { d.agents[a.ID] = cloneAgent(a) })
}

// PutResourceType stores a resource type.
func (m *MemoryStore) PutResourceType(_ context.Context, rt *flow.ResourceType) error {
	return m.write(func(d *memData) { d.resourceTypes[rt.ID] = copyOf(rt) })
}

// PutProcessType stores a process type.
func (m *MemoryStore) PutProcessType(_ context.Context, pt *flow.ProcessType) error {
	return m.write(func(d *memData) { d.processTypes[pt.ID] = copyOf(pt) })
}

// PutResource stores a resource.
func (m *MemoryStore) PutResource(_ context.Context, r *flow.Resource) error {
	return m.write(func(d *memData) { d.resources[r.ID] = cloneResource(r) })
}

// PutProcess stores a process.
func (m *MemoryStore) PutProcess(_ context.Context, p *flow.Process) error {
	return m.write(func(d *memData) { d.processes[p.ID] = copyOf(p) })
}

// PutOrder stores an order.
func (m *MemoryStore) PutOrder(_ context.Context, o *flow.Order) error {
	return m.write(func(d *memData) { d.orders[o.ID] = cloneOrder(o) })
}

// SaveEvent stores an event.
func (m *MemoryStore) SaveEvent(_ context.Context, e *flow.Event) error {
	return m.write(func(d *memData) { d.putEvent(e) })
}

func (m *MemoryStore) write(fn func(d *memData)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	fn(m.data)
	return nil
}

func (m *MemoryStore) read(fn func(d *memData) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrStoreClosed
	}
	return fn(m.data)
}

func (d *memData) putEvent(e *flow.Event) {
	if old, ok := d.events[e.ID]; ok {
		unindex(d.byResource, old.ResourceID, old.ID)
		unindex(d.byProcess, old.ProcessID, old.ID)
	}
	d.events[e.ID] = cloneEvent(e)
	index(d.byResource, e.ResourceID, e.ID)
	index(d.byProcess, e.ProcessID, e.ID)
}

func index(idx map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][id] = struct{}{}
}

func unindex(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

func (d *memData) putClaim(c *claim.Claim) {
	cp := c.Clone()
	cp.Share = decimal.Decimal{}
	d.claims[c.ID] = cp
	d.claimKeys[claimKey(c.EventID, c.RuleID)] = c.ID
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, vferrors.ErrNotFound)
}

func lookup[T any](m map[string]*T, kind, id string, clone func(*T) *T) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, notFound(kind, id)
	}
	return clone(v), nil
}

// Agent implements flow.Reader.
func (m *MemoryStore) Agent(_ context.Context, id string) (a *flow.Agent, err error) {
	err = m.read(func(d *memData) error {
		a, err = lookup(d.agents, "agent", id, cloneAgent)
		return err
	})
	return a, err
}

// ResourceType implements flow.Reader.
func (m *MemoryStore) ResourceType(_ context.Context, id string) (rt *flow.ResourceType, err error) {
	err = m.read(func(d *memData) error {
		rt, err = lookup(d.resourceTypes, "resource type", id, copyOf[flow.ResourceType])
		return err
	})
	return rt, err
}

// ProcessType implements flow.Reader.
func (m *MemoryStore) ProcessType(_ context.Context, id string) (pt *flow.ProcessType, err error) {
	err = m.read(func(d *memData) error {
		pt, err = lookup(d.processTypes, "process type", id, copyOf[flow.ProcessType])
		return err
	})
	return pt, err
}

// Resource implements flow.Reader.
func (m *MemoryStore) Resource(_ context.Context, id string) (r *flow.Resource, err error) {
	err = m.read(func(d *memData) error {
		r, err = lookup(d.resources, "resource", id, cloneResource)
		return err
	})
	return r, err
}

// Process implements flow.Reader.
func (m *MemoryStore) Process(_ context.Context, id string) (p *flow.Process, err error) {
	err = m.read(func(d *memData) error {
		p, err = lookup(d.processes, "process", id, copyOf[flow.Process])
		return err
	})
	return p, err
}

// Event implements flow.Reader.
func (m *MemoryStore) Event(_ context.Context, id string) (e *flow.Event, err error) {
	err = m.read(func(d *memData) error {
		e, err = lookup(d.events, "event", id, cloneEvent)
		return err
	})
	return e, err
}

// Order implements flow.Reader.
func (m *MemoryStore) Order(_ context.Context, id string) (o *flow.Order, err error) {
	err = m.read(func(d *memData) error {
		o, err = lookup(d.orders, "order", id, cloneOrder)
		return err
	})
	return o, err
}

// ResourceEvents implements flow.Reader.
func (m *MemoryStore) ResourceEvents(ctx context.Context, resourceID string, rels ...flow.Relationship) ([]*flow.Event, error) {
	var out []*flow.Event
	err := m.read(func(d *memData) error {
		out = d.indexed(d.byResource[resourceID], flow.EventQuery{Relationships: rels})
		return nil
	})
	return out, err
}

// ProcessEvents implements flow.Reader.
func (m *MemoryStore) ProcessEvents(ctx context.Context, processID string) ([]*flow.Event, error) {
	var out []*flow.Event
	err := m.read(func(d *memData) error {
		out = d.indexed(d.byProcess[processID], flow.EventQuery{})
		return nil
	})
	return out, err
}

// Events implements flow.Reader.
func (m *MemoryStore) Events(ctx context.Context, q flow.EventQuery) ([]*flow.Event, error) {
	var out []*flow.Event
	err := m.read(func(d *memData) error {
		for _, e := range d.events {
			if q.Matches(e) {
				out = append(out, cloneEvent(e))
			}
		}
		return nil
	})
	flow.SortEvents(out)
	return out, err
}

func (d *memData) indexed(ids map[string]struct{}, q flow.EventQuery) []*flow.Event {
	out := make([]*flow.Event, 0, len(ids))
	for id := range ids {
		if e := d.events[id]; q.Matches(e) {
			out = append(out, cloneEvent(e))
		}
	}
	flow.SortEvents(out)
	return out
}

// SetResourceValue implements rollup.Writer.
func (m *MemoryStore) SetResourceValue(_ context.Context, resourceID string, valuePerUnit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	r, ok := m.data.resources[resourceID]
	if !ok {
		return notFound("resource", resourceID)
	}
	r.ValuePerUnit = valuePerUnit
	return nil
}

// SetEventValue implements rollup.Writer.
func (m *MemoryStore) SetEventValue(_ context.Context, eventID string, value decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	e, ok := m.data.events[eventID]
	if !ok {
		return notFound("event", eventID)
	}
	e.Value = value
	return nil
}

// Claim implements claim.Store.
func (m *MemoryStore) Claim(_ context.Context, id string) (c *claim.Claim, err error) {
	err = m.read(func(d *memData) error {
		c, err = lookup(d.claims, "claim", id, (*claim.Claim).Clone)
		return err
	})
	return c, err
}

// FindClaim implements claim.Store.
func (m *MemoryStore) FindClaim(_ context.Context, eventID, ruleID string) (c *claim.Claim, err error) {
	err = m.read(func(d *memData) error {
		id, ok := d.claimKeys[claimKey(eventID, ruleID)]
		if !ok {
			return notFound("claim for event", eventID+" rule "+ruleID)
		}
		c = d.claims[id].Clone()
		return nil
	})
	return c, err
}

// ClaimsByAgent implements claim.Store. Claims are ordered by date, then ID.
func (m *MemoryStore) ClaimsByAgent(_ context.Context, agentID string) ([]*claim.Claim, error) {
	var out []*claim.Claim
	err := m.read(func(d *memData) error {
		for _, c := range d.claims {
			if c.HasAgentID == agentID {
				out = append(out, c.Clone())
			}
		}
		return nil
	})
	claim.SortByAge(out)
	return out, err
}

// ClaimEvents implements claim.Store. Events are returned in save order.
func (m *MemoryStore) ClaimEvents(_ context.Context, claimID string) ([]*claim.ClaimEvent, error) {
	var out []*claim.ClaimEvent
	err := m.read(func(d *memData) error {
		for _, ce := range d.claimEvents[claimID] {
			out = append(out, cloneClaimEvent(ce))
		}
		return nil
	})
	return out, err
}

// SaveClaim implements claim.Store.
func (m *MemoryStore) SaveClaim(_ context.Context, c *claim.Claim) error {
	return m.write(func(d *memData) { d.putClaim(c) })
}

// SaveClaimEvent implements claim.Store.
func (m *MemoryStore) SaveClaimEvent(_ context.Context, ce *claim.ClaimEvent) error {
	return m.write(func(d *memData) {
		d.claimEvents[ce.ClaimID] = append(d.claimEvents[ce.ClaimID], cloneClaimEvent(ce))
	})
}

// Distribution returns a saved distribution.
func (m *MemoryStore) Distribution(_ context.Context, id string) (dist *distribution.Distribution, err error) {
	err = m.read(func(d *memData) error {
		dist, err = lookup(d.distributions, "distribution", id, cloneDistribution)
		return err
	})
	return dist, err
}

// Distributions returns the distributions of a context agent, oldest first.
func (m *MemoryStore) Distributions(_ context.Context, contextAgentID string) ([]*distribution.Distribution, error) {
	var out []*distribution.Distribution
	err := m.read(func(d *memData) error {
		for _, dist := range d.distributions {
			if dist.ContextAgentID == contextAgentID {
				out = append(out, cloneDistribution(dist))
			}
		}
		return nil
	})
	sortDistributions(out)
	return out, err
}

func sortDistributions(ds []*distribution.Distribution) {
	slices.SortFunc(ds, func(a, b *distribution.Distribution) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Update implements distribution.Store. Writes made through tx are buffered
// and applied together when fn returns nil. The store is not locked while
// fn runs; callers serialize conflicting runs.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx distribution.Tx) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	tx := &memTx{store: m, pending: newMemData()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.write(func(d *memData) {
		for _, e := range tx.pending.events {
			d.putEvent(e)
		}
		for _, c := range tx.pending.claims {
			d.putClaim(c)
		}
		for _, id := range tx.claimOrder {
			d.claimEvents[id] = append(d.claimEvents[id], tx.pending.claimEvents[id]...)
		}
		maps.Copy(d.distributions, tx.pending.distributions)
	})
}

// Close implements io.Closer. Closing twice is safe.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = newMemData()
	return nil
}

// memTx overlays pending writes on the store.
type memTx struct {
	store      *MemoryStore
	pending    *memData
	claimOrder []string // claim IDs with pending events, first write first
}

func (t *memTx) SaveEvent(_ context.Context, e *flow.Event) error {
	t.pending.events[e.ID] = cloneEvent(e)
	return nil
}

func (t *memTx) SaveDistribution(_ context.Context, d *distribution.Distribution) error {
	t.pending.distributions[d.ID] = cloneDistribution(d)
	return nil
}

func (t *memTx) SaveClaim(_ context.Context, c *claim.Claim) error {
	t.pending.putClaim(c)
	return nil
}

func (t *memTx) SaveClaimEvent(_ context.Context, ce *claim.ClaimEvent) error {
	if _, ok := t.pending.claimEvents[ce.ClaimID]; !ok {
		t.claimOrder = append(t.claimOrder, ce.ClaimID)
	}
	t.pending.claimEvents[ce.ClaimID] = append(t.pending.claimEvents[ce.ClaimID], cloneClaimEvent(ce))
	return nil
}

func (t *memTx) Claim(ctx context.Context, id string) (*claim.Claim, error) {
	if c, ok := t.pending.claims[id]; ok {
		return c.Clone(), nil
	}
	return t.store.Claim(ctx, id)
}

func (t *memTx) FindClaim(ctx context.Context, eventID, ruleID string) (*claim.Claim, error) {
	if id, ok := t.pending.claimKeys[claimKey(eventID, ruleID)]; ok {
		return t.pending.claims[id].Clone(), nil
	}
	return t.store.FindClaim(ctx, eventID, ruleID)
}

func (t *memTx) ClaimsByAgent(ctx context.Context, agentID string) ([]*claim.Claim, error) {
	saved, err := t.store.ClaimsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]*claim.Claim, 0, len(saved))
	for _, c := range saved {
		if p, ok := t.pending.claims[c.ID]; ok {
			c = p.Clone()
		}
		out = append(out, c)
	}
	for id, p := range t.pending.claims {
		if p.HasAgentID != agentID {
			continue
		}
		if !slices.ContainsFunc(saved, func(c *claim.Claim) bool { return c.ID == id }) {
			out = append(out, p.Clone())
		}
	}
	claim.SortByAge(out)
	return out, nil
}

func (t *memTx) ClaimEvents(ctx context.Context, claimID string) ([]*claim.ClaimEvent, error) {
	out, err := t.store.ClaimEvents(ctx, claimID)
	if err != nil {
		return nil, err
	}
	for _, ce := range t.pending.claimEvents[claimID] {
		out = append(out, cloneClaimEvent(ce))
	}
	return out, nil
}
