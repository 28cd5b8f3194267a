// Package share attributes a quantity being distributed back to the
// contribution events that produced it.
//
// Starting from a delivered resource, a process or a single event, the
// engine walks the flow graph backwards. A resource's sources are taken in
// date order until the requested quantity is covered; a process scales its
// inputs by the fraction of its output being distributed. Work is credited
// to its contributor when recorded in a context compatible with the value
// equation. Used, consumed and cited resources are followed further back.
//
// Each credited event is returned as a Record whose Share is the value
// attributable to it. Shares are weights: the equation package turns them
// into claims and payouts.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/rollup"
)

// Record is one event's share of a distributed quantity. Value is the
// event's whole value as rolled up; Share is the part of it attributed to
// the quantity being distributed.
type Record struct {
	Event *flow.Event
	Value decimal.Decimal
	Share decimal.Decimal
}

// Equation is the part of a value equation the share engine needs.
// *equation.ValueEquation implements it.
type Equation interface {
	rollup.RuleValuer
	// ContextAgent returns the agent whose income is being distributed.
	ContextAgent() string
}

// Engine computes income shares. It is safe for concurrent use if the
// underlying reader is.
type Engine struct {
	rollup *rollup.Engine
	reader flow.Reader
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine valuing events with r.
func New(r *rollup.Engine, opts ...Option) *Engine {
	e := &Engine{
		rollup: r,
		reader: r.Reader(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reader returns the graph reader shares are computed over.
func (e *Engine) Reader() flow.Reader {
	return e.reader
}

// Value returns the event's value as a roll-up computes it.
func (e *Engine) Value(ctx context.Context, eq Equation, ev *flow.Event) (decimal.Decimal, error) {
	if eq == nil {
		return decimal.Zero, vferrors.Configf("income shares", "no value equation")
	}
	values, err := e.valuesFor(ctx, eq, ev)
	if err != nil {
		return decimal.Zero, err
	}
	v, ok := values.EventValue(ev.ID)
	if !ok {
		v = ev.Value
	}
	return v, nil
}

// ResourceShares attributes quantity units of a resource.
func (e *Engine) ResourceShares(ctx context.Context, eq Equation, resourceID string, quantity decimal.Decimal) ([]Record, error) {
	if err := checkArgs(eq, quantity); err != nil {
		return nil, err
	}
	values, err := e.rollup.RollUp(ctx, resourceID, eq)
	if err != nil {
		return nil, err
	}
	w := e.newWalker(ctx, eq, values)
	if err := w.resource(resourceID, quantity); err != nil {
		return nil, err
	}
	return w.out, nil
}

// ProcessShares attributes quantity units of a process's output.
func (e *Engine) ProcessShares(ctx context.Context, eq Equation, processID string, quantity decimal.Decimal) ([]Record, error) {
	if err := checkArgs(eq, quantity); err != nil {
		return nil, err
	}
	values, err := e.rollup.RollUpProcess(ctx, processID, eq)
	if err != nil {
		return nil, err
	}
	w := e.newWalker(ctx, eq, values)
	if err := w.process(processID, quantity); err != nil {
		return nil, err
	}
	return w.out, nil
}

// UseShares attributes fraction of a use event's value to the contributors
// of the used resource.
func (e *Engine) UseShares(ctx context.Context, eq Equation, useEventID string, fraction decimal.Decimal) ([]Record, error) {
	if err := checkArgs(eq, fraction); err != nil {
		return nil, err
	}
	ev, err := e.reader.Event(ctx, useEventID)
	if err != nil {
		return nil, err
	}
	if ev.Relationship != flow.Use {
		return nil, vferrors.Configf("event "+ev.ID, "use shares requested for %s event", ev.Relationship)
	}
	values, err := e.valuesFor(ctx, eq, ev)
	if err != nil {
		return nil, err
	}
	w := e.newWalker(ctx, eq, values)
	if err := w.use(ev, decimal.Min(fraction, decimal.NewFromInt(1))); err != nil {
		return nil, err
	}
	return w.out, nil
}

// EventShares attributes the quantity of a single event: a shipment or
// output is followed back through its resource or process, a contribution
// is credited directly.
func (e *Engine) EventShares(ctx context.Context, eq Equation, eventID string) ([]Record, error) {
	if eq == nil {
		return nil, vferrors.Configf("income shares", "no value equation")
	}
	ev, err := e.reader.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Quantity.IsNegative() {
		return nil, fmt.Errorf("event %s: %w", ev.ID, vferrors.ErrNegativeQuantity)
	}

	switch ev.Relationship {
	case flow.Shipment, flow.Consume:
		if ev.ResourceID == "" {
			return nil, vferrors.Dangling("event", ev.ID, "resource", nil)
		}
		return e.ResourceShares(ctx, eq, ev.ResourceID, ev.Quantity)
	case flow.Out:
		if ev.ProcessID == "" {
			return nil, vferrors.Dangling("event", ev.ID, "process", nil)
		}
		return e.ProcessShares(ctx, eq, ev.ProcessID, ev.Quantity)
	case flow.Work, flow.Receive, flow.Use, flow.Cite:
		values, err := e.valuesFor(ctx, eq, ev)
		if err != nil {
			return nil, err
		}
		w := e.newWalker(ctx, eq, values)
		switch ev.Relationship {
		case flow.Work:
			err = w.work(ev, "", decimal.NewFromInt(1))
		case flow.Receive:
			if ev.IsContribution {
				w.credit(ev, w.eventValue(ev))
			}
		case flow.Use:
			err = w.use(ev, decimal.NewFromInt(1))
		case flow.Cite:
			err = w.cite(ev, decimal.NewFromInt(1))
		}
		if err != nil {
			return nil, err
		}
		return w.out, nil
	case flow.Distribute, flow.Disburse, flow.Payment, flow.Cash:
		return nil, vferrors.Configf("event "+ev.ID, "income shares cannot be computed for %s events", ev.Relationship)
	default:
		return nil, vferrors.Configf("event "+ev.ID, "unsupported relationship %s", ev.Relationship)
	}
}

// valuesFor values an event in the context of its process when it has one.
func (e *Engine) valuesFor(ctx context.Context, eq Equation, ev *flow.Event) (*rollup.Result, error) {
	if ev.ProcessID != "" && ev.Relationship.IsInput() {
		res, err := e.rollup.RollUpProcess(ctx, ev.ProcessID, eq)
		if err != nil {
			return nil, err
		}
		if _, ok := res.EventValue(ev.ID); ok {
			return res, nil
		}
	}
	return e.rollup.RollUpEvent(ctx, ev, eq)
}

func (e *Engine) newWalker(ctx context.Context, eq Equation, values *rollup.Result) *walker {
	return &walker{
		engine: e,
		ctx:    ctx,
		tr:     flow.NewTraversal(ctx, e.logger),
		eq:     eq,
		values: values,
	}
}

func checkArgs(eq Equation, quantity decimal.Decimal) error {
	if eq == nil {
		return vferrors.Configf("income shares", "no value equation")
	}
	if quantity.IsNegative() {
		return fmt.Errorf("income shares for %s: %w", quantity, vferrors.ErrNegativeQuantity)
	}
	return nil
}

// Total sums the shares of records.
func Total(records []Record) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Share)
	}
	return total
}

// ByEvent sums shares per event ID.
func ByEvent(records []Record) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range records {
		out[r.Event.ID] = out[r.Event.ID].Add(r.Share)
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, vferrors.ErrNotFound)
}
