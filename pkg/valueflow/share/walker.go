package share

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/rollup"
)

var one = decimal.NewFromInt(1)

// walker holds the state of one share computation.
type walker struct {
	engine *Engine
	ctx    context.Context
	tr     *flow.Traversal
	eq     Equation
	values *rollup.Result
	out    []Record
}

func (w *walker) credit(e *flow.Event, share decimal.Decimal) {
	share = flow.NonNegative(share)
	if share.IsZero() {
		return
	}
	w.out = append(w.out, Record{Event: e, Value: w.eventValue(e), Share: share})
}

// eventValue returns the value the roll-up computed for e, else its
// recorded value.
func (w *walker) eventValue(e *flow.Event) decimal.Decimal {
	if v, ok := w.values.EventValue(e.ID); ok {
		return v
	}
	return e.Value
}

func (w *walker) skip(kind, id, ref string, cause error) {
	w.tr.Skip(kind, id, vferrors.Dangling(kind, id, ref, cause))
}

// resource consumes quantity from the resource's sources in date order.
// Out events of one process are summed so the process is expanded once with
// the whole quantity taken from it.
func (w *walker) resource(id string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return nil
	}
	if err := w.tr.Enter("resource", id); err != nil {
		return err
	}

	events, err := w.engine.reader.ResourceEvents(w.ctx, id, flow.Receive, flow.Out)
	if err != nil {
		return err
	}
	flow.SortEvents(events)

	var processIDs []string
	taken := make(map[string]decimal.Decimal)
	remaining := quantity
	for _, e := range events {
		if !remaining.IsPositive() {
			break
		}
		if !e.Quantity.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, e.Quantity)
		remaining = remaining.Sub(take)

		switch e.Relationship {
		case flow.Receive:
			// Purchases take up quantity but nobody in the context is owed.
			if e.IsContribution {
				w.credit(e, w.eventValue(e).Mul(take).Div(e.Quantity))
			}
		case flow.Out:
			if e.ProcessID == "" {
				w.skip("event", e.ID, "process", nil)
				continue
			}
			if _, ok := taken[e.ProcessID]; !ok {
				processIDs = append(processIDs, e.ProcessID)
			}
			taken[e.ProcessID] = taken[e.ProcessID].Add(take)
		}
	}

	for _, pid := range processIDs {
		if err := w.process(pid, taken[pid]); err != nil {
			return err
		}
	}
	return nil
}

// process scales the process's inputs by the fraction of its output being
// distributed.
func (w *walker) process(id string, quantity decimal.Decimal) error {
	if !w.tr.Visit(id) {
		return nil
	}
	if err := w.tr.Enter("process", id); err != nil {
		return err
	}

	r := w.engine.reader
	proc, err := r.Process(w.ctx, id)
	if err != nil {
		if isNotFound(err) {
			w.skip("process", id, "process", err)
			return nil
		}
		return err
	}
	events, err := r.ProcessEvents(w.ctx, id)
	if err != nil {
		return err
	}
	flow.SortEvents(events)

	fraction, ok := flow.SafeDiv(quantity, flow.Produced(events))
	if !ok {
		return nil
	}
	fraction = decimal.Min(fraction, one)

	for _, e := range events {
		switch e.Relationship {
		case flow.Work:
			err = w.work(e, proc.ContextAgentID, fraction)
		case flow.Use:
			err = w.use(e, fraction)
		case flow.Consume:
			if e.ResourceID == "" {
				w.skip("event", e.ID, "resource", nil)
				continue
			}
			err = w.resource(e.ResourceID, e.Quantity.Mul(fraction))
		case flow.Cite:
			err = w.cite(e, fraction)
		case flow.Out, flow.Receive, flow.Shipment, flow.Distribute, flow.Disburse, flow.Payment, flow.Cash:
			continue
		default:
			return vferrors.Configf("event "+e.ID, "unsupported relationship %s", e.Relationship)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// work credits a work event when its context belongs to the equation's.
func (w *walker) work(e *flow.Event, processContext string, fraction decimal.Decimal) error {
	contextID := e.ContextAgentID
	if contextID == "" {
		contextID = processContext
	}
	ok, err := flow.CompatibleContext(w.ctx, w.engine.reader, contextID, w.eq.ContextAgent())
	if err != nil {
		return err
	}
	if !ok {
		w.engine.logger.Debug("work outside value equation context",
			slog.String("event_id", e.ID),
			slog.String("context_agent", contextID),
		)
		return nil
	}
	w.credit(e, w.eventValue(e).Mul(fraction))
	return nil
}

// use follows the used resource back at the quantity whose value matches
// the share of the use being distributed.
func (w *walker) use(e *flow.Event, fraction decimal.Decimal) error {
	if e.ResourceID == "" {
		w.skip("event", e.ID, "resource", nil)
		return nil
	}
	resource, err := w.engine.reader.Resource(w.ctx, e.ResourceID)
	if err != nil {
		if isNotFound(err) {
			w.skip("event", e.ID, "resource", err)
			return nil
		}
		return err
	}
	vpu, _ := w.values.ResourceValue(resource.ID)
	total := resource.Quantity.Mul(vpu)
	portion, ok := flow.SafeDiv(w.eventValue(e).Mul(fraction), total)
	if !ok {
		return nil
	}
	return w.resource(resource.ID, resource.Quantity.Mul(portion))
}

// cite follows the cited resource back at the quantity its citation value
// represents.
func (w *walker) cite(e *flow.Event, fraction decimal.Decimal) error {
	if e.ResourceID == "" {
		return nil
	}
	vpu, _ := w.values.ResourceValue(e.ResourceID)
	quantity, ok := flow.SafeDiv(w.eventValue(e).Mul(fraction), vpu)
	if !ok {
		return nil
	}
	return w.resource(e.ResourceID, quantity)
}
