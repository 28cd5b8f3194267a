package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// walker holds the state of one roll-up call.
type walker struct {
	engine     *Engine
	ctx        context.Context
	tr         *flow.Traversal
	rules      RuleValuer
	res        *Result
	inProgress map[string]bool
}

// weighted accumulates Σ(vpu·qty) and Σqty.
type weighted struct {
	value    decimal.Decimal
	quantity decimal.Decimal
}

func (a *weighted) add(value, quantity decimal.Decimal) {
	a.value = a.value.Add(value)
	a.quantity = a.quantity.Add(quantity)
}

func (w *walker) finish(start time.Time) *Result {
	w.res.ProcessesVisited = w.tr.VisitedCount()
	w.res.Skipped = w.tr.Skipped()
	w.engine.metrics.RecordRollUp(w.ctx, time.Since(start), w.res.ProcessesVisited)
	return w.res
}

// skip records a dangling reference; the branch contributes zero.
func (w *walker) skip(kind, id, ref string, cause error) {
	w.tr.Skip(kind, id, vferrors.Dangling(kind, id, ref, cause))
}

func (w *walker) setEventValue(e *flow.Event, value decimal.Decimal, derived bool) {
	w.res.EventValues[e.ID] = value
	if derived {
		w.res.derived[e.ID] = true
	}
}

func checkEvent(e *flow.Event) error {
	if e.Quantity.IsNegative() || e.Value.IsNegative() || e.Price.IsNegative() {
		return fmt.Errorf("event %s: %w", e.ID, vferrors.ErrNegativeQuantity)
	}
	return nil
}

// resourceValue returns the value per unit of a resource. top selects
// round-up for the resource the caller asked about.
func (w *walker) resourceValue(id string, top bool) (decimal.Decimal, error) {
	if v, ok := w.res.Values[id]; ok && !top {
		return v, nil
	}
	if err := w.tr.Enter("resource", id); err != nil {
		return decimal.Zero, err
	}

	r := w.engine.reader
	resource, err := r.Resource(w.ctx, id)
	if err != nil {
		if errors.Is(err, vferrors.ErrNotFound) {
			w.skip("resource", id, "resource", err)
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	events, err := r.ResourceEvents(w.ctx, id, flow.Receive, flow.Out)
	if err != nil {
		return decimal.Zero, err
	}
	flow.SortEvents(events)

	cycle := w.inProgress[id]
	w.inProgress[id] = true
	defer func() {
		if !cycle {
			delete(w.inProgress, id)
		}
	}()

	var acc weighted
	for _, e := range events {
		if err := checkEvent(e); err != nil {
			return decimal.Zero, err
		}
		if e.Quantity.IsZero() {
			continue
		}
		switch e.Relationship {
		case flow.Receive:
			var value decimal.Decimal
			if e.IsContribution {
				value, err = w.contributionValue(e)
			} else {
				value, err = w.purchaseValue(e)
			}
			if err != nil {
				return decimal.Zero, err
			}
			acc.add(value, e.Quantity)
		case flow.Out:
			if e.ProcessID == "" {
				w.skip("event", e.ID, "process", nil)
				continue
			}
			vpu, ok, err := w.processValue(e.ProcessID)
			if err != nil {
				return decimal.Zero, err
			}
			if !ok {
				continue
			}
			acc.add(vpu.Mul(e.Quantity), e.Quantity)
		}
	}

	vpu, ok := flow.SafeDiv(acc.value, acc.quantity)
	if !ok && len(events) == 0 {
		// Nothing produced or received it; the recorded value is all there is.
		vpu = resource.ValuePerUnit
	}
	vpu = flow.NonNegative(vpu)
	if top {
		vpu = flow.QuantizeUp(vpu)
	} else {
		vpu = flow.Quantize(vpu)
	}
	if !cycle {
		w.res.Values[id] = vpu
	}
	return vpu, nil
}

// processValue returns the unrounded value per unit of a process's output.
// ok is false when the process is part of a cycle already being valued,
// is missing, or produced nothing.
func (w *walker) processValue(id string) (decimal.Decimal, bool, error) {
	if v, done := w.res.ProcessValues[id]; done {
		return v, true, nil
	}
	if !w.tr.Visit(id) {
		return decimal.Zero, false, nil
	}
	if err := w.tr.Enter("process", id); err != nil {
		return decimal.Zero, false, err
	}

	r := w.engine.reader
	if _, err := r.Process(w.ctx, id); err != nil {
		if errors.Is(err, vferrors.ErrNotFound) {
			w.skip("process", id, "process", err)
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}

	events, err := r.ProcessEvents(w.ctx, id)
	if err != nil {
		return decimal.Zero, false, err
	}
	flow.SortEvents(events)

	inputs := decimal.Zero
	var cites []*flow.Event
	for _, e := range events {
		if err := checkEvent(e); err != nil {
			return decimal.Zero, false, err
		}
		var value decimal.Decimal
		switch e.Relationship {
		case flow.Work:
			value, err = w.workValue(e)
		case flow.Use:
			value, err = w.useValue(e)
		case flow.Consume:
			value, err = w.consumeValue(e)
		case flow.Cite:
			cites = append(cites, e)
			continue
		case flow.Out, flow.Receive, flow.Shipment, flow.Distribute, flow.Disburse, flow.Payment, flow.Cash:
			continue
		default:
			return decimal.Zero, false, vferrors.Configf("event "+e.ID, "unsupported relationship %s", e.Relationship)
		}
		if err != nil {
			return decimal.Zero, false, err
		}
		inputs = inputs.Add(value)
	}

	others := inputs
	for _, e := range cites {
		value, err := w.citeValue(e, others)
		if err != nil {
			return decimal.Zero, false, err
		}
		inputs = inputs.Add(value)
	}

	vpu, ok := flow.SafeDiv(inputs, flow.Produced(events))
	if !ok {
		w.engine.logger.Debug("process produced nothing", "process_id", id)
		w.res.ProcessValues[id] = decimal.Zero
		return decimal.Zero, false, nil
	}
	w.res.ProcessValues[id] = vpu
	w.engine.spans.AddSpanEvent(w.ctx, "process.valued",
		attribute.String("process.id", id),
		attribute.String("value_per_unit", vpu.String()),
	)
	return vpu, true, nil
}

// contributionValue values a direct contribution by rule, else as recorded.
func (w *walker) contributionValue(e *flow.Event) (decimal.Decimal, error) {
	if v, ok, err := w.ruleValue(e); err != nil || ok {
		return v, err
	}
	value := flow.Quantize(e.Value)
	w.setEventValue(e, value, false)
	return value, nil
}

// purchaseValue values a purchase from its exchange, else as recorded.
func (w *walker) purchaseValue(e *flow.Event) (decimal.Decimal, error) {
	if w.engine.exchanges != nil && e.ExchangeID != "" {
		v, err := w.engine.exchanges.ExchangeValue(w.ctx, e.ExchangeID, e)
		switch {
		case err == nil:
			value := flow.Quantize(flow.NonNegative(v))
			w.setEventValue(e, value, true)
			return value, nil
		case errors.Is(err, vferrors.ErrNotFound):
			w.skip("event", e.ID, "exchange", err)
		default:
			return decimal.Zero, err
		}
	}
	value := e.Value
	if value.IsZero() {
		value = e.Price
	}
	value = flow.Quantize(value)
	w.setEventValue(e, value, false)
	return value, nil
}

// ruleValue applies the value equation to a contribution.
func (w *walker) ruleValue(e *flow.Event) (decimal.Decimal, bool, error) {
	if w.rules == nil || !e.IsContribution {
		return decimal.Zero, false, nil
	}
	v, ok, err := w.rules.RuleValue(w.ctx, w.engine.reader, e)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	value := flow.Quantize(flow.NonNegative(v))
	w.setEventValue(e, value, false)
	return value, true, nil
}

func (w *walker) workValue(e *flow.Event) (decimal.Decimal, error) {
	if v, ok, err := w.ruleValue(e); err != nil || ok {
		return v, err
	}
	if !e.Value.IsZero() {
		value := flow.Quantize(e.Value)
		w.setEventValue(e, value, false)
		return value, nil
	}
	// Rate-based work values are not committed, so a changed rate is
	// picked up by the next roll-up.
	rt, err := w.resourceType(e, e.ResourceTypeID)
	if err != nil || rt == nil {
		w.setEventValue(e, decimal.Zero, false)
		return decimal.Zero, err
	}
	value := flow.Quantize(e.Quantity.Mul(rt.ValuePerUnit))
	w.setEventValue(e, value, false)
	return value, nil
}

func (w *walker) useValue(e *flow.Event) (decimal.Decimal, error) {
	if e.ResourceID != "" {
		// Valued so income shares can attribute the used resource.
		if _, err := w.resourceValue(e.ResourceID, false); err != nil {
			return decimal.Zero, err
		}
	}
	if !e.Price.IsZero() {
		value := flow.Quantize(e.Price)
		w.setEventValue(e, value, true)
		return value, nil
	}

	rate := decimal.Zero
	typeID := e.ResourceTypeID
	if e.ResourceID != "" {
		resource, err := w.engine.reader.Resource(w.ctx, e.ResourceID)
		switch {
		case err == nil:
			rate = resource.ValuePerUnitOfUse
			typeID = resource.ResourceTypeID
		case errors.Is(err, vferrors.ErrNotFound):
			w.skip("event", e.ID, "resource", err)
		default:
			return decimal.Zero, err
		}
	}
	if rate.IsZero() {
		rt, err := w.resourceType(e, typeID)
		if err != nil {
			return decimal.Zero, err
		}
		if rt != nil {
			rate = rt.ValuePerUnitOfUse
		}
	}
	value := flow.Quantize(e.Quantity.Mul(rate))
	w.setEventValue(e, value, true)
	return value, nil
}

func (w *walker) consumeValue(e *flow.Event) (decimal.Decimal, error) {
	if e.ResourceID == "" {
		w.skip("event", e.ID, "resource", nil)
		w.setEventValue(e, decimal.Zero, true)
		return decimal.Zero, nil
	}
	vpu, err := w.resourceValue(e.ResourceID, false)
	if err != nil {
		return decimal.Zero, err
	}
	value := flow.Quantize(e.Quantity.Mul(vpu))
	w.setEventValue(e, value, true)
	return value, nil
}

// citeValue values a citation as a percentage of the process's other inputs.
func (w *walker) citeValue(e *flow.Event, others decimal.Decimal) (decimal.Decimal, error) {
	typeID := e.ResourceTypeID
	if e.ResourceID != "" {
		if _, err := w.resourceValue(e.ResourceID, false); err != nil {
			return decimal.Zero, err
		}
		resource, err := w.engine.reader.Resource(w.ctx, e.ResourceID)
		switch {
		case err == nil:
			typeID = resource.ResourceTypeID
		case errors.Is(err, vferrors.ErrNotFound):
		default:
			return decimal.Zero, err
		}
	}
	rt, err := w.resourceType(e, typeID)
	if err != nil || rt == nil {
		w.setEventValue(e, decimal.Zero, true)
		return decimal.Zero, err
	}
	value := flow.Quantize(flow.Percent(others, rt.CitationPercentage))
	w.setEventValue(e, value, true)
	return value, nil
}

// resourceType looks up a resource type. A missing type is skipped and
// returns nil; an empty ID returns nil silently.
func (w *walker) resourceType(e *flow.Event, id string) (*flow.ResourceType, error) {
	if id == "" {
		return nil, nil
	}
	rt, err := w.engine.reader.ResourceType(w.ctx, id)
	if err != nil {
		if errors.Is(err, vferrors.ErrNotFound) {
			w.skip("event", e.ID, "resource type", err)
			return nil, nil
		}
		return nil, err
	}
	return rt, nil
}
