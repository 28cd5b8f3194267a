package rollup

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/observability"
)

// ExchangeValuer values purchases by rolling up the exchange they came from.
type ExchangeValuer interface {
	// ExchangeValue returns the value of the exchange attributable to the
	// receipt event. An error wrapping errors.ErrNotFound falls back to the
	// receipt's recorded value.
	ExchangeValue(ctx context.Context, exchangeID string, receipt *flow.Event) (decimal.Decimal, error)
}

// RuleValuer values contribution events by the rules of a value equation.
// *equation.ValueEquation implements it.
type RuleValuer interface {
	// RuleValue returns the value the first matching rule assigns to e.
	// ok is false when no rule matches.
	RuleValue(ctx context.Context, r flow.Reader, e *flow.Event) (value decimal.Decimal, ok bool, err error)
}

// Writer persists committed roll-up results.
type Writer interface {
	SetResourceValue(ctx context.Context, resourceID string, valuePerUnit decimal.Decimal) error
	SetEventValue(ctx context.Context, eventID string, value decimal.Decimal) error
}

// Engine computes value roll-ups. It holds no per-call state and is safe for
// concurrent use if its Reader is.
type Engine struct {
	reader    flow.Reader
	exchanges ExchangeValuer
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// Option configures an Engine.
type Option func(*Engine)

// WithExchangeValuer sets the collaborator used to value purchases.
func WithExchangeValuer(v ExchangeValuer) Option {
	return func(e *Engine) {
		e.exchanges = v
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(e *Engine) {
		if s != nil {
			e.spans = s
		}
	}
}

// New creates an Engine reading the graph through r.
func New(r flow.Reader, opts ...Option) *Engine {
	e := &Engine{
		reader:  r,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reader returns the graph reader the engine was built with.
func (e *Engine) Reader() flow.Reader {
	return e.reader
}

// RollUp computes the value per unit of a resource. rules may be nil, in
// which case contributions are valued at their recorded value.
func (e *Engine) RollUp(ctx context.Context, resourceID string, rules RuleValuer) (*Result, error) {
	ctx, span := e.spans.StartRollUpSpan(ctx, resourceID)
	start := time.Now()

	w := e.newWalker(ctx, rules)
	vpu, err := w.resourceValue(resourceID, true)
	if err != nil {
		e.spans.EndSpanWithError(span, err)
		return nil, err
	}

	res := w.finish(start)
	res.ResourceID = resourceID
	res.ValuePerUnit = vpu
	e.spans.EndSpanWithError(span, nil)
	observability.LogRollUp(e.logger, resourceID, vpu.String(), res.ProcessesVisited)
	return res, nil
}

// RollUpProcess computes the value per unit of a process's output.
func (e *Engine) RollUpProcess(ctx context.Context, processID string, rules RuleValuer) (*Result, error) {
	ctx, span := e.spans.StartRollUpSpan(ctx, processID)
	start := time.Now()

	w := e.newWalker(ctx, rules)
	vpu, _, err := w.processValue(processID)
	if err != nil {
		e.spans.EndSpanWithError(span, err)
		return nil, err
	}

	res := w.finish(start)
	res.ProcessID = processID
	res.ValuePerUnit = flow.QuantizeUp(vpu)
	e.spans.EndSpanWithError(span, nil)
	observability.LogRollUp(e.logger, processID, res.ValuePerUnit.String(), res.ProcessesVisited)
	return res, nil
}

// RollUpEvent values a single event as a traversal would. Citations have no
// process to take a percentage of here and keep their recorded value.
func (e *Engine) RollUpEvent(ctx context.Context, ev *flow.Event, rules RuleValuer) (*Result, error) {
	start := time.Now()
	w := e.newWalker(ctx, rules)
	if err := checkEvent(ev); err != nil {
		return nil, err
	}

	var value decimal.Decimal
	var err error
	switch ev.Relationship {
	case flow.Work:
		value, err = w.workValue(ev)
	case flow.Use:
		value, err = w.useValue(ev)
	case flow.Consume:
		value, err = w.consumeValue(ev)
	case flow.Receive:
		if ev.IsContribution {
			value, err = w.contributionValue(ev)
		} else {
			value, err = w.purchaseValue(ev)
		}
	case flow.Cite, flow.Out, flow.Shipment, flow.Distribute, flow.Disburse, flow.Payment, flow.Cash:
		value = flow.Quantize(ev.Value)
		w.setEventValue(ev, value, false)
	default:
		err = vferrors.Configf("event "+ev.ID, "unsupported relationship %s", ev.Relationship)
	}
	if err != nil {
		return nil, err
	}

	res := w.finish(start)
	res.EventID = ev.ID
	vpu, _ := flow.SafeDiv(value, ev.Quantity)
	res.ValuePerUnit = flow.QuantizeUp(vpu)
	return res, nil
}

// Commit writes the resource values and the derived event values of res.
// Values taken from the events themselves are not written back.
func (e *Engine) Commit(ctx context.Context, w Writer, res *Result) error {
	resourceIDs := sortedKeys(res.Values)
	for _, id := range resourceIDs {
		if err := w.SetResourceValue(ctx, id, res.Values[id]); err != nil {
			return err
		}
	}
	eventIDs := sortedKeys(res.derived)
	for _, id := range eventIDs {
		if err := w.SetEventValue(ctx, id, res.EventValues[id]); err != nil {
			return err
		}
	}
	e.logger.Debug("roll-up committed",
		slog.Int("resources", len(resourceIDs)),
		slog.Int("events", len(eventIDs)),
	)
	return nil
}

func (e *Engine) newWalker(ctx context.Context, rules RuleValuer) *walker {
	return &walker{
		engine:     e,
		ctx:        ctx,
		tr:         flow.NewTraversal(ctx, e.logger),
		rules:      rules,
		res:        newResult(),
		inProgress: make(map[string]bool),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
