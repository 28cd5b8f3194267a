package equation

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/observability"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/share"
)

// ClaimSource finds existing claims. claim.Store implements it.
type ClaimSource interface {
	// FindClaim returns the claim created from eventID under ruleID, or an
	// error wrapping errors.ErrNotFound.
	FindClaim(ctx context.Context, eventID, ruleID string) (*claim.Claim, error)
}

// Match is a share record selected by a bucket rule.
type Match struct {
	share.Record
	Rule *BucketRule
}

// Candidate is a claim a bucket may pay. Claim is a copy; nothing is
// persisted by the evaluator.
type Candidate struct {
	Claim *claim.Claim
	Rule  *BucketRule
	New   bool
}

// Evaluator turns value equations into distribution plans.
type Evaluator struct {
	shares  *share.Engine
	reader  flow.Reader
	claims  ClaimSource
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClaims sets where existing claims are looked up. Without it every
// claim is new.
func WithClaims(c ClaimSource) Option {
	return func(ev *Evaluator) {
		ev.claims = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ev *Evaluator) {
		if logger != nil {
			ev.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(ev *Evaluator) {
		if m != nil {
			ev.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(ev *Evaluator) {
		if s != nil {
			ev.spans = s
		}
	}
}

// NewEvaluator creates an Evaluator computing shares with shares.
func NewEvaluator(shares *share.Engine, opts ...Option) *Evaluator {
	ev := &Evaluator{
		shares:  shares,
		reader:  shares.Reader(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Run evaluates ve against amount. filters maps bucket IDs to their filter
// payloads.
//
// Buckets run in sequence order. Whatever the buckets cannot place goes to
// the equation's context agent, and rounding drift is applied to the
// largest line, so the plan's lines always sum to amount.
func (ev *Evaluator) Run(ctx context.Context, ve *ValueEquation, amount decimal.Decimal, filters map[string]json.RawMessage) (*Plan, error) {
	if err := ve.Validate(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("distribute %s: %w", amount, vferrors.ErrNonPositiveAmount)
	}
	if !amount.Equal(flow.Quantize(amount)) {
		return nil, vferrors.Configf("amount", "%s has more than %d decimal places", amount, flow.MoneyPlaces)
	}
	for id := range filters {
		if !slices.ContainsFunc(ve.Buckets, func(b *Bucket) bool { return b.ID == id }) {
			return nil, vferrors.Configf("filter "+id, "no such bucket in value equation %s", ve.ID)
		}
	}

	plan := &Plan{
		ValueEquationID: ve.ID,
		ContextAgentID:  ve.ContextAgentID,
		Amount:          amount,
	}
	running := amount
	placed := decimal.Zero
	var payouts []*Payout

	for _, b := range ve.OrderedBuckets() {
		base := amount
		if ve.PercentageBehavior == Remaining {
			base = running
		}
		bucketAmount := flow.Quantize(flow.Percent(base, b.Percentage))

		res, raw, err := ev.runBucket(ctx, ve, b, bucketAmount, filters[b.ID])
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", b.ID, err)
		}
		placed = placed.Add(raw)
		if ve.PercentageBehavior == Remaining {
			running = flow.NonNegative(running.Sub(raw))
		}
		plan.Buckets = append(plan.Buckets, res)
		payouts = append(payouts, res.Payouts...)
	}

	if rest := amount.Sub(placed).Truncate(flow.MoneyPlaces); rest.IsPositive() {
		plan.Remainder = &Payout{AgentID: ve.ContextAgentID, Amount: rest}
		payouts = append(payouts, plan.Remainder)
	}

	plan.Lines = buildLines(payouts)
	if err := plan.reconcile(); err != nil {
		return nil, err
	}
	if !plan.Delta.IsZero() {
		if l := largestLine(plan.Lines); l != nil {
			observability.LogReconciliation(ev.logger, plan.Delta.String(), l.AgentID)
		}
		ev.metrics.RecordReconciliation(ctx, plan.Delta.InexactFloat64())
	}
	return plan, nil
}

// runBucket pays one bucket and returns the unrounded amount it placed.
func (ev *Evaluator) runBucket(ctx context.Context, ve *ValueEquation, b *Bucket, amount decimal.Decimal, raw json.RawMessage) (res *BucketResult, placed decimal.Decimal, err error) {
	ctx, span := ev.spans.StartBucketSpan(ctx, b.ID)
	defer func() { ev.spans.EndSpanWithError(span, err) }()

	res = &BucketResult{BucketID: b.ID, Amount: amount}
	if !amount.IsPositive() {
		return res, decimal.Zero, nil
	}

	if b.DistributionAgentID != "" {
		res.Payouts = []*Payout{{AgentID: b.DistributionAgentID, BucketID: b.ID, Amount: amount}}
		res.Paid = amount
		ev.metrics.RecordBucket(ctx, b.ID, 0, amount.InexactFloat64())
		observability.LogBucket(ev.logger, b.ID, amount.String(), amount.String(), 0)
		return res, amount, nil
	}

	f, err := ParseFilter(b.FilterMethod, raw)
	if err != nil {
		return nil, decimal.Zero, err
	}
	records, err := ev.candidates(ctx, ve, b.FilterMethod, f)
	if err != nil {
		return nil, decimal.Zero, err
	}
	matches, err := b.FilterEvents(ctx, ev.reader, records)
	if err != nil {
		return nil, decimal.Zero, err
	}
	candidates, err := ev.ClaimsFromEvents(ctx, ve, matches)
	if err != nil {
		return nil, decimal.Zero, err
	}
	ev.spans.AddSpanEvent(ctx, "claims.selected",
		attribute.Int("records", len(records)),
		attribute.Int("claims", len(candidates)),
	)

	res.Payouts, placed = divide(b.ID, amount, candidates)
	for _, po := range res.Payouts {
		res.Paid = res.Paid.Add(po.Amount)
	}
	ev.metrics.RecordBucket(ctx, b.ID, len(res.Payouts), res.Paid.InexactFloat64())
	observability.LogBucket(ev.logger, b.ID, amount.String(), res.Paid.String(), len(res.Payouts))
	return res, placed, nil
}

// candidates gathers share records for a filter method.
func (ev *Evaluator) candidates(ctx context.Context, ve *ValueEquation, method FilterMethod, f Filter) ([]share.Record, error) {
	var out []share.Record
	switch method {
	case FilterOrder:
		for _, id := range f.Orders {
			order, err := ev.reader.Order(ctx, id)
			if err != nil {
				return nil, missing("order", id, err)
			}
			for _, item := range order.Items {
				records, err := ev.itemShares(ctx, ve, order.ID, item)
				if err != nil {
					return nil, err
				}
				out = append(out, records...)
			}
		}
	case FilterShipment:
		for _, id := range f.Shipments {
			records, err := ev.shipmentShares(ctx, ve, id)
			if err != nil {
				return nil, err
			}
			out = append(out, records...)
		}
	case FilterProcess:
		for _, id := range f.Processes {
			if _, err := ev.reader.Process(ctx, id); err != nil {
				return nil, missing("process", id, err)
			}
			events, err := ev.reader.ProcessEvents(ctx, id)
			if err != nil {
				return nil, err
			}
			records, err := ev.shares.ProcessShares(ctx, ve, id, flow.Produced(events))
			if err != nil {
				return nil, err
			}
			out = append(out, records...)
		}
	case FilterDates:
		return ev.datedContributions(ctx, ve, f)
	default:
		return nil, vferrors.Configf("filter", "unknown filter method %q", method)
	}
	return out, nil
}

func (ev *Evaluator) itemShares(ctx context.Context, ve *ValueEquation, orderID string, item flow.OrderItem) ([]share.Record, error) {
	if len(item.ShipmentIDs) > 0 {
		var out []share.Record
		for _, id := range item.ShipmentIDs {
			records, err := ev.shipmentShares(ctx, ve, id)
			if err != nil {
				return nil, err
			}
			out = append(out, records...)
		}
		return out, nil
	}
	if item.ProcessID != "" {
		if _, err := ev.reader.Process(ctx, item.ProcessID); err != nil {
			return nil, missing("process", item.ProcessID, err)
		}
		return ev.shares.ProcessShares(ctx, ve, item.ProcessID, item.Quantity)
	}
	ev.logger.Debug("order item has no shipments or process",
		slog.String("order_id", orderID),
		slog.String("item_id", item.ID),
	)
	return nil, nil
}

func (ev *Evaluator) shipmentShares(ctx context.Context, ve *ValueEquation, eventID string) ([]share.Record, error) {
	e, err := ev.reader.Event(ctx, eventID)
	if err != nil {
		return nil, missing("shipment", eventID, err)
	}
	if e.Relationship != flow.Shipment && e.Relationship != flow.Out {
		return nil, vferrors.Configf("shipment "+eventID, "is a %s event", e.Relationship)
	}
	return ev.shares.EventShares(ctx, ve, eventID)
}

// datedContributions selects contributions in the filter's date range made
// in the filter's context, or one nested under it.
func (ev *Evaluator) datedContributions(ctx context.Context, ve *ValueEquation, f Filter) ([]share.Record, error) {
	contextID := f.ContextAgentID
	if contextID == "" {
		contextID = ve.ContextAgentID
	}
	events, err := ev.reader.Events(ctx, flow.EventQuery{
		Start:            f.Start,
		End:              f.End,
		ContributionOnly: true,
	})
	if err != nil {
		return nil, err
	}
	flow.SortEvents(events)

	var out []share.Record
	for _, e := range events {
		ok, err := flow.CompatibleContext(ctx, ev.reader, e.ContextAgentID, contextID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := ev.shares.Value(ctx, ve, e)
		if err != nil {
			return nil, err
		}
		if v.IsPositive() {
			out = append(out, share.Record{Event: e, Value: v, Share: v})
		}
	}
	return out, nil
}

// FilterEvents pairs each record with the first of the bucket's rules that
// matches its event. Records no rule matches are dropped.
func (b *Bucket) FilterEvents(ctx context.Context, r flow.Reader, records []share.Record) ([]Match, error) {
	var out []Match
	for _, rec := range records {
		for _, rule := range b.Rules {
			ok, err := rule.Matches(ctx, r, rec.Event)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, Match{Record: rec, Rule: rule})
				break
			}
		}
	}
	return out, nil
}

// ClaimsFromEvents returns one candidate claim per event and rule. Existing
// claims are reused; repeated references to an event add to its share.
func (ev *Evaluator) ClaimsFromEvents(ctx context.Context, ve *ValueEquation, matches []Match) ([]*Candidate, error) {
	byKey := make(map[string]*Candidate)
	var out []*Candidate
	for _, m := range matches {
		key := m.Event.ID + "\x00" + m.Rule.ID
		if c, ok := byKey[key]; ok {
			c.Claim.Share = c.Claim.Share.Add(m.Share)
			continue
		}
		c, err := ev.claimFor(ctx, ve, m)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		byKey[key] = c
		out = append(out, c)
	}
	return out, nil
}

func (ev *Evaluator) claimFor(ctx context.Context, ve *ValueEquation, m Match) (*Candidate, error) {
	e := m.Event
	if ev.claims != nil {
		existing, err := ev.claims.FindClaim(ctx, e.ID, m.Rule.ID)
		switch {
		case err == nil:
			c := existing.Clone()
			c.Share = m.Share
			return &Candidate{Claim: c, Rule: m.Rule}, nil
		case !errors.Is(err, vferrors.ErrNotFound):
			return nil, err
		}
	}

	if e.Creditor() == "" {
		observability.LogBranchSkipped(ev.logger, "event", e.ID, vferrors.Dangling("event", e.ID, "creditor agent", nil))
		return nil, nil
	}
	value, err := m.Rule.ClaimValue(ctx, ev.reader, e, m.Value)
	if err != nil {
		return nil, err
	}
	c := claim.New(e, m.Rule.ClaimRule(), value, e.Date)
	if c.ContextAgentID == "" {
		c.ContextAgentID = ve.ContextAgentID
	}
	if c.AgainstAgentID == "" {
		c.AgainstAgentID = ve.ContextAgentID
	}
	c.Share = m.Share
	return &Candidate{Claim: c, Rule: m.Rule, New: true}, nil
}

// divide pays candidates from amount. FIFO claims are paid first, oldest
// first; percentage claims share what is left in proportion to their
// shares. Bounded claims are never paid more than their balance. It returns
// the payouts and the unrounded total they represent.
func divide(bucketID string, amount decimal.Decimal, candidates []*Candidate) ([]*Payout, decimal.Decimal) {
	var fifo, proportional []*Candidate
	for _, c := range candidates {
		if !c.Claim.Share.IsPositive() {
			continue
		}
		if c.Claim.RuleType.Bounded() && !c.Claim.Outstanding() {
			continue
		}
		if c.Rule.DivisionRule == FIFO {
			fifo = append(fifo, c)
		} else {
			proportional = append(proportional, c)
		}
	}

	var payouts []*Payout
	placed := decimal.Zero
	remaining := amount
	pay := func(c *Candidate, raw decimal.Decimal) {
		if c.Claim.RuleType.Bounded() {
			raw = decimal.Min(raw, c.Claim.Value)
		}
		paid := flow.Quantize(raw)
		if !paid.IsPositive() {
			return
		}
		placed = placed.Add(raw)
		payouts = append(payouts, &Payout{
			AgentID:  c.Claim.HasAgentID,
			BucketID: bucketID,
			RuleID:   c.Rule.ID,
			Claim:    c.Claim,
			New:      c.New,
			Amount:   paid,
		})
	}

	slices.SortStableFunc(fifo, func(a, b *Candidate) int {
		if c := a.Claim.Date.Compare(b.Claim.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Claim.EventID, b.Claim.EventID)
	})
	for _, c := range fifo {
		if !remaining.IsPositive() {
			break
		}
		due := c.Claim.Share
		if c.Claim.RuleType.Bounded() {
			due = decimal.Min(due, c.Claim.Value)
		}
		raw := decimal.Min(due, remaining)
		remaining = remaining.Sub(raw)
		pay(c, raw)
	}

	total := decimal.Zero
	for _, c := range proportional {
		total = total.Add(c.Claim.Share)
	}
	portion, ok := flow.SafeDiv(remaining, total)
	if ok && portion.IsPositive() {
		portion = decimal.Min(portion, decimal.NewFromInt(1))
		for _, c := range proportional {
			pay(c, c.Claim.Share.Mul(portion))
		}
	}
	return payouts, placed
}

func missing(kind, id string, err error) error {
	if errors.Is(err, vferrors.ErrNotFound) {
		return &vferrors.ConfigurationError{Subject: "filter", Message: fmt.Sprintf("%s %s does not exist", kind, id), Err: err}
	}
	return err
}
