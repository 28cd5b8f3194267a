package equation

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
)

// Plan is the outcome of evaluating a value equation against an amount.
// Lines sum to Amount exactly.
type Plan struct {
	ValueEquationID string
	ContextAgentID  string
	Amount          decimal.Decimal
	Buckets         []*BucketResult
	// Lines holds one distribution line per receiving agent, ordered by
	// agent ID.
	Lines []*Line
	// Remainder is the part no bucket could place, paid to the context
	// agent. Nil when everything was placed.
	Remainder *Payout
	// Delta is the rounding drift applied during reconciliation.
	Delta decimal.Decimal
}

// BucketResult records what one bucket was given and what it paid.
type BucketResult struct {
	BucketID string
	Amount   decimal.Decimal
	Paid     decimal.Decimal
	Payouts  []*Payout
}

// Payout is one payment to an agent. Claim is nil for fixed-agent buckets
// and for the unplaced remainder routed to the context agent.
type Payout struct {
	AgentID  string
	BucketID string
	RuleID   string
	Claim    *claim.Claim
	// New marks a claim that does not exist in storage yet.
	New    bool
	Amount decimal.Decimal
}

// Line is everything one agent receives from a distribution.
type Line struct {
	AgentID string
	Amount  decimal.Decimal
	Payouts []*Payout
}

// Total sums the plan's lines.
func (p *Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Line returns the line for agentID.
func (p *Plan) Line(agentID string) (*Line, bool) {
	for _, l := range p.Lines {
		if l.AgentID == agentID {
			return l, true
		}
	}
	return nil, false
}

// Bucket returns the result for bucketID.
func (p *Plan) Bucket(bucketID string) (*BucketResult, bool) {
	for _, b := range p.Buckets {
		if b.BucketID == bucketID {
			return b, true
		}
	}
	return nil, false
}

// Payouts returns every payout in bucket order, then the remainder.
func (p *Plan) Payouts() []*Payout {
	var out []*Payout
	for _, b := range p.Buckets {
		out = append(out, b.Payouts...)
	}
	if p.Remainder != nil {
		out = append(out, p.Remainder)
	}
	return out
}

// buildLines groups payouts by agent.
func buildLines(payouts []*Payout) []*Line {
	byAgent := make(map[string]*Line)
	for _, po := range payouts {
		l, ok := byAgent[po.AgentID]
		if !ok {
			l = &Line{AgentID: po.AgentID}
			byAgent[po.AgentID] = l
		}
		l.Amount = l.Amount.Add(po.Amount)
		l.Payouts = append(l.Payouts, po)
	}
	lines := make([]*Line, 0, len(byAgent))
	for _, l := range byAgent {
		lines = append(lines, l)
	}
	slices.SortFunc(lines, func(a, b *Line) int { return cmp.Compare(a.AgentID, b.AgentID) })
	return lines
}

// reconcile applies amount minus the sum of lines to the largest line and
// its largest payout. Ties go to the lowest agent ID and the first payout.
func (p *Plan) reconcile() error {
	p.Delta = p.Amount.Sub(p.Total())
	if !p.Delta.IsZero() {
		largest := largestLine(p.Lines)
		if largest == nil {
			return &vferrors.ReconciliationError{Expected: p.Amount.StringFixed(2), Distributed: "0.00"}
		}
		largest.Amount = largest.Amount.Add(p.Delta)
		if po := largestPayout(largest.Payouts); po != nil {
			po.Amount = po.Amount.Add(p.Delta)
		}
		if largest.Amount.IsNegative() {
			return &vferrors.ReconciliationError{Expected: p.Amount.StringFixed(2), Distributed: p.Total().StringFixed(2)}
		}
	}

	for _, b := range p.Buckets {
		b.Paid = decimal.Zero
		for _, po := range b.Payouts {
			b.Paid = b.Paid.Add(po.Amount)
		}
	}
	if total := p.Total(); !total.Equal(p.Amount) {
		return &vferrors.ReconciliationError{Expected: p.Amount.StringFixed(2), Distributed: total.StringFixed(2)}
	}
	return nil
}

func largestLine(lines []*Line) *Line {
	var best *Line
	for _, l := range lines {
		if best == nil || l.Amount.GreaterThan(best.Amount) {
			best = l
		}
	}
	return best
}

func largestPayout(payouts []*Payout) *Payout {
	var best *Payout
	for _, po := range payouts {
		if best == nil || po.Amount.GreaterThan(best.Amount) {
			best = po
		}
	}
	return best
}
