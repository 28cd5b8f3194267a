package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// Ledger errors.
var (
	// ErrOverdrawn indicates a "-" event larger than the claim's balance.
	ErrOverdrawn = errors.New("claim overdrawn")

	// ErrUnbalanced indicates a claim whose value disagrees with its events.
	ErrUnbalanced = errors.New("claim value does not match its events")
)

// Ledger creates and updates claims through a Store.
type Ledger struct {
	store  Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock sets the time source for claim event dates.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithIDGenerator sets the ID generator. Defaults to random UUIDs.
func WithIDGenerator(newID func() string) LedgerOption {
	return func(l *Ledger) {
		l.newID = newID
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates a Ledger over s.
func NewLedger(s Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  s,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New builds an unsaved claim for a contribution event. The creditor is
// the event's provider; the debtor is its receiver, else its context.
func New(e *flow.Event, rule Rule, value decimal.Decimal, date time.Time) *Claim {
	against := e.ToAgentID
	if against == "" {
		against = e.ContextAgentID
	}
	return &Claim{
		EventID:        e.ID,
		HasAgentID:     e.Creditor(),
		AgainstAgentID: against,
		ContextAgentID: e.ContextAgentID,
		Date:           date,
		Value:          value,
		OriginalValue:  value,
		RuleID:         rule.ID,
		RuleType:       rule.Type,
	}
}

// CreateClaim creates and persists a claim for e with its "+" event.
func (l *Ledger) CreateClaim(ctx context.Context, e *flow.Event, rule Rule, value decimal.Decimal) (*Claim, error) {
	c := New(e, rule, value, l.now())
	if err := l.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Insert persists an unsaved claim built with New, recording its value as
// the creating "+" event.
func (l *Ledger) Insert(ctx context.Context, c *Claim) error {
	if !c.RuleType.Valid() {
		return vferrors.Configf("claim rule "+c.RuleID, "unknown rule type %q", c.RuleType)
	}
	if c.Value.IsNegative() {
		return fmt.Errorf("claim for event %s: %w", c.EventID, vferrors.ErrNegativeQuantity)
	}
	if c.HasAgentID == "" {
		return vferrors.Dangling("event", c.EventID, "creditor agent", nil)
	}
	if c.ID == "" {
		c.ID = l.newID()
	}
	c.OriginalValue = c.Value
	if err := l.store.SaveClaim(ctx, c); err != nil {
		return fmt.Errorf("save claim: %w", err)
	}
	ce := &ClaimEvent{
		ID:      l.newID(),
		ClaimID: c.ID,
		EventID: c.EventID,
		Date:    c.Date,
		Value:   c.Value,
		Effect:  Increase,
	}
	if err := l.store.SaveClaimEvent(ctx, ce); err != nil {
		return fmt.Errorf("save claim event: %w", err)
	}
	l.logger.Debug("claim created",
		slog.String("claim_id", c.ID),
		slog.String("event_id", c.EventID),
		slog.String("value", c.Value.String()),
	)
	return nil
}

// ApplyClaimEvent changes the claim's balance by value and persists the
// audit event. A "-" larger than the balance returns ErrOverdrawn. c is
// updated only when both writes succeed.
func (l *Ledger) ApplyClaimEvent(ctx context.Context, c *Claim, value decimal.Decimal, effect Effect, eventID string) (*ClaimEvent, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("claim %s: %w", c.ID, vferrors.ErrNegativeQuantity)
	}
	updated := c.Clone()
	switch effect {
	case Increase:
		updated.Value = c.Value.Add(value)
	case Decrease:
		if value.GreaterThan(c.Value) {
			return nil, fmt.Errorf("claim %s: pay %s of %s: %w", c.ID, value, c.Value, ErrOverdrawn)
		}
		updated.Value = c.Value.Sub(value)
	default:
		return nil, vferrors.Configf("claim "+c.ID, "unknown effect %q", effect)
	}

	ce := &ClaimEvent{
		ID:      l.newID(),
		ClaimID: c.ID,
		EventID: eventID,
		Date:    l.now(),
		Value:   value,
		Effect:  effect,
	}
	if err := l.store.SaveClaim(ctx, updated); err != nil {
		return nil, fmt.Errorf("save claim: %w", err)
	}
	if err := l.store.SaveClaimEvent(ctx, ce); err != nil {
		return nil, fmt.Errorf("save claim event: %w", err)
	}
	c.Value = updated.Value
	return ce, nil
}

// ApplyPayout records a distribution payment against the claim according to
// its rule type and returns the claim event, or nil when the balance is
// unchanged.
//
//   - debt-like: reduced by min(paid, balance)
//   - once: reduced to zero
//   - equity-like: unchanged
func (l *Ledger) ApplyPayout(ctx context.Context, c *Claim, paid decimal.Decimal, eventID string) (*ClaimEvent, error) {
	if paid.IsNegative() {
		return nil, fmt.Errorf("payout on claim %s: %w", c.ID, vferrors.ErrNegativeQuantity)
	}
	var reduce decimal.Decimal
	switch c.RuleType {
	case DebtLike:
		reduce = decimal.Min(paid, c.Value)
	case Once:
		reduce = c.Value
	case EquityLike:
		return nil, nil
	default:
		return nil, vferrors.Configf("claim "+c.ID, "unknown rule type %q", c.RuleType)
	}
	if !reduce.IsPositive() {
		return nil, nil
	}
	return l.ApplyClaimEvent(ctx, c, reduce, Decrease, eventID)
}

// OutstandingClaimsFor returns the agent's claims with a positive balance,
// oldest first.
func (l *Ledger) OutstandingClaimsFor(ctx context.Context, agentID string) ([]*Claim, error) {
	all, err := l.store.ClaimsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]*Claim, 0, len(all))
	for _, c := range all {
		if c.Outstanding() {
			out = append(out, c)
		}
	}
	SortByAge(out)
	return out, nil
}

// Verify recomputes the claim's balance from its events.
func (l *Ledger) Verify(ctx context.Context, c *Claim) error {
	events, err := l.store.ClaimEvents(ctx, c.ID)
	if err != nil {
		return err
	}
	balance := decimal.Zero
	for _, ce := range events {
		switch ce.Effect {
		case Increase:
			balance = balance.Add(ce.Value)
		case Decrease:
			balance = balance.Sub(ce.Value)
		}
	}
	if !balance.Equal(c.Value) || balance.IsNegative() {
		return fmt.Errorf("claim %s: value %s, events %s: %w", c.ID, c.Value, balance, ErrUnbalanced)
	}
	return nil
}

// SortByAge orders claims by date, then ID.
func SortByAge(claims []*Claim) {
	slices.SortStableFunc(claims, func(a, b *Claim) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
