// Package claim keeps the ledger of standing claims contributors hold
// against a context agent.
//
// A claim is created from a contribution event with one "+" ClaimEvent and
// paid down by "-" ClaimEvents. Its Value is always the sum of "+" events
// minus the sum of "-" events and is never negative. How a payout affects
// the balance depends on the claim's RuleType.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType selects how payouts reduce a claim.
type RuleType string

const (
	// DebtLike claims are reduced by each payout until paid off.
	DebtLike RuleType = "debt-like"
	// EquityLike claims are never reduced; they share in every distribution.
	EquityLike RuleType = "equity-like"
	// Once claims are zeroed by their first payout.
	Once RuleType = "once"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case DebtLike, EquityLike, Once:
		return true
	default:
		return false
	}
}

// Bounded reports whether payouts are limited by the outstanding balance.
func (t RuleType) Bounded() bool {
	return t == DebtLike || t == Once
}

// ParseRuleType converts a tag such as "debt-like" into a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	t := RuleType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown claim rule type %q", s)
	}
	return t, nil
}

// Effect is the direction of a ClaimEvent.
type Effect string

const (
	Increase Effect = "+"
	Decrease Effect = "-"
)

// Rule identifies the bucket rule a claim was created under.
type Rule struct {
	ID   string
	Type RuleType
}

// Claim is a standing balance HasAgentID holds against AgainstAgentID.
type Claim struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	HasAgentID     string          `json:"has_agent_id"`
	AgainstAgentID string          `json:"against_agent_id"`
	ContextAgentID string          `json:"context_agent_id"`
	Date           time.Time       `json:"date"`
	Value          decimal.Decimal `json:"value"`
	OriginalValue  decimal.Decimal `json:"original_value"`
	RuleID         string          `json:"rule_id"`
	RuleType       RuleType        `json:"rule_type"`

	// Share is this claim's weight in the distribution being planned. It
	// is not persisted.
	Share decimal.Decimal `json:"-"`
}

// Outstanding reports whether the claim still has a balance.
func (c *Claim) Outstanding() bool {
	return c.Value.IsPositive()
}

// Clone returns a copy of c.
func (c *Claim) Clone() *Claim {
	cp := *c
	return &cp
}

// ClaimEvent is an audit record of a change to a claim's balance. EventID
// is the economic event that caused it: the contribution for "+", the
// distribution event for "-".
type ClaimEvent struct {
	ID      string          `json:"id"`
	ClaimID string          `json:"claim_id"`
	EventID string          `json:"event_id,omitempty"`
	Date    time.Time       `json:"date"`
	Value   decimal.Decimal `json:"value"`
	Effect  Effect          `json:"effect"`
}

// Store persists claims and claim events. Lookups of missing claims return
// an error wrapping errors.ErrNotFound.
type Store interface {
	Claim(ctx context.Context, id string) (*Claim, error)
	// FindClaim returns the claim created from eventID under ruleID.
	FindClaim(ctx context.Context, eventID, ruleID string) (*Claim, error)
	ClaimsByAgent(ctx context.Context, agentID string) ([]*Claim, error)
	ClaimEvents(ctx context.Context, claimID string) ([]*ClaimEvent, error)
	SaveClaim(ctx context.Context, c *Claim) error
	SaveClaimEvent(ctx context.Context, ce *ClaimEvent) error
}
