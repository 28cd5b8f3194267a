package equation

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/expr"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// PercentageBehavior selects what bucket percentages apply to.
type PercentageBehavior string

const (
	// Straight buckets take a percentage of the whole amount.
	Straight PercentageBehavior = "straight"
	// Remaining buckets take a percentage of what earlier buckets left.
	Remaining PercentageBehavior = "remaining"
)

// FilterMethod selects how a bucket gathers candidate events.
type FilterMethod string

const (
	FilterOrder    FilterMethod = "order"
	FilterShipment FilterMethod = "shipment"
	FilterProcess  FilterMethod = "process"
	FilterDates    FilterMethod = "dates"
)

// Valid reports whether m is a known filter method.
func (m FilterMethod) Valid() bool {
	switch m {
	case FilterOrder, FilterShipment, FilterProcess, FilterDates:
		return true
	default:
		return false
	}
}

// DivisionRule selects how a bucket divides its amount between claims.
type DivisionRule string

const (
	// Percentage claims share the bucket in proportion to their shares.
	Percentage DivisionRule = "percentage"
	// FIFO claims are paid in full, oldest first, until the bucket runs out.
	FIFO DivisionRule = "fifo"
)

var hundred = decimal.NewFromInt(100)

// FilterRule narrows a bucket rule to events of some process or resource
// types. Empty lists match everything.
type FilterRule struct {
	ProcessTypeIDs  []string `json:"process_type_ids,omitempty"`
	ResourceTypeIDs []string `json:"resource_type_ids,omitempty"`
}

// BucketRule selects events of one relationship for a bucket and says how
// the claims they create behave.
type BucketRule struct {
	ID            string            `json:"id"`
	EventType     flow.Relationship `json:"event_type"`
	Filter        FilterRule        `json:"filter"`
	DivisionRule  DivisionRule      `json:"division_rule"`
	ClaimRuleType claim.RuleType    `json:"claim_rule_type"`
	// ClaimCreationEquation computes a new claim's value. Empty means the
	// event's value.
	ClaimCreationEquation string `json:"claim_creation_equation,omitempty"`
}

// ClaimRule returns the rule identity recorded on claims.
func (r *BucketRule) ClaimRule() claim.Rule {
	return claim.Rule{ID: r.ID, Type: r.ClaimRuleType}
}

// Bucket is one slice of a distribution.
type Bucket struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Sequence   int             `json:"sequence"`
	Percentage decimal.Decimal `json:"percentage"`
	// DistributionAgentID, when set, receives the whole bucket without
	// filtering.
	DistributionAgentID string        `json:"distribution_agent_id,omitempty"`
	FilterMethod        FilterMethod  `json:"filter_method,omitempty"`
	Rules               []*BucketRule `json:"rules,omitempty"`
}

// ValueEquation is a context agent's policy for distributing income.
type ValueEquation struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	ContextAgentID     string             `json:"context_agent_id"`
	PercentageBehavior PercentageBehavior `json:"percentage_behavior"`
	// Live equations may be used for real distributions; others only
	// for previews.
	Live    bool      `json:"live"`
	Buckets []*Bucket `json:"buckets"`
}

// ContextAgent returns the agent whose income the equation distributes.
func (ve *ValueEquation) ContextAgent() string {
	if ve == nil {
		return ""
	}
	return ve.ContextAgentID
}

// OrderedBuckets returns the buckets by sequence, then ID.
func (ve *ValueEquation) OrderedBuckets() []*Bucket {
	buckets := slices.Clone(ve.Buckets)
	slices.SortStableFunc(buckets, func(a, b *Bucket) int {
		if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return buckets
}

// Validate checks the equation, including the syntax of its claim creation
// equations. It does not modify ve. Every problem is reported as a ConfigurationError.
func (ve *ValueEquation) Validate() error {
	if ve == nil {
		return vferrors.Configf("value equation", "missing")
	}
	subject := "value equation " + ve.ID
	if ve.ID == "" {
		return vferrors.Configf("value equation", "missing id")
	}
	if ve.ContextAgentID == "" {
		return vferrors.Configf(subject, "missing context agent")
	}
	switch ve.PercentageBehavior {
	case Straight, Remaining:
	default:
		return vferrors.Configf(subject, "unknown percentage behavior %q", ve.PercentageBehavior)
	}
	if len(ve.Buckets) == 0 {
		return vferrors.Configf(subject, "no buckets")
	}

	total := decimal.Zero
	bucketIDs := make(map[string]bool)
	ruleIDs := make(map[string]bool)
	for _, b := range ve.Buckets {
		if b.ID == "" {
			return vferrors.Configf(subject, "bucket without id")
		}
		if bucketIDs[b.ID] {
			return vferrors.Configf(subject, "duplicate bucket %s", b.ID)
		}
		bucketIDs[b.ID] = true
		if err := b.validate(ruleIDs); err != nil {
			return err
		}
		total = total.Add(b.Percentage)
	}
	if ve.PercentageBehavior == Straight && total.GreaterThan(hundred) {
		return vferrors.Configf(subject, "bucket percentages add up to %s", total)
	}
	return nil
}

func (b *Bucket) validate(ruleIDs map[string]bool) error {
	subject := "bucket " + b.ID
	if b.Percentage.IsNegative() || b.Percentage.GreaterThan(hundred) {
		return vferrors.Configf(subject, "percentage %s out of range", b.Percentage)
	}
	if b.DistributionAgentID != "" {
		return nil
	}
	if !b.FilterMethod.Valid() {
		return vferrors.Configf(subject, "unknown filter method %q", b.FilterMethod)
	}
	if len(b.Rules) == 0 {
		return vferrors.Configf(subject, "no rules and no distribution agent")
	}
	for _, r := range b.Rules {
		if r.ID == "" {
			return vferrors.Configf(subject, "rule without id")
		}
		if ruleIDs[r.ID] {
			return vferrors.Configf(subject, "duplicate rule %s", r.ID)
		}
		ruleIDs[r.ID] = true
		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *BucketRule) validate() error {
	subject := "bucket rule " + r.ID
	if !r.EventType.Valid() {
		return vferrors.Configf(subject, "invalid event type %d", int(r.EventType))
	}
	switch r.DivisionRule {
	case Percentage, FIFO:
	default:
		return vferrors.Configf(subject, "unknown division rule %q", r.DivisionRule)
	}
	if !r.ClaimRuleType.Valid() {
		return vferrors.Configf(subject, "unknown claim rule type %q", r.ClaimRuleType)
	}
	if r.ClaimCreationEquation == "" {
		return nil
	}
	if err := expr.Validate(r.ClaimCreationEquation); err != nil {
		return &vferrors.ConfigurationError{Subject: subject, Message: "invalid claim creation equation", Err: err}
	}
	return nil
}

// Rule returns the bucket rule with the given ID.
func (ve *ValueEquation) Rule(id string) (*BucketRule, bool) {
	for _, b := range ve.Buckets {
		for _, r := range b.Rules {
			if r.ID == id {
				return r, true
			}
		}
	}
	return nil, false
}

// RuleValue values a contribution event with the first rule, in bucket
// order, that matches it and has a claim creation equation. It implements
// rollup.RuleValuer.
func (ve *ValueEquation) RuleValue(ctx context.Context, r flow.Reader, e *flow.Event) (decimal.Decimal, bool, error) {
	if ve == nil || !e.IsContribution {
		return decimal.Zero, false, nil
	}
	for _, b := range ve.OrderedBuckets() {
		for _, rule := range b.Rules {
			if rule.ClaimCreationEquation == "" {
				continue
			}
			ok, err := rule.Matches(ctx, r, e)
			if err != nil {
				return decimal.Zero, false, err
			}
			if !ok {
				continue
			}
			base, err := baseValue(ctx, r, e)
			if err != nil {
				return decimal.Zero, false, err
			}
			v, err := rule.ClaimValue(ctx, r, e, base)
			if err != nil {
				return decimal.Zero, false, err
			}
			return v, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// Snapshot returns the equation as JSON, as stored on distribution records.
func (ve *ValueEquation) Snapshot() ([]byte, error) {
	data, err := json.Marshal(ve)
	if err != nil {
		return nil, fmt.Errorf("snapshot value equation %s: %w", ve.ID, err)
	}
	return data, nil
}
