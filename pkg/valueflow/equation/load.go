package equation

import (
	"fmt"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/config"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// LoadFile reads a value equation from a .yaml, .yml or .json file.
func LoadFile(path string) (*ValueEquation, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg)
}

// LoadYAML parses a value equation document.
func LoadYAML(data []byte) (*ValueEquation, error) {
	cfg, err := config.FromYAML(data)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg)
}

// LoadJSON parses a value equation document.
func LoadJSON(data []byte) (*ValueEquation, error) {
	cfg, err := config.FromJSON(data)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg)
}

// FromConfig builds and validates a value equation from a parsed document:
//
//	id: coop-sales
//	context_agent: coop
//	percentage_behavior: straight
//	live: true
//	buckets:
//	  - id: contributors
//	    sequence: 1
//	    percentage: "60"
//	    filter_method: shipment
//	    rules:
//	      - id: work
//	        event_type: work
//	        claim_rule_type: debt-like
//	        claim_creation_equation: value * 1.5
//
// Percentages should be strings so they are read exactly.
func FromConfig(cfg config.Config) (*ValueEquation, error) {
	ve := &ValueEquation{
		ID:                 cfg.String("id", ""),
		Name:               cfg.String("name", ""),
		ContextAgentID:     cfg.String("context_agent", ""),
		PercentageBehavior: PercentageBehavior(cfg.String("percentage_behavior", string(Straight))),
		Live:               cfg.Bool("live", false),
	}

	buckets, ok := cfg.Sections("buckets")
	if !ok {
		return nil, vferrors.Configf("value equation "+ve.ID, "buckets must be a list of maps")
	}
	for i, bc := range buckets {
		b, err := bucketFromConfig(bc, i)
		if err != nil {
			return nil, err
		}
		ve.Buckets = append(ve.Buckets, b)
	}

	if err := ve.Validate(); err != nil {
		return nil, err
	}
	return ve, nil
}

func bucketFromConfig(cfg config.Config, index int) (*Bucket, error) {
	b := &Bucket{
		ID:                  cfg.String("id", ""),
		Name:                cfg.String("name", ""),
		Sequence:            cfg.Int("sequence", index+1),
		DistributionAgentID: cfg.String("distribution_agent", ""),
		FilterMethod:        FilterMethod(cfg.String("filter_method", "")),
	}
	subject := fmt.Sprintf("bucket %d", index)
	if b.ID != "" {
		subject = "bucket " + b.ID
	}
	pct, ok := cfg.RequireDecimal("percentage")
	if !ok {
		return nil, vferrors.Configf(subject, "missing or invalid percentage")
	}
	b.Percentage = pct

	rules, ok := cfg.Sections("rules")
	if !ok {
		return nil, vferrors.Configf(subject, "rules must be a list of maps")
	}
	for _, rc := range rules {
		r, err := ruleFromConfig(rc)
		if err != nil {
			return nil, err
		}
		b.Rules = append(b.Rules, r)
	}
	return b, nil
}

func ruleFromConfig(cfg config.Config) (*BucketRule, error) {
	r := &BucketRule{
		ID: cfg.String("id", ""),
		Filter: FilterRule{
			ProcessTypeIDs:  cfg.StringSlice("process_types", nil),
			ResourceTypeIDs: cfg.StringSlice("resource_types", nil),
		},
		DivisionRule:          DivisionRule(cfg.String("division_rule", string(Percentage))),
		ClaimCreationEquation: cfg.String("claim_creation_equation", ""),
	}
	subject := "bucket rule " + r.ID

	rel, err := flow.ParseRelationship(cfg.String("event_type", ""))
	if err != nil {
		return nil, &vferrors.ConfigurationError{Subject: subject, Message: "invalid event type", Err: err}
	}
	r.EventType = rel

	rt, err := claim.ParseRuleType(cfg.String("claim_rule_type", string(claim.DebtLike)))
	if err != nil {
		return nil, &vferrors.ConfigurationError{Subject: subject, Message: "invalid claim rule type", Err: err}
	}
	r.ClaimRuleType = rt
	return r, nil
}
