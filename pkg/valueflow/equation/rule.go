package equation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/expr"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// Matches reports whether the rule selects e: the relationship must equal
// EventType and, when the filter lists types, the event's process type and
// resource type must be among them. Missing processes or resources do not
// match.
func (r *BucketRule) Matches(ctx context.Context, reader flow.Reader, e *flow.Event) (bool, error) {
	if e.Relationship != r.EventType {
		return false, nil
	}
	if len(r.Filter.ProcessTypeIDs) > 0 {
		if e.ProcessID == "" {
			return false, nil
		}
		proc, err := reader.Process(ctx, e.ProcessID)
		if err != nil {
			return false, ignoreNotFound(err)
		}
		if !slices.Contains(r.Filter.ProcessTypeIDs, proc.ProcessTypeID) {
			return false, nil
		}
	}
	if len(r.Filter.ResourceTypeIDs) > 0 {
		typeID, err := resourceTypeOf(ctx, reader, e)
		if err != nil {
			return false, err
		}
		if !slices.Contains(r.Filter.ResourceTypeIDs, typeID) {
			return false, nil
		}
	}
	return true, nil
}

// ClaimValue computes the value of a claim created from e, whose whole value
// is value. Without a claim creation equation the claim is worth value.
// A division by zero inside the equation yields zero.
func (r *BucketRule) ClaimValue(ctx context.Context, reader flow.Reader, e *flow.Event, value decimal.Decimal) (decimal.Decimal, error) {
	if r.ClaimCreationEquation == "" {
		return flow.Quantize(flow.NonNegative(value)), nil
	}
	compiled, err := compile(r.ClaimCreationEquation)
	if err != nil {
		return decimal.Zero, &vferrors.ConfigurationError{Subject: "bucket rule " + r.ID, Message: "invalid claim creation equation", Err: err}
	}

	vars, err := variables(ctx, reader, e, value)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := compiled.Eval(vars)
	if err != nil {
		if errors.Is(err, vferrors.ErrDivisionByZero) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("bucket rule %s: %w", r.ID, err)
	}
	return flow.Quantize(flow.NonNegative(v)), nil
}

// compiledEquations caches compiled claim creation equations by source text.
var compiledEquations sync.Map

func compile(src string) (*expr.Expression, error) {
	if e, ok := compiledEquations.Load(src); ok {
		return e.(*expr.Expression), nil
	}
	e, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}
	actual, _ := compiledEquations.LoadOrStore(src, e)
	return actual.(*expr.Expression), nil
}

// variables binds the claim creation equation variables for e.
func variables(ctx context.Context, reader flow.Reader, e *flow.Event, value decimal.Decimal) (expr.Vars, error) {
	vars := expr.Vars{
		expr.Quantity: e.Quantity,
		expr.Value:    value,
	}
	vars[expr.PricePerUnit], _ = flow.SafeDiv(e.Price, e.Quantity)
	vars[expr.ValuePerUnit], _ = flow.SafeDiv(value, e.Quantity)

	var resource *flow.Resource
	if e.ResourceID != "" {
		res, err := reader.Resource(ctx, e.ResourceID)
		if err != nil && !errors.Is(err, vferrors.ErrNotFound) {
			return nil, err
		}
		resource = res
	}
	if resource != nil && !resource.ValuePerUnitOfUse.IsZero() {
		vars[expr.ValuePerUnitOfUse] = resource.ValuePerUnitOfUse
		return vars, nil
	}
	typeID := e.ResourceTypeID
	if typeID == "" && resource != nil {
		typeID = resource.ResourceTypeID
	}
	if typeID != "" {
		rt, err := reader.ResourceType(ctx, typeID)
		switch {
		case err == nil:
			vars[expr.ValuePerUnitOfUse] = rt.ValuePerUnitOfUse
		case !errors.Is(err, vferrors.ErrNotFound):
			return nil, err
		}
	}
	return vars, nil
}

// baseValue is the event's recorded value, else its quantity at the
// resource type's rate.
func baseValue(ctx context.Context, reader flow.Reader, e *flow.Event) (decimal.Decimal, error) {
	if !e.Value.IsZero() || e.ResourceTypeID == "" {
		return e.Value, nil
	}
	rt, err := reader.ResourceType(ctx, e.ResourceTypeID)
	if err != nil {
		return decimal.Zero, ignoreNotFound(err)
	}
	return e.Quantity.Mul(rt.ValuePerUnit), nil
}

func resourceTypeOf(ctx context.Context, reader flow.Reader, e *flow.Event) (string, error) {
	if e.ResourceTypeID != "" {
		return e.ResourceTypeID, nil
	}
	if e.ResourceID == "" {
		return "", nil
	}
	res, err := reader.Resource(ctx, e.ResourceID)
	if err != nil {
		return "", ignoreNotFound(err)
	}
	return res.ResourceTypeID, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, vferrors.ErrNotFound) {
		return nil
	}
	return err
}
