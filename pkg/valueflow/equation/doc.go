// Package equation defines value equations and evaluates them into
// distribution plans.
//
// A ValueEquation splits an amount of income between ordered Buckets. Each
// bucket takes a percentage of the amount (straight) or of what earlier
// buckets left (remaining), selects contribution events through its filter
// method, narrows them with its BucketRules and pays the resulting claims.
//
// Basic usage:
//
//	ve, err := equation.LoadFile("coop.yaml")
//	if err != nil {
//	    return err
//	}
//	ev := equation.NewEvaluator(shares, equation.WithClaims(store))
//	plan, err := ev.Run(ctx, ve, decimal.RequireFromString("100"), filters)
//
// A Plan is not persisted; the distribution package saves it.
package equation
