/*
Package rollup computes the value per unit of resources by summing the value
of everything that went into them.

# Algorithm

For a resource the engine gathers, in date order:

  - contribution receipts, valued by the value equation's matching bucket
    rule or else by their recorded value
  - purchases, valued by the ExchangeValuer or else by recorded value/price
  - production (out) events, valued at their process's value per unit

A process is valued by its inputs: work at its recorded value or quantity
times the resource type's unit value, use at its price or the resource's
value per unit of use, consume at quantity times the consumed resource's
rolled-up value, and cite last, as a percentage of the other inputs. The
process value per unit is the input total over the total produced.

The resource value is the quantity-weighted average of its sources, rounded
half-up to cents for intermediate resources and rounded up for the resource
the caller asked about.

# Cycles and caching

Each call builds a fresh flow.Traversal. Processes are expanded at most once
per call; a process reached again while it is still being valued contributes
nothing. Values computed during the walk are returned in a Result and are
written back only by Commit.

# Usage

	engine := rollup.New(store, rollup.WithLogger(logger))
	res, err := engine.RollUp(ctx, "bread", ve)
	if err != nil {
	    return err
	}
	if err := engine.Commit(ctx, store, res); err != nil {
	    return err
	}
*/
package rollup
