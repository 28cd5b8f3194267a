// Package distribution runs value equations against income and saves the
// result.
//
// A run plans the distribution with the equation package, resolves a rail
// account for every receiving agent and then, inside one store
// transaction, records a disbursement event from the payment account, one
// distribution event per agent, the claim updates and the Distribution
// record itself. If anything fails nothing is saved.
//
// Runs for the same context agent and value equation are serialized.
package distribution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// Distribution is the saved record of one run.
type Distribution struct {
	ID              string          `json:"id"`
	ContextAgentID  string          `json:"context_agent_id"`
	ValueEquationID string          `json:"value_equation_id"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	// ValueEquationContent is the equation as it was when the run happened.
	ValueEquationContent json.RawMessage `json:"value_equation_content"`
	DisbursementEventID  string          `json:"disbursement_event_id"`
	DistributionEventIDs []string        `json:"distribution_event_ids"`
	IncomeEventIDs       []string        `json:"income_event_ids,omitempty"`
	Transfers            []TxRef         `json:"transfers,omitempty"`
}

// Tx is the write scope of a run. Claims read through a Tx see the run's
// own writes.
type Tx interface {
	claim.Store
	SaveEvent(ctx context.Context, e *flow.Event) error
	SaveDistribution(ctx context.Context, d *Distribution) error
}

// Store runs fn in a transaction. Writes made through the Tx are kept only
// if fn returns nil.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
}
