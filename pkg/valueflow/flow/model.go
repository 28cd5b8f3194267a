package flow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Agent is a person or organization. Context agents (projects, cooperatives)
// can be nested; ParentIDs lists the contexts this agent belongs to.
type Agent struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ParentIDs []string `json:"parent_ids,omitempty"`
}

// ResourceType describes a kind of resource and its default unit values.
type ResourceType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ValuePerUnit values work and contributions of this type when no value
	// was recorded on the event.
	ValuePerUnit decimal.Decimal `json:"value_per_unit"`
	// ValuePerUnitOfUse values use events when the used resource has none.
	ValuePerUnitOfUse decimal.Decimal `json:"value_per_unit_of_use"`
	// CitationPercentage is the share of a process's other inputs credited
	// to a resource of this type when it is cited.
	CitationPercentage decimal.Decimal `json:"citation_percentage"`
}

// ProcessType classifies processes for bucket rule filtering.
type ProcessType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resource is a quantity of a resource type. ValuePerUnit is a cache
// recomputed by value roll-up, not a source of truth.
type Resource struct {
	ID                string          `json:"id"`
	ResourceTypeID    string          `json:"resource_type_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	ValuePerUnit      decimal.Decimal `json:"value_per_unit"`
	ValuePerUnitOfUse decimal.Decimal `json:"value_per_unit_of_use"`
	OwnerIDs          []string        `json:"owner_ids,omitempty"`
}

// Process is a production activity. Its input and output events are looked
// up through Reader.ProcessEvents.
type Process struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ProcessTypeID  string    `json:"process_type_id,omitempty"`
	ContextAgentID string    `json:"context_agent_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// Event is an atomic recorded economic transaction.
type Event struct {
	ID             string          `json:"id"`
	Relationship   Relationship    `json:"relationship"`
	Date           time.Time       `json:"date"`
	Quantity       decimal.Decimal `json:"quantity"`
	Value          decimal.Decimal `json:"value"`
	Price          decimal.Decimal `json:"price"`
	UnitID         string          `json:"unit_id,omitempty"`
	FromAgentID    string          `json:"from_agent_id,omitempty"`
	ToAgentID      string          `json:"to_agent_id,omitempty"`
	ResourceTypeID string          `json:"resource_type_id,omitempty"`
	ResourceID     string          `json:"resource_id,omitempty"`
	ProcessID      string          `json:"process_id,omitempty"`
	ContextAgentID string          `json:"context_agent_id,omitempty"`
	IsContribution bool            `json:"is_contribution"`
	CommitmentID   string          `json:"commitment_id,omitempty"`
	ExchangeID     string          `json:"exchange_id,omitempty"`
	OrderItemID    string          `json:"order_item_id,omitempty"`
}

// Creditor returns the agent owed for this event: the agent who provided
// the work or resource.
func (e *Event) Creditor() string {
	if e.FromAgentID != "" {
		return e.FromAgentID
	}
	return e.ToAgentID
}

// UnitValue returns value/quantity, or zero when the quantity is zero.
func (e *Event) UnitValue() decimal.Decimal {
	vpu, _ := SafeDiv(e.Value, e.Quantity)
	return vpu
}

// Order is a customer order whose items are delivered by shipments or
// produced by processes.
type Order struct {
	ID             string      `json:"id"`
	ContextAgentID string      `json:"context_agent_id,omitempty"`
	Date           time.Time   `json:"date"`
	Items          []OrderItem `json:"items"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID             string          `json:"id"`
	ResourceTypeID string          `json:"resource_type_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	// ShipmentIDs are the shipment events that delivered this item.
	ShipmentIDs []string `json:"shipment_ids,omitempty"`
	// ProcessID is the process that produced the item, used when the item
	// has not been shipped.
	ProcessID string `json:"process_id,omitempty"`
}
