package flow

import (
	"fmt"
	"strings"
)

// Relationship is the closed set of roles an event plays in the graph.
type Relationship int

const (
	// Work is labor contributed to a process.
	Work Relationship = iota + 1
	// Use is a resource used, but not used up, by a process.
	Use
	// Consume is a resource used up by a process.
	Consume
	// Cite is a resource (design, recipe) referenced by a process.
	Cite
	// Out is a resource produced by a process.
	Out
	// Receive is a resource acquired by purchase or donation.
	Receive
	// Shipment is a resource delivered to a customer.
	Shipment
	// Distribute is money distributed to an agent.
	Distribute
	// Disburse is money taken out of a payment account for a distribution.
	Disburse
	// Payment is money paid for an exchange.
	Payment
	// Cash is money received as income.
	Cash
)

var relationshipNames = map[Relationship]string{
	Work:       "work",
	Use:        "use",
	Consume:    "consume",
	Cite:       "cite",
	Out:        "out",
	Receive:    "receive",
	Shipment:   "shipment",
	Distribute: "distribute",
	Disburse:   "disburse",
	Payment:    "payment",
	Cash:       "cash",
}

// Relationships lists every relationship in declaration order.
var Relationships = []Relationship{
	Work, Use, Consume, Cite, Out, Receive, Shipment, Distribute, Disburse, Payment, Cash,
}

// String returns the relationship tag.
func (r Relationship) String() string {
	if name, ok := relationshipNames[r]; ok {
		return name
	}
	return fmt.Sprintf("relationship(%d)", int(r))
}

// Valid reports whether r is a member of the closed set.
func (r Relationship) Valid() bool {
	_, ok := relationshipNames[r]
	return ok
}

// IsInput reports whether events of this relationship are process inputs.
func (r Relationship) IsInput() bool {
	switch r {
	case Work, Use, Consume, Cite:
		return true
	default:
		return false
	}
}

// ParseRelationship converts a tag such as "work" into a Relationship.
func ParseRelationship(s string) (Relationship, error) {
	tag := strings.ToLower(strings.TrimSpace(s))
	for r, name := range relationshipNames {
		if name == tag {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown event relationship %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Relationship) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid relationship %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Relationship) UnmarshalText(text []byte) error {
	parsed, err := ParseRelationship(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
