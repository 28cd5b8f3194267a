package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/equation"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/store"
)

var (
	ten   = decimal.NewFromInt(10)
	one   = decimal.NewFromInt(1)
	start = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func resourceID(i int) string { return fmt.Sprintf("r%d", i) }

// chainGraph builds depth processes in a row. Each consumes the previous
// process's output and has width work events from different agents. The
// final output is shipped as "ship".
func chainGraph(depth, width int) store.Graph {
	g := store.Graph{
		Agents:        []*flow.Agent{{ID: "coop"}},
		ResourceTypes: []*flow.ResourceType{{ID: "labor", ValuePerUnit: decimal.NewFromInt(15)}},
		Resources:     []*flow.Resource{{ID: resourceID(0), Quantity: ten}},
		Events: []*flow.Event{{
			ID: "gift", Relationship: flow.Receive, Date: start, ResourceID: resourceID(0),
			Quantity: ten, Value: ten, FromAgentID: "giver", IsContribution: true, ContextAgentID: "coop",
		}},
	}
	for i := 1; i <= depth; i++ {
		pid := fmt.Sprintf("p%d", i)
		date := start.Add(time.Duration(i) * time.Hour)
		g.Processes = append(g.Processes, &flow.Process{ID: pid, ContextAgentID: "coop"})
		g.Resources = append(g.Resources, &flow.Resource{ID: resourceID(i), Quantity: ten})
		g.Events = append(g.Events,
			&flow.Event{ID: pid + "-in", Relationship: flow.Consume, Date: date, ProcessID: pid, ResourceID: resourceID(i - 1), Quantity: ten},
			&flow.Event{ID: pid + "-out", Relationship: flow.Out, Date: date, ProcessID: pid, ResourceID: resourceID(i), Quantity: ten},
		)
		for j := 0; j < width; j++ {
			g.Events = append(g.Events, &flow.Event{
				ID: fmt.Sprintf("%s-work-%d", pid, j), Relationship: flow.Work, Date: date, ProcessID: pid,
				ResourceTypeID: "labor", Quantity: one, FromAgentID: fmt.Sprintf("member-%d", j),
				IsContribution: true, ContextAgentID: "coop",
			})
		}
	}
	g.Events = append(g.Events, &flow.Event{
		ID: "ship", Relationship: flow.Shipment, Date: start.Add(time.Duration(depth+1) * time.Hour),
		ResourceID: resourceID(depth), Quantity: ten, ToAgentID: "customer",
	})
	return g
}

func memoryStore(b *testing.B, g store.Graph) *store.MemoryStore {
	b.Helper()
	s := store.NewMemoryStore()
	if err := s.Seed(context.Background(), g); err != nil {
		b.Fatal(err)
	}
	return s
}

func makersEquation() *equation.ValueEquation {
	return &equation.ValueEquation{
		ID: "ve", ContextAgentID: "coop", PercentageBehavior: equation.Remaining, Live: true,
		Buckets: []*equation.Bucket{
			{ID: "ops", Sequence: 1, Percentage: ten, DistributionAgentID: "coop"},
			{ID: "makers", Sequence: 2, Percentage: decimal.NewFromInt(100), FilterMethod: equation.FilterShipment,
				Rules: []*equation.BucketRule{
					{ID: "labor", EventType: flow.Work, DivisionRule: equation.Percentage, ClaimRuleType: claim.EquityLike,
						ClaimCreationEquation: "quantity * valuePerUnit * 1.5"},
					{ID: "gifts", EventType: flow.Receive, DivisionRule: equation.FIFO, ClaimRuleType: claim.DebtLike},
				}},
		},
	}
}
