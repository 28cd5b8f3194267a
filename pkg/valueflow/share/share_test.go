package share_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/rollup"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/share"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int) time.Time { return time.Date(2024, time.March, n, 0, 0, 0, 0, time.UTC) }

// contextOnly is an equation with no valuation rules.
type contextOnly string

func (c contextOnly) ContextAgent() string { return string(c) }

func (contextOnly) RuleValue(context.Context, flow.Reader, *flow.Event) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func bakery() store.Graph {
	return store.Graph{
		Agents: []*flow.Agent{{ID: "coop"}, {ID: "alice", ParentIDs: []string{"coop"}}, {ID: "bob"}, {ID: "elsewhere"}},
		ResourceTypes: []*flow.ResourceType{
			{ID: "flour"},
			{ID: "labor", ValuePerUnit: d("15")},
			{ID: "oven", ValuePerUnitOfUse: d("2")},
			{ID: "recipe", CitationPercentage: d("10")},
			{ID: "bread"},
		},
		Resources: []*flow.Resource{
			{ID: "flour-1", ResourceTypeID: "flour", Quantity: d("10")},
			{ID: "oven-1", ResourceTypeID: "oven", Quantity: d("1")},
			{ID: "recipe-1", ResourceTypeID: "recipe", Quantity: d("1"), ValuePerUnit: d("40")},
			{ID: "bread-1", ResourceTypeID: "bread", Quantity: d("7")},
		},
		Processes: []*flow.Process{{ID: "bake", ContextAgentID: "coop"}},
		Events: []*flow.Event{
			{ID: "give-flour", Relationship: flow.Receive, Date: day(1), ResourceID: "flour-1", Quantity: d("10"), Value: d("20"), FromAgentID: "bob", IsContribution: true, ContextAgentID: "coop"},
			{ID: "work", Relationship: flow.Work, Date: day(2), ProcessID: "bake", ResourceTypeID: "labor", Quantity: d("2"), FromAgentID: "alice", IsContribution: true, ContextAgentID: "coop"},
			{ID: "use-oven", Relationship: flow.Use, Date: day(2), ProcessID: "bake", ResourceID: "oven-1", Quantity: d("2.5")},
			{ID: "consume-flour", Relationship: flow.Consume, Date: day(2), ProcessID: "bake", ResourceID: "flour-1", Quantity: d("5")},
			{ID: "cite-recipe", Relationship: flow.Cite, Date: day(2), ProcessID: "bake", ResourceID: "recipe-1", Quantity: d("1")},
			{ID: "bake-out", Relationship: flow.Out, Date: day(3), ProcessID: "bake", ResourceID: "bread-1", Quantity: d("7")},
			{ID: "ship", Relationship: flow.Shipment, Date: day(4), ResourceID: "bread-1", Quantity: d("7"), ToAgentID: "customer"},
		},
	}
}

func newEngine(t *testing.T, g store.Graph) *share.Engine {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.Seed(context.Background(), g))
	return share.New(rollup.New(s))
}

func shares(records []share.Record) map[string]string {
	out := make(map[string]string)
	for id, v := range share.ByEvent(records) {
		out[id] = v.String()
	}
	return out
}

func TestResourceShares_WholeOutput(t *testing.T) {
	e := newEngine(t, bakery())

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"work": "30", "give-flour": "10"}, shares(records))
	assert.Equal(t, "40", share.Total(records).String())
}

func TestResourceShares_PartialOutput(t *testing.T) {
	e := newEngine(t, bakery())

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("3.5"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"work": "15", "give-flour": "5"}, shares(records))
}

func TestResourceShares_OutputInBatches(t *testing.T) {
	g := bakery()
	g.Events[5].Quantity = d("3.5")
	g.Events = append(g.Events, &flow.Event{
		ID: "bake-out-2", Relationship: flow.Out, Date: day(5), ProcessID: "bake", ResourceID: "bread-1", Quantity: d("3.5"),
	})
	e := newEngine(t, g)

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"work": "30", "give-flour": "10"}, shares(records))

	// 3.5 from the first batch and 1.5 from the second: 5 of the 7 baked.
	records, err = e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("5"))
	require.NoError(t, err)
	byEvent := share.ByEvent(records)
	assert.Equal(t, "21.43", byEvent["work"].StringFixed(2))
	assert.Equal(t, "7.14", byEvent["give-flour"].StringFixed(2))
}

func TestResourceShares_UsedResourceContributors(t *testing.T) {
	g := bakery()
	g.Resources[1].Quantity = d("1")
	g.Events = append(g.Events, &flow.Event{
		ID: "give-oven", Relationship: flow.Receive, Date: day(1), ResourceID: "oven-1",
		Quantity: d("1"), Value: d("100"), FromAgentID: "carol", IsContribution: true, ContextAgentID: "coop",
	})
	e := newEngine(t, g)

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
	require.NoError(t, err)

	// The oven is worth 100; using it for 2.5 units at 2 is 5 of that.
	got := shares(records)
	assert.Equal(t, "5", got["give-oven"])
	assert.Equal(t, "30", got["work"])
}

func TestResourceShares_WorkOutsideContext(t *testing.T) {
	g := bakery()
	g.Events = append(g.Events, &flow.Event{
		ID: "foreign-work", Relationship: flow.Work, Date: day(2), ProcessID: "bake",
		ResourceTypeID: "labor", Quantity: d("1"), FromAgentID: "bob", IsContribution: true, ContextAgentID: "elsewhere",
	})
	e := newEngine(t, g)

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
	require.NoError(t, err)
	got := shares(records)
	assert.NotContains(t, got, "foreign-work")
	assert.Equal(t, "30", got["work"])
}

func TestResourceShares_WorkFallsBackToProcessContext(t *testing.T) {
	g := bakery()
	g.Events[1].ContextAgentID = ""
	e := newEngine(t, g)

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
	require.NoError(t, err)
	assert.Equal(t, "30", shares(records)["work"])
}

func TestResourceShares_PurchasesCreditNobody(t *testing.T) {
	e := newEngine(t, store.Graph{
		Resources: []*flow.Resource{{ID: "r", Quantity: d("10")}},
		Events: []*flow.Event{
			{ID: "bought", Relationship: flow.Receive, Date: day(1), ResourceID: "r", Quantity: d("4"), Value: d("40")},
			{ID: "given", Relationship: flow.Receive, Date: day(2), ResourceID: "r", Quantity: d("6"), Value: d("60"), FromAgentID: "bob", IsContribution: true},
		},
	})

	// Sources are taken oldest first: 4 from the purchase, 2 from the gift.
	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "r", d("6"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"given": "20"}, shares(records))
}

func TestResourceShares_Cycle(t *testing.T) {
	e := newEngine(t, store.Graph{
		Agents:        []*flow.Agent{{ID: "coop"}},
		ResourceTypes: []*flow.ResourceType{{ID: "labor", ValuePerUnit: d("10")}},
		Resources:     []*flow.Resource{{ID: "compost", Quantity: d("4")}},
		Processes:     []*flow.Process{{ID: "rot", ContextAgentID: "coop"}},
		Events: []*flow.Event{
			{ID: "turn", Relationship: flow.Work, ProcessID: "rot", ResourceTypeID: "labor", Quantity: d("1"), FromAgentID: "ann", ContextAgentID: "coop"},
			{ID: "feed", Relationship: flow.Consume, ProcessID: "rot", ResourceID: "compost", Quantity: d("1")},
			{ID: "rot-out", Relationship: flow.Out, ProcessID: "rot", ResourceID: "compost", Quantity: d("4")},
		},
	})

	records, err := e.ResourceShares(context.Background(), contextOnly("coop"), "compost", d("4"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"turn": "10"}, shares(records))
}

func TestResourceShares_Deterministic(t *testing.T) {
	e := newEngine(t, bakery())

	first, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
	require.NoError(t, err)
	for range 5 {
		again, err := e.ResourceShares(context.Background(), contextOnly("coop"), "bread-1", d("7"))
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for i := range first {
			assert.Equal(t, first[i].Event.ID, again[i].Event.ID)
			assert.True(t, first[i].Share.Equal(again[i].Share))
		}
	}
}

func TestProcessShares(t *testing.T) {
	e := newEngine(t, bakery())

	records, err := e.ProcessShares(context.Background(), contextOnly("coop"), "bake", d("14"))
	require.NoError(t, err)
	// More than the process produced is capped at its whole output.
	assert.Equal(t, map[string]string{"work": "30", "give-flour": "10"}, shares(records))
}

func TestEventShares(t *testing.T) {
	tests := []struct {
		name    string
		eventID string
		want    map[string]string
	}{
		{name: "shipment", eventID: "ship", want: map[string]string{"work": "30", "give-flour": "10"}},
		{name: "output", eventID: "bake-out", want: map[string]string{"work": "30", "give-flour": "10"}},
		{name: "work", eventID: "work", want: map[string]string{"work": "30"}},
		{name: "contribution", eventID: "give-flour", want: map[string]string{"give-flour": "20"}},
		{name: "consume", eventID: "consume-flour", want: map[string]string{"give-flour": "10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, bakery())
			records, err := e.EventShares(context.Background(), contextOnly("coop"), tt.eventID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, shares(records))
		})
	}
}

func TestEventShares_MoneyEventsRejected(t *testing.T) {
	g := bakery()
	g.Events = append(g.Events, &flow.Event{ID: "pay", Relationship: flow.Payment, Quantity: d("5"), Value: d("5")})
	e := newEngine(t, g)

	_, err := e.EventShares(context.Background(), contextOnly("coop"), "pay")
	var cfgErr *vferrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestShares_InvalidArguments(t *testing.T) {
	e := newEngine(t, bakery())
	ctx := context.Background()

	_, err := e.ResourceShares(ctx, nil, "bread-1", d("1"))
	var cfgErr *vferrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = e.ResourceShares(ctx, contextOnly("coop"), "bread-1", d("-1"))
	assert.True(t, errors.Is(err, vferrors.ErrNegativeQuantity))

	_, err = e.EventShares(ctx, contextOnly("coop"), "missing")
	assert.True(t, errors.Is(err, vferrors.ErrNotFound))
}

func TestShares_Cancelled(t *testing.T) {
	e := newEngine(t, bakery())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ResourceShares(ctx, contextOnly("coop"), "bread-1", d("7"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
