package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
)

// agentReader is a Reader that only knows agents.
type agentReader struct {
	Reader
	agents map[string]*Agent
	err    error
}

func (r *agentReader) Agent(_ context.Context, id string) (*Agent, error) {
	if r.err != nil {
		return nil, r.err
	}
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, vferrors.ErrNotFound)
	}
	return a, nil
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestParseRelationship(t *testing.T) {
	for _, r := range Relationships {
		t.Run(r.String(), func(t *testing.T) {
			parsed, err := ParseRelationship(r.String())
			require.NoError(t, err)
			assert.Equal(t, r, parsed)
			assert.True(t, r.Valid())
		})
	}

	parsed, err := ParseRelationship("  WORK ")
	require.NoError(t, err)
	assert.Equal(t, Work, parsed)

	_, err = ParseRelationship("gift")
	assert.Error(t, err)
}

func TestRelationship_IsInput(t *testing.T) {
	inputs := map[Relationship]bool{Work: true, Use: true, Consume: true, Cite: true}
	for _, r := range Relationships {
		assert.Equal(t, inputs[r], r.IsInput(), r.String())
	}
	assert.False(t, Relationship(0).Valid())
	assert.Equal(t, "relationship(99)", Relationship(99).String())
}

func TestRelationship_JSON(t *testing.T) {
	e := Event{ID: "e1", Relationship: Consume}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"relationship":"consume"`)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Consume, back.Relationship)

	err = json.Unmarshal([]byte(`{"relationship":"teleport"}`), &back)
	assert.Error(t, err)

	_, err = json.Marshal(Event{Relationship: Relationship(42)})
	assert.Error(t, err)
}

func TestEvent_CreditorAndUnitValue(t *testing.T) {
	e := &Event{FromAgentID: "alice", ToAgentID: "coop", Quantity: decimal.NewFromInt(4), Value: decimal.NewFromInt(10)}
	assert.Equal(t, "alice", e.Creditor())
	assert.True(t, decimal.RequireFromString("2.5").Equal(e.UnitValue()))

	e.FromAgentID = ""
	assert.Equal(t, "coop", e.Creditor())

	e.Quantity = decimal.Zero
	assert.True(t, e.UnitValue().IsZero())
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		half string
		up   string
	}{
		{"33.335", "33.34", "33.34"},
		{"33.334", "33.33", "33.34"},
		{"10", "10", "10"},
		{"-1.005", "-1.01", "-1.01"},
		{"0.001", "0", "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d := decimal.RequireFromString(tt.in)
			assert.Equal(t, tt.half, Quantize(d).String())
			assert.Equal(t, tt.up, QuantizeUp(d).String())
		})
	}

	q, ok := SafeDiv(decimal.NewFromInt(1), decimal.Zero)
	assert.False(t, ok)
	assert.True(t, q.IsZero())

	q, ok = SafeDiv(decimal.NewFromInt(9), decimal.NewFromInt(3))
	assert.True(t, ok)
	assert.True(t, q.Equal(decimal.NewFromInt(3)))

	assert.True(t, Percent(decimal.NewFromInt(200), decimal.NewFromInt(15)).Equal(decimal.NewFromInt(30)))
	assert.True(t, NonNegative(decimal.NewFromInt(-3)).IsZero())
	assert.True(t, NonNegative(decimal.NewFromInt(3)).Equal(decimal.NewFromInt(3)))
}

func TestEventQuery_Matches(t *testing.T) {
	e := &Event{ID: "e", Relationship: Work, Date: day(10), ContextAgentID: "coop", IsContribution: true}

	tests := []struct {
		name  string
		query EventQuery
		want  bool
	}{
		{"empty query", EventQuery{}, true},
		{"context match", EventQuery{ContextAgentID: "coop"}, true},
		{"context mismatch", EventQuery{ContextAgentID: "other"}, false},
		{"start before", EventQuery{Start: day(1)}, true},
		{"start after", EventQuery{Start: day(11)}, false},
		{"end inclusive", EventQuery{End: day(10)}, true},
		{"end before", EventQuery{End: day(9)}, false},
		{"relationship match", EventQuery{Relationships: []Relationship{Use, Work}}, true},
		{"relationship mismatch", EventQuery{Relationships: []Relationship{Use}}, false},
		{"contribution only", EventQuery{ContributionOnly: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Matches(e))
		})
	}

	nonContribution := &Event{ID: "n", Date: day(10)}
	assert.False(t, EventQuery{ContributionOnly: true}.Matches(nonContribution))
}

func TestSortEventsAndSplit(t *testing.T) {
	events := []*Event{
		{ID: "c", Date: day(2), Relationship: Work},
		{ID: "b", Date: day(1), Relationship: Use},
		{ID: "a", Date: day(2), Relationship: Work},
	}
	SortEvents(events)
	ids := []string{events[0].ID, events[1].ID, events[2].ID}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	split := Split(events)
	assert.Len(t, split[Work], 2)
	assert.Len(t, split[Use], 1)
	assert.Empty(t, split[Cite])
}

func TestTraversal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	tr := NewTraversal(context.Background(), logger)

	assert.True(t, tr.Visit("p1"))
	assert.False(t, tr.Visit("p1"), "second visit reports a cycle")
	assert.True(t, tr.Visited("p1"))
	assert.False(t, tr.Visited("p2"))
	assert.Equal(t, 1, tr.VisitedCount())

	require.NoError(t, tr.Enter("resource", "r1"))
	require.NoError(t, tr.Enter("process", "p1"))
	assert.Equal(t, 2, tr.Steps())

	tr.Skip("resource", "r9", errors.New("missing"))
	assert.Equal(t, 1, tr.Skipped())
	assert.Contains(t, buf.String(), "branch skipped")
	assert.Same(t, logger, tr.Logger())
}

func TestTraversal_FreshPerCall(t *testing.T) {
	a := NewTraversal(context.Background(), nil)
	b := NewTraversal(context.Background(), nil)
	a.Visit("p1")
	assert.False(t, b.Visited("p1"))
	assert.NotNil(t, b.Logger())
}

func TestTraversal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTraversal(ctx, nil)
	cancel()

	err := tr.Enter("process", "p7")
	require.Error(t, err)

	var cerr *CancellationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "process", cerr.Kind)
	assert.Equal(t, "p7", cerr.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "p7")
}

func TestCompatibleContext(t *testing.T) {
	r := &agentReader{agents: map[string]*Agent{
		"alice":   {ID: "alice", ParentIDs: []string{"team"}},
		"team":    {ID: "team", ParentIDs: []string{"coop", "ghost"}},
		"coop":    {ID: "coop"},
		"outside": {ID: "outside"},
		"loop-a":  {ID: "loop-a", ParentIDs: []string{"loop-b"}},
		"loop-b":  {ID: "loop-b", ParentIDs: []string{"loop-a"}},
	}}
	ctx := context.Background()

	tests := []struct {
		name    string
		agent   string
		context string
		want    bool
	}{
		{"same agent", "coop", "coop", true},
		{"direct parent", "team", "coop", true},
		{"grandparent", "alice", "coop", true},
		{"unrelated", "outside", "coop", false},
		{"child is not ancestor", "coop", "alice", false},
		{"cycle terminates", "loop-a", "coop", false},
		{"empty agent", "", "coop", false},
		{"empty context", "alice", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := CompatibleContext(ctx, r, tt.agent, tt.context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCompatibleContext_ReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	r := &agentReader{err: boom}
	_, err := CompatibleContext(context.Background(), r, "alice", "coop")
	assert.ErrorIs(t, err, boom)
}

func TestProduced(t *testing.T) {
	events := []*Event{
		{ID: "o1", Relationship: Out, Quantity: decimal.NewFromInt(3)},
		{ID: "w1", Relationship: Work, Quantity: decimal.NewFromInt(8)},
		{ID: "o2", Relationship: Out, Quantity: decimal.RequireFromString("1.5")},
	}
	assert.Equal(t, "4.5", Produced(events).String())
	assert.True(t, Produced(nil).IsZero())
}
