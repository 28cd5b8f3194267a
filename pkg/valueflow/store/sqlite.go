package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/distribution"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
)

// dateLayout sorts lexically in date order. Dates are stored in UTC.
const dateLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (id TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS resource_types (id TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS process_types (id TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS resources (id TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS processes (id TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS orders (id TEXT PRIMARY KEY, data BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		process_id TEXT NOT NULL,
		context_agent_id TEXT NOT NULL,
		date TEXT NOT NULL,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_resource ON events(resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_process ON events(process_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_context_date ON events(context_agent_id, date)`,
	`CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		has_agent_id TEXT NOT NULL,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_event_rule ON claims(event_id, rule_id)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_agent ON claims(has_agent_id)`,
	`CREATE TABLE IF NOT EXISTS claim_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		claim_id TEXT NOT NULL,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claim_events_claim ON claim_events(claim_id)`,
	`CREATE TABLE IF NOT EXISTS distributions (
		id TEXT PRIMARY KEY,
		context_agent_id TEXT NOT NULL,
		date TEXT NOT NULL,
		data BLOB NOT NULL
	)`,
}

// SQLiteStore persists the flow graph, claims and distributions to SQLite.
// It is suitable for single-process production use. Entities are stored as
// JSON documents with the columns needed for lookups alongside.
type SQLiteStore struct {
	queries
	db *sql.DB
}

// NewSQLiteStore opens or creates a store. The path should be a file path
// (e.g., "./valueflow.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{queries: queries{q: db, closed: new(atomic.Bool)}, db: db}
}

// Seed loads every entity of g in one transaction, replacing entities with
// the same IDs.
func (s *SQLiteStore) Seed(ctx context.Context, g Graph) error {
	return s.inTx(ctx, func(q queries) error {
		for _, a := range g.Agents {
			if err := q.putDoc(ctx, "agents", a.ID, a); err != nil {
				return err
			}
		}
		for _, rt := range g.ResourceTypes {
			if err := q.putDoc(ctx, "resource_types", rt.ID, rt); err != nil {
				return err
			}
		}
		for _, pt := range g.ProcessTypes {
			if err := q.putDoc(ctx, "process_types", pt.ID, pt); err != nil {
				return err
			}
		}
		for _, r := range g.Resources {
			if err := q.putDoc(ctx, "resources", r.ID, r); err != nil {
				return err
			}
		}
		for _, p := range g.Processes {
			if err := q.putDoc(ctx, "processes", p.ID, p); err != nil {
				return err
			}
		}
		for _, o := range g.Orders {
			if err := q.putDoc(ctx, "orders", o.ID, o); err != nil {
				return err
			}
		}
		for _, e := range g.Events {
			if err := q.SaveEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update implements distribution.Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx distribution.Tx) error) error {
	return s.inTx(ctx, func(q queries) error {
		return fn(q)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(q queries) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(queries{q: tx, closed: s.closed}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements io.Closer. Closing twice is safe.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements the store operations over a database or transaction.
type queries struct {
	q      querier
	closed *atomic.Bool
}

func (q queries) check() error {
	if q.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func (q queries) putDoc(ctx context.Context, table, id string, v any) error {
	if err := q.check(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO `+table+` (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, id, data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, id, err)
	}
	return nil
}

// getDoc decodes the document with the given ID from table into v.
func getDoc(ctx context.Context, q queries, table, kind, id string, v any) error {
	if err := q.check(); err != nil {
		return err
	}
	var data []byte
	err := q.q.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

// listDocs decodes every row of a single data column query.
func listDocs[T any](ctx context.Context, q queries, kind, query string, args ...any) ([]*T, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

func get[T any](ctx context.Context, q queries, table, kind, id string) (*T, error) {
	v := new(T)
	if err := getDoc(ctx, q, table, kind, id, v); err != nil {
		return nil, err
	}
	return v, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Agent implements flow.Reader.
func (q queries) Agent(ctx context.Context, id string) (*flow.Agent, error) {
	return get[flow.Agent](ctx, q, "agents", "agent", id)
}

// ResourceType implements flow.Reader.
func (q queries) ResourceType(ctx context.Context, id string) (*flow.ResourceType, error) {
	return get[flow.ResourceType](ctx, q, "resource_types", "resource type", id)
}

// ProcessType implements flow.Reader.
func (q queries) ProcessType(ctx context.Context, id string) (*flow.ProcessType, error) {
	return get[flow.ProcessType](ctx, q, "process_types", "process type", id)
}

// Resource implements flow.Reader.
func (q queries) Resource(ctx context.Context, id string) (*flow.Resource, error) {
	return get[flow.Resource](ctx, q, "resources", "resource", id)
}

// Process implements flow.Reader.
func (q queries) Process(ctx context.Context, id string) (*flow.Process, error) {
	return get[flow.Process](ctx, q, "processes", "process", id)
}

// Event implements flow.Reader.
func (q queries) Event(ctx context.Context, id string) (*flow.Event, error) {
	return get[flow.Event](ctx, q, "events", "event", id)
}

// Order implements flow.Reader.
func (q queries) Order(ctx context.Context, id string) (*flow.Order, error) {
	return get[flow.Order](ctx, q, "orders", "order", id)
}

// PutAgent stores an agent.
func (q queries) PutAgent(ctx context.Context, a *flow.Agent) error {
	return q.putDoc(ctx, "agents", a.ID, a)
}

// PutResourceType stores a resource type.
func (q queries) PutResourceType(ctx context.Context, rt *flow.ResourceType) error {
	return q.putDoc(ctx, "resource_types", rt.ID, rt)
}

// PutProcessType stores a process type.
func (q queries) PutProcessType(ctx context.Context, pt *flow.ProcessType) error {
	return q.putDoc(ctx, "process_types", pt.ID, pt)
}

// PutResource stores a resource.
func (q queries) PutResource(ctx context.Context, r *flow.Resource) error {
	return q.putDoc(ctx, "resources", r.ID, r)
}

// PutProcess stores a process.
func (q queries) PutProcess(ctx context.Context, p *flow.Process) error {
	return q.putDoc(ctx, "processes", p.ID, p)
}

// PutOrder stores an order.
func (q queries) PutOrder(ctx context.Context, o *flow.Order) error {
	return q.putDoc(ctx, "orders", o.ID, o)
}

// ResourceEvents implements flow.Reader.
func (q queries) ResourceEvents(ctx context.Context, resourceID string, rels ...flow.Relationship) ([]*flow.Event, error) {
	events, err := listDocs[flow.Event](ctx, q, "resource events",
		`SELECT data FROM events WHERE resource_id = ?`, resourceID)
	if err != nil {
		return nil, err
	}
	return filterEvents(events, flow.EventQuery{Relationships: rels}), nil
}

// ProcessEvents implements flow.Reader.
func (q queries) ProcessEvents(ctx context.Context, processID string) ([]*flow.Event, error) {
	events, err := listDocs[flow.Event](ctx, q, "process events",
		`SELECT data FROM events WHERE process_id = ?`, processID)
	if err != nil {
		return nil, err
	}
	flow.SortEvents(events)
	return events, nil
}

// Events implements flow.Reader. Context and dates are filtered in SQL, the
// rest of the query in Go.
func (q queries) Events(ctx context.Context, eq flow.EventQuery) ([]*flow.Event, error) {
	query := `SELECT data FROM events WHERE 1 = 1`
	var args []any
	if eq.ContextAgentID != "" {
		query += ` AND context_agent_id = ?`
		args = append(args, eq.ContextAgentID)
	}
	if !eq.Start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, formatDate(eq.Start))
	}
	if !eq.End.IsZero() {
		query += ` AND date <= ?`
		args = append(args, formatDate(eq.End))
	}
	events, err := listDocs[flow.Event](ctx, q, "events", query, args...)
	if err != nil {
		return nil, err
	}
	return filterEvents(events, eq), nil
}

func filterEvents(events []*flow.Event, eq flow.EventQuery) []*flow.Event {
	out := events[:0]
	for _, e := range events {
		if eq.Matches(e) {
			out = append(out, e)
		}
	}
	flow.SortEvents(out)
	return out
}

// SaveEvent stores an event.
func (q queries) SaveEvent(ctx context.Context, e *flow.Event) error {
	if err := q.check(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO events (id, resource_id, process_id, context_agent_id, date, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_id = excluded.resource_id,
			process_id = excluded.process_id,
			context_agent_id = excluded.context_agent_id,
			date = excluded.date,
			data = excluded.data
	`, e.ID, e.ResourceID, e.ProcessID, e.ContextAgentID, formatDate(e.Date), data)
	if err != nil {
		return fmt.Errorf("save event %s: %w", e.ID, err)
	}
	return nil
}

// SetResourceValue implements rollup.Writer.
func (q queries) SetResourceValue(ctx context.Context, resourceID string, valuePerUnit decimal.Decimal) error {
	r, err := q.Resource(ctx, resourceID)
	if err != nil {
		return err
	}
	r.ValuePerUnit = valuePerUnit
	return q.PutResource(ctx, r)
}

// SetEventValue implements rollup.Writer.
func (q queries) SetEventValue(ctx context.Context, eventID string, value decimal.Decimal) error {
	e, err := q.Event(ctx, eventID)
	if err != nil {
		return err
	}
	e.Value = value
	return q.SaveEvent(ctx, e)
}

// Claim implements claim.Store.
func (q queries) Claim(ctx context.Context, id string) (*claim.Claim, error) {
	return get[claim.Claim](ctx, q, "claims", "claim", id)
}

// FindClaim implements claim.Store.
func (q queries) FindClaim(ctx context.Context, eventID, ruleID string) (*claim.Claim, error) {
	claims, err := listDocs[claim.Claim](ctx, q, "claims",
		`SELECT data FROM claims WHERE event_id = ? AND rule_id = ? ORDER BY id LIMIT 1`, eventID, ruleID)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, fmt.Errorf("claim for event %s rule %s: %w", eventID, ruleID, vferrors.ErrNotFound)
	}
	return claims[0], nil
}

// ClaimsByAgent implements claim.Store. Claims are ordered by date, then ID.
func (q queries) ClaimsByAgent(ctx context.Context, agentID string) ([]*claim.Claim, error) {
	claims, err := listDocs[claim.Claim](ctx, q, "claims",
		`SELECT data FROM claims WHERE has_agent_id = ?`, agentID)
	if err != nil {
		return nil, err
	}
	claim.SortByAge(claims)
	return claims, nil
}

// ClaimEvents implements claim.Store. Events are returned in save order.
func (q queries) ClaimEvents(ctx context.Context, claimID string) ([]*claim.ClaimEvent, error) {
	return listDocs[claim.ClaimEvent](ctx, q, "claim events",
		`SELECT data FROM claim_events WHERE claim_id = ? ORDER BY seq`, claimID)
}

// SaveClaim implements claim.Store.
func (q queries) SaveClaim(ctx context.Context, c *claim.Claim) error {
	if err := q.check(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claim %s: %w", c.ID, err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO claims (id, event_id, rule_id, has_agent_id, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, c.ID, c.EventID, c.RuleID, c.HasAgentID, data)
	if err != nil {
		return fmt.Errorf("save claim %s: %w", c.ID, err)
	}
	return nil
}

// SaveClaimEvent implements claim.Store.
func (q queries) SaveClaimEvent(ctx context.Context, ce *claim.ClaimEvent) error {
	if err := q.check(); err != nil {
		return err
	}
	data, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("encode claim event %s: %w", ce.ID, err)
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO claim_events (id, claim_id, data) VALUES (?, ?, ?)`, ce.ID, ce.ClaimID, data)
	if err != nil {
		return fmt.Errorf("save claim event %s: %w", ce.ID, err)
	}
	return nil
}

// SaveDistribution stores a distribution record.
func (q queries) SaveDistribution(ctx context.Context, d *distribution.Distribution) error {
	if err := q.check(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode distribution %s: %w", d.ID, err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO distributions (id, context_agent_id, date, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, d.ID, d.ContextAgentID, formatDate(d.Date), data)
	if err != nil {
		return fmt.Errorf("save distribution %s: %w", d.ID, err)
	}
	return nil
}

// Distribution returns a saved distribution.
func (q queries) Distribution(ctx context.Context, id string) (*distribution.Distribution, error) {
	return get[distribution.Distribution](ctx, q, "distributions", "distribution", id)
}

// Distributions returns the distributions of a context agent, oldest first.
func (q queries) Distributions(ctx context.Context, contextAgentID string) ([]*distribution.Distribution, error) {
	return listDocs[distribution.Distribution](ctx, q, "distributions",
		`SELECT data FROM distributions WHERE context_agent_id = ? ORDER BY date, id`, contextAgentID)
}
