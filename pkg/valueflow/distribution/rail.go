package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
)

// Rail errors.
var (
	// ErrNoAccount indicates the rail cannot hold funds for an agent.
	ErrNoAccount = errors.New("no payable account")

	// ErrInsufficientFunds indicates the source account cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRailUnavailable indicates a temporary rail failure.
	ErrRailUnavailable = errors.New("payment rail unavailable")
)

// AccountRef identifies an account on a payment rail.
type AccountRef struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	ResourceTypeID string `json:"resource_type_id"`
}

// TxRef identifies a completed rail transfer.
type TxRef struct {
	ID     string          `json:"id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentRail moves money between agents' accounts. Temporary failures
// should be returned as transient errors so callers retry them.
type PaymentRail interface {
	// ResolveOrCreateAccount returns the agent's account for the currency
	// resource type, creating it if needed.
	ResolveOrCreateAccount(ctx context.Context, agentID, resourceTypeID string) (AccountRef, error)
	// Transfer moves amount from one account to another.
	Transfer(ctx context.Context, from, to AccountRef, amount decimal.Decimal) (TxRef, error)
}

// MemoryRail is an in-memory PaymentRail for tests and demos.
type MemoryRail struct {
	mu        sync.Mutex
	accounts  map[string]AccountRef // agentID/resourceTypeID -> account
	balances  map[string]decimal.Decimal
	transfers []TxRef
	refused   map[string]bool
	failures  int
}

// Compile-time interface check.
var _ PaymentRail = (*MemoryRail)(nil)

// NewMemoryRail creates an empty rail.
func NewMemoryRail() *MemoryRail {
	return &MemoryRail{
		accounts: make(map[string]AccountRef),
		balances: make(map[string]decimal.Decimal),
		refused:  make(map[string]bool),
	}
}

// ResolveOrCreateAccount implements PaymentRail.
func (m *MemoryRail) ResolveOrCreateAccount(_ context.Context, agentID, resourceTypeID string) (AccountRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agentID == "" || m.refused[agentID] {
		return AccountRef{}, fmt.Errorf("agent %q: %w", agentID, ErrNoAccount)
	}
	key := agentID + "/" + resourceTypeID
	if acct, ok := m.accounts[key]; ok {
		return acct, nil
	}
	acct := AccountRef{ID: uuid.NewString(), AgentID: agentID, ResourceTypeID: resourceTypeID}
	m.accounts[key] = acct
	return acct, nil
}

// Transfer implements PaymentRail.
func (m *MemoryRail) Transfer(_ context.Context, from, to AccountRef, amount decimal.Decimal) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return TxRef{}, vferrors.Transient(ErrRailUnavailable, "transfer")
	}
	if !amount.IsPositive() {
		return TxRef{}, fmt.Errorf("transfer %s: %w", amount, vferrors.ErrNonPositiveAmount)
	}
	if m.balances[from.ID].LessThan(amount) {
		return TxRef{}, fmt.Errorf("transfer %s from %s: %w", amount, from.ID, ErrInsufficientFunds)
	}
	m.balances[from.ID] = m.balances[from.ID].Sub(amount)
	m.balances[to.ID] = m.balances[to.ID].Add(amount)
	ref := TxRef{ID: uuid.NewString(), From: from.ID, To: to.ID, Amount: amount}
	m.transfers = append(m.transfers, ref)
	return ref, nil
}

// Fund adds amount to an account, as if income had arrived.
func (m *MemoryRail) Fund(acct AccountRef, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[acct.ID] = m.balances[acct.ID].Add(amount)
}

// Balance returns an account's balance.
func (m *MemoryRail) Balance(acct AccountRef) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[acct.ID]
}

// Refuse makes the rail refuse accounts for agentID.
func (m *MemoryRail) Refuse(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refused[agentID] = true
}

// FailNext makes the next n transfers fail with a transient error.
func (m *MemoryRail) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Transfers returns the completed transfers in order.
func (m *MemoryRail) Transfers() []TxRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TxRef, len(m.transfers))
	copy(out, m.transfers)
	return out
}
