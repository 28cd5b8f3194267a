package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/claim"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/config"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/equation"
	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/flow"
	"github.com/django-rea/nrp-sub003/pkg/valueflow/observability"
)

// DefaultCurrency is the resource type of distributed money when none is
// configured.
const DefaultCurrency = "usd"

// Request describes one distribution.
type Request struct {
	ValueEquation *equation.ValueEquation
	// PaymentAccount is the context agent's account the money leaves from.
	PaymentAccount AccountRef
	// Amount to distribute. May be zero when IncomeEventIDs are given, in
	// which case their quantities are distributed.
	Amount decimal.Decimal
	// Filters maps bucket IDs to filter payloads.
	Filters map[string]json.RawMessage
	// IncomeEventIDs are the cash events whose income is distributed.
	IncomeEventIDs []string
	// Date of the distribution. Defaults to now.
	Date time.Time
}

// Service runs and saves distributions. It is safe for concurrent use.
type Service struct {
	reader    flow.Reader
	store     Store
	evaluator *equation.Evaluator
	rail      PaymentRail
	currency  string
	retry     vferrors.RetryConfig
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	now       func() time.Time
	newID     func() string
	locks     *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithCurrency sets the resource type of distributed money.
func WithCurrency(resourceTypeID string) Option {
	return func(s *Service) {
		if resourceTypeID != "" {
			s.currency = resourceTypeID
		}
	}
}

// WithRetry sets how rail transfers are retried.
func WithRetry(cfg vferrors.RetryConfig) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithSettings applies process settings: currency and transfer attempts.
func WithSettings(settings config.Settings) Option {
	return func(s *Service) {
		WithCurrency(settings.CurrencyResourceTypeID)(s)
		if settings.TransferAttempts > 0 {
			s.retry.MaxAttempts = settings.TransferAttempts
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(s *Service) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// WithClock sets the time source for event and record dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator sets how IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates a Service. r is used to read income events; the
// evaluator should look claims up in the same storage store writes to.
func NewService(r flow.Reader, store Store, evaluator *equation.Evaluator, rail PaymentRail, opts ...Option) *Service {
	s := &Service{
		reader:    r,
		store:     store,
		evaluator: evaluator,
		rail:      rail,
		currency:  DefaultCurrency,
		retry:     vferrors.DefaultTransferRetry,
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		now:       time.Now,
		newID:     uuid.NewString,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Preview plans a distribution without moving money or saving anything.
// Equations that are not live may be previewed.
func (s *Service) Preview(ctx context.Context, req Request) (*equation.Plan, error) {
	if req.ValueEquation == nil {
		return nil, vferrors.Configf("distribution", "no value equation")
	}
	amount, err := s.amount(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Run(ctx, req.ValueEquation, amount, req.Filters)
}

// RunAndSave plans the distribution, pays every agent through the rail and
// saves the result in one transaction. On failure nothing is saved and
// completed transfers are reversed.
func (s *Service) RunAndSave(ctx context.Context, req Request) (*Distribution, error) {
	ve := req.ValueEquation
	if ve == nil {
		return nil, vferrors.Configf("distribution", "no value equation")
	}

	runID := s.newID()
	logger := observability.EnrichLogger(s.logger, runID, ve.ContextAgentID, ve.ID)
	ctx, span := s.spans.StartRunSpan(ctx, ve.ContextAgentID, runID)
	elapsed := observability.TimedOperation()
	observability.LogRunStart(logger, runID, req.Amount.String())

	d, err := s.run(ctx, runID, req, logger)
	duration := elapsed()
	if err != nil {
		observability.LogRunError(logger, runID, err, duration)
		s.metrics.RecordDistributionRun(ctx, false, time.Duration(duration*float64(time.Millisecond)), 0)
		s.spans.EndSpanWithError(span, err)
		return nil, err
	}

	observability.LogRunComplete(logger, runID, duration, len(d.DistributionEventIDs), d.Amount.String())
	s.metrics.RecordDistributionRun(ctx, true, time.Duration(duration*float64(time.Millisecond)), d.Amount.InexactFloat64())
	s.spans.EndSpanWithError(span, nil)
	return d, nil
}

func (s *Service) run(ctx context.Context, runID string, req Request, logger *slog.Logger) (*Distribution, error) {
	ve := req.ValueEquation
	if err := ve.Validate(); err != nil {
		return nil, err
	}
	if !ve.Live {
		return nil, vferrors.Configf("value equation "+ve.ID, "not live; use Preview")
	}
	if req.PaymentAccount.ID == "" {
		return nil, vferrors.Configf("distribution", "no payment account")
	}
	amount, err := s.amount(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ve.ContextAgentID + "\x00" + ve.ID)
	defer unlock()

	plan, err := s.evaluator.Run(ctx, ve, amount, req.Filters)
	if err != nil {
		return nil, err
	}
	accounts, err := s.resolveAccounts(ctx, plan)
	if err != nil {
		return nil, err
	}
	snapshot, err := ve.Snapshot()
	if err != nil {
		return nil, err
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	d := &Distribution{
		ID:                   runID,
		ContextAgentID:       ve.ContextAgentID,
		ValueEquationID:      ve.ID,
		Date:                 date,
		Amount:               amount,
		ValueEquationContent: snapshot,
		IncomeEventIDs:       req.IncomeEventIDs,
	}

	var transfers []TxRef
	err = s.store.Update(ctx, func(tx Tx) error {
		return s.save(ctx, tx, d, plan, req.PaymentAccount, accounts, &transfers, logger)
	})
	if err != nil {
		s.reverse(ctx, transfers, logger)
		return nil, fmt.Errorf("save distribution: %w", err)
	}
	return d, nil
}

// amount returns the amount to distribute: req.Amount, or the sum of the
// income events, which must agree when both are given.
func (s *Service) amount(ctx context.Context, req Request) (decimal.Decimal, error) {
	amount := req.Amount
	if len(req.IncomeEventIDs) > 0 {
		income := decimal.Zero
		for _, id := range req.IncomeEventIDs {
			e, err := s.reader.Event(ctx, id)
			if err != nil {
				if errors.Is(err, vferrors.ErrNotFound) {
					return decimal.Zero, &vferrors.ConfigurationError{Subject: "income event " + id, Message: "does not exist", Err: err}
				}
				return decimal.Zero, err
			}
			if e.Quantity.IsNegative() {
				return decimal.Zero, fmt.Errorf("income event %s: %w", id, vferrors.ErrNegativeQuantity)
			}
			income = income.Add(e.Quantity)
		}
		switch {
		case amount.IsZero():
			amount = income
		case !amount.Equal(income):
			return decimal.Zero, vferrors.Configf("distribution", "amount %s does not match income events totalling %s", amount, income)
		}
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("distribute %s: %w", amount, vferrors.ErrNonPositiveAmount)
	}
	return amount, nil
}

func (s *Service) resolveAccounts(ctx context.Context, plan *equation.Plan) (map[string]AccountRef, error) {
	accounts := make(map[string]AccountRef, len(plan.Lines))
	for _, l := range plan.Lines {
		if !l.Amount.IsPositive() {
			continue
		}
		acct, err := s.rail.ResolveOrCreateAccount(ctx, l.AgentID, s.currency)
		if err != nil {
			return nil, fmt.Errorf("resolve account for %s: %w", l.AgentID, err)
		}
		accounts[l.AgentID] = acct
	}
	return accounts, nil
}

// save writes the run inside tx. Completed transfers are appended to
// transfers so the caller can reverse them if the transaction fails.
func (s *Service) save(ctx context.Context, tx Tx, d *Distribution, plan *equation.Plan, payment AccountRef, accounts map[string]AccountRef, transfers *[]TxRef, logger *slog.Logger) error {
	ledger := claim.NewLedger(tx,
		claim.WithClock(s.now),
		claim.WithIDGenerator(s.newID),
		claim.WithLogger(logger),
	)

	disburse := &flow.Event{
		ID:             s.newID(),
		Relationship:   flow.Disburse,
		Date:           d.Date,
		Quantity:       d.Amount,
		Value:          d.Amount,
		ResourceTypeID: s.currency,
		ResourceID:     payment.ID,
		FromAgentID:    d.ContextAgentID,
		ContextAgentID: d.ContextAgentID,
	}
	if err := tx.SaveEvent(ctx, disburse); err != nil {
		return err
	}
	d.DisbursementEventID = disburse.ID

	for _, l := range plan.Lines {
		if !l.Amount.IsPositive() {
			continue
		}
		ref, err := s.transfer(ctx, payment, accounts[l.AgentID], l.Amount)
		if err != nil {
			return fmt.Errorf("pay %s: %w", l.AgentID, err)
		}
		*transfers = append(*transfers, ref)
		d.Transfers = append(d.Transfers, ref)

		de := &flow.Event{
			ID:             s.newID(),
			Relationship:   flow.Distribute,
			Date:           d.Date,
			Quantity:       l.Amount,
			Value:          l.Amount,
			ResourceTypeID: s.currency,
			ResourceID:     accounts[l.AgentID].ID,
			FromAgentID:    d.ContextAgentID,
			ToAgentID:      l.AgentID,
			ContextAgentID: d.ContextAgentID,
		}
		if err := tx.SaveEvent(ctx, de); err != nil {
			return err
		}
		d.DistributionEventIDs = append(d.DistributionEventIDs, de.ID)

		for _, po := range l.Payouts {
			if po.Claim == nil {
				continue
			}
			if po.New {
				if err := ledger.Insert(ctx, po.Claim); err != nil {
					return err
				}
			}
			if _, err := ledger.ApplyPayout(ctx, po.Claim, po.Amount, de.ID); err != nil {
				return err
			}
		}
		s.spans.AddSpanEvent(ctx, "agent.paid",
			attribute.String("agent_id", l.AgentID),
			attribute.String("amount", l.Amount.String()),
		)
	}
	return tx.SaveDistribution(ctx, d)
}

func (s *Service) transfer(ctx context.Context, from, to AccountRef, amount decimal.Decimal) (TxRef, error) {
	result := vferrors.WithRetryContext(ctx, s.retry, func(ctx context.Context) (TxRef, error) {
		return s.rail.Transfer(ctx, from, to, amount)
	})
	if result.Attempts > 1 {
		s.logger.Debug("transfer retried",
			slog.String("to", to.ID),
			slog.Int("attempts", result.Attempts),
		)
	}
	return result.Value, result.Err
}

// reverse undoes completed transfers, newest first. Failures are logged;
// the run has already failed.
func (s *Service) reverse(ctx context.Context, transfers []TxRef, logger *slog.Logger) {
	if len(transfers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logger.Info("reversing transfers", slog.Int("count", len(transfers)))
	for i := len(transfers) - 1; i >= 0; i-- {
		t := transfers[i]
		_, err := s.transfer(ctx, AccountRef{ID: t.To}, AccountRef{ID: t.From}, t.Amount)
		if err != nil {
			logger.Error("transfer reversal failed",
				slog.String("transfer_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
