package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	orchestrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_banking_orchestrations_total",
		Help: "Transfer, deposit and withdraw orchestrations by type and outcome.",
	}, []string{"type", "outcome"})

	orchestrationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "core_banking_orchestration_duration_seconds",
		Help:    "End-to-end orchestration latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

// AccountGateway is how the orchestrator reaches the account service.
type AccountGateway interface {
	IsAccountValid(ctx context.Context, accountID string) (bool, error)
	// GetAccountDetail returns nil without error when the account does not exist.
	GetAccountDetail(ctx context.Context, accountID string) (*models.AccountPayload, error)
	PublishBalanceUpdate(ctx context.Context, update models.BalanceUpdate) error
}

// TransactionStore persists ledger records and their saga status.
type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	MarkApplied(ctx context.Context, transacID string, at time.Time) error
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

// TransactionViewCache refreshes the read model after a write.
type TransactionViewCache interface {
	CacheTransaction(ctx context.Context, t *models.Transaction)
}

// TransactionCommandService runs the transfer, deposit and withdraw
// pipelines: validate, fetch, compute, persist as Pending, publish, mark
// Applied. Nothing is rolled back on failure; a record left Pending is
// picked up by the RecoverySweeper.
type TransactionCommandService struct {
	store   TransactionStore
	cache   TransactionViewCache
	gateway AccountGateway
	logger  *slog.Logger
	now     func() time.Time
}

func NewTransactionCommandService(
	store TransactionStore,
	cache TransactionViewCache,
	gateway AccountGateway,
	logger *slog.Logger,
) *TransactionCommandService {
	return &TransactionCommandService{
		store:   store,
		cache:   cache,
		gateway: gateway,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *TransactionCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (t *models.Transaction, err error) {
	defer s.observe(models.TransactionTransfer, time.Now(), &err)

	if err := checkAmount(cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.OwnerID == cmd.ReceiverID {
		return nil, fmt.Errorf("%w: cannot transfer to the same account %s", apperr.ErrInvalidAccount, cmd.OwnerID)
	}

	owner, err := s.loadAccount(ctx, cmd.OwnerID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.loadAccount(ctx, cmd.ReceiverID)
	if err != nil {
		return nil, err
	}
	if owner.Balance.LessThan(cmd.Amount) {
		return nil, fmt.Errorf("%w: account %s", apperr.ErrInsufficientFunds, owner.AccountID)
	}

	owner.Balance = owner.Balance.Sub(cmd.Amount)
	receiver.Balance = receiver.Balance.Add(cmd.Amount)

	receiverID := receiver.AccountID
	t = s.newTransaction(models.TransactionTransfer, owner.AccountID, &receiverID, cmd.Amount)
	t.Legs = []models.BalanceUpdate{
		leg(t.TransacID, owner, cmd.Amount.Neg()),
		leg(t.TransacID, receiver, cmd.Amount),
	}
	return s.commit(ctx, t)
}

func (s *TransactionCommandService) Deposit(ctx context.Context, cmd cqrs.DepositCommand) (t *models.Transaction, err error) {
	defer s.observe(models.TransactionDeposit, time.Now(), &err)

	if err := checkAmount(cmd.Amount); err != nil {
		return nil, err
	}
	owner, err := s.loadAccount(ctx, cmd.OwnerID)
	if err != nil {
		return nil, err
	}

	owner.Balance = owner.Balance.Add(cmd.Amount)

	t = s.newTransaction(models.TransactionDeposit, owner.AccountID, nil, cmd.Amount)
	t.Legs = []models.BalanceUpdate{leg(t.TransacID, owner, cmd.Amount)}
	return s.commit(ctx, t)
}

func (s *TransactionCommandService) Withdraw(ctx context.Context, cmd cqrs.WithdrawCommand) (t *models.Transaction, err error) {
	defer s.observe(models.TransactionWithdraw, time.Now(), &err)

	if err := checkAmount(cmd.Amount); err != nil {
		return nil, err
	}
	owner, err := s.loadAccount(ctx, cmd.OwnerID)
	if err != nil {
		return nil, err
	}
	if owner.Balance.LessThan(cmd.Amount) {
		return nil, fmt.Errorf("%w: account %s", apperr.ErrInsufficientFunds, owner.AccountID)
	}

	owner.Balance = owner.Balance.Sub(cmd.Amount)

	t = s.newTransaction(models.TransactionWithdraw, owner.AccountID, nil, cmd.Amount)
	t.Legs = []models.BalanceUpdate{leg(t.TransacID, owner, cmd.Amount.Neg())}
	return s.commit(ctx, t)
}

// loadAccount validates then fetches. The returned payload is a private copy
// the caller may mutate.
func (s *TransactionCommandService) loadAccount(ctx context.Context, accountID string) (*models.AccountPayload, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", apperr.ErrInvalidAccount)
	}

	valid, err := s.gateway.IsAccountValid(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("validate account %s: %w", accountID, err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: account %s failed validation", apperr.ErrInvalidAccount, accountID)
	}

	account, err := s.gateway.GetAccountDetail(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: account %s not found", apperr.ErrInvalidAccount, accountID)
	}
	return account, nil
}

func (s *TransactionCommandService) newTransaction(typ models.TransactionType, ownerID string, receiverID *string, amount decimal.Decimal) *models.Transaction {
	now := s.now()
	return &models.Transaction{
		TransacID:         uuid.NewString(),
		OwnerAccountID:    ownerID,
		ReceiverAccountID: receiverID,
		Amount:            amount,
		Type:              typ,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// commit persists t as Pending and then publishes its legs.
func (s *TransactionCommandService) commit(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}
	s.cache.CacheTransaction(ctx, t)

	if _, err := s.applyLegs(ctx, t); err != nil {
		return nil, fmt.Errorf("transaction %s recorded as pending: %w", t.TransacID, err)
	}
	return t, nil
}

// applyLegs publishes every leg and flips t to Applied once all of them are
// acknowledged. marked reports whether the flip was stored. A failed flip is
// logged only: the updates are already out and the sweeper will re-mark the
// record.
func (s *TransactionCommandService) applyLegs(ctx context.Context, t *models.Transaction) (marked bool, err error) {
	for _, l := range t.Legs {
		if err := s.gateway.PublishBalanceUpdate(ctx, l); err != nil {
			s.logger.Error("balance update not published",
				"transac_id", t.TransacID,
				"account_id", l.AccountID,
				"error", err,
			)
			return false, fmt.Errorf("publish balance update for %s: %w", l.AccountID, err)
		}
	}

	now := s.now()
	if err := s.store.MarkApplied(ctx, t.TransacID, now); err != nil {
		s.logger.Error("failed to mark transaction applied", "transac_id", t.TransacID, "error", err)
		return false, nil
	}
	t.Status = models.StatusApplied
	t.UpdatedAt = now
	s.cache.CacheTransaction(ctx, t)
	return true, nil
}

func (s *TransactionCommandService) observe(typ models.TransactionType, start time.Time, errp *error) {
	orchestrationDuration.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())
	outcome := outcomeOf(*errp)
	orchestrationsTotal.WithLabelValues(string(typ), outcome).Inc()

	if *errp != nil {
		level := slog.LevelError
		if apperr.IsClientError(*errp) {
			level = slog.LevelInfo
		}
		s.logger.Log(context.Background(), level, "orchestration failed", "type", typ, "outcome", outcome, "error", *errp)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, apperr.ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, apperr.ErrGatewayTimeout):
		return "gateway_timeout"
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, apperr.ErrEncodingFailure):
		return "encoding_failure"
	default:
		return "error"
	}
}

// MoneyScale is the number of fractional digits the ledger stores
// (NUMERIC(38, 18)).
const MoneyScale = 18

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", apperr.ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", apperr.ErrInvalidAmount, amount, MoneyScale)
	}
	return nil
}

func leg(transacID string, account *models.AccountPayload, delta decimal.Decimal) models.BalanceUpdate {
	return models.BalanceUpdate{
		TransacID: transacID,
		AccountID: account.AccountID,
		Delta:     delta,
		Balance:   account.Balance,
		Currency:  account.Currency,
	}
}
