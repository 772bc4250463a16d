package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Deathrow002/Core-Banking/account-service/internal/repository"
	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConsumerGroup is shared by every account-service instance so that each
// balance update is applied by exactly one of them.
const ConsumerGroup = "account-service"

var balanceUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "core_banking_balance_updates_total",
	Help: "Balance updates consumed by the account service, by outcome.",
}, []string{"outcome"})

// AccountStore is the write side of the account service.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	ApplyBalanceUpdate(ctx context.Context, u models.BalanceUpdate, mode repository.ApplyMode) (*models.Account, bool, error)
}

// AccountViewCache refreshes the read model after a write.
type AccountViewCache interface {
	CacheAccount(ctx context.Context, payload *models.AccountPayload)
}

// AccountCommandService writes account state and keeps the read model in sync.
type AccountCommandService struct {
	store  AccountStore
	cache  AccountViewCache
	mode   repository.ApplyMode
	logger *slog.Logger
	now    func() time.Time
}

// balanceScale matches the NUMERIC(38, 18) balance column.
const balanceScale = 18

func NewAccountCommandService(store AccountStore, cache AccountViewCache, mode repository.ApplyMode, logger *slog.Logger) *AccountCommandService {
	if mode == "" {
		mode = repository.ApplyDelta
	}
	return &AccountCommandService{
		store:  store,
		cache:  cache,
		mode:   mode,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccountCommandService) CreateAccount(ctx context.Context, cmd cqrs.CreateAccountCommand) (*models.Account, error) {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", apperr.ErrInvalidAccount)
	}
	if cmd.Balance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance %s", apperr.ErrInvalidAmount, cmd.Balance)
	}
	if !cmd.Balance.Equal(cmd.Balance.Truncate(balanceScale)) {
		return nil, fmt.Errorf("%w: opening balance %s has more than %d decimal places", apperr.ErrInvalidAmount, cmd.Balance, balanceScale)
	}

	now := s.now()
	account := &models.Account{
		AccountID:  uuid.NewString(),
		CustomerID: cmd.CustomerID,
		Balance:    cmd.Balance,
		Currency:   strings.ToUpper(cmd.Currency),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, account); err != nil {
		return nil, err
	}

	payload := account.Payload()
	s.cache.CacheAccount(ctx, &payload)
	s.logger.Info("account created", "account_id", account.AccountID, "customer_id", account.CustomerID)
	return account, nil
}

// HandleBalanceUpdate applies one BalanceUpdate delivered on the bus.
// Redeliveries of the same (transacId, accountId) are skipped. Messages that
// can never succeed are dropped; only infrastructure errors are returned so
// the broker can redeliver.
func (s *AccountCommandService) HandleBalanceUpdate(ctx context.Context, d events.Delivery) error {
	var u models.BalanceUpdate
	if err := d.Decode(&u); err != nil {
		balanceUpdatesTotal.WithLabelValues("rejected").Inc()
		s.logger.Error("dropping malformed balance update", "message_id", d.MessageID, "error", err)
		return nil
	}
	if u.TransacID == "" || u.AccountID == "" {
		balanceUpdatesTotal.WithLabelValues("rejected").Inc()
		s.logger.Error("dropping balance update without ids", "message_id", d.MessageID)
		return nil
	}

	account, applied, err := s.store.ApplyBalanceUpdate(ctx, u, s.mode)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		balanceUpdatesTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("balance update for unknown account", "transac_id", u.TransacID, "account_id", u.AccountID)
		return nil
	case err != nil:
		balanceUpdatesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("apply balance update %s/%s: %w", u.TransacID, u.AccountID, err)
	case !applied:
		balanceUpdatesTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("balance update already applied, skipping", "transac_id", u.TransacID, "account_id", u.AccountID)
		return nil
	}

	if account.Balance.IsNegative() {
		s.logger.Warn("account balance is negative after update",
			"account_id", account.AccountID,
			"balance", account.Balance.String(),
		)
	}

	payload := account.Payload()
	s.cache.CacheAccount(ctx, &payload)
	balanceUpdatesTotal.WithLabelValues("applied").Inc()
	s.logger.Info("balance updated",
		"transac_id", u.TransacID,
		"account_id", u.AccountID,
		"mode", s.mode,
		"delta", u.Delta.String(),
		"balance", account.Balance.String(),
	)
	return nil
}

// Subscriber is the part of the transport the consumer needs.
type Subscriber interface {
	Subscribe(ctx context.Context, sub events.Subscription, h events.Handler) error
}

// ConsumeBalanceUpdates blocks, applying balance updates until ctx is
// cancelled.
func (s *AccountCommandService) ConsumeBalanceUpdates(ctx context.Context, sub Subscriber, consumer string) error {
	s.logger.Info("balance update consumer started", "group", ConsumerGroup, "consumer", consumer, "mode", s.mode)
	return sub.Subscribe(ctx, events.Subscription{
		Channel:  events.BalanceUpdateChannel,
		Group:    ConsumerGroup,
		Consumer: consumer,
	}, s.HandleBalanceUpdate)
}
