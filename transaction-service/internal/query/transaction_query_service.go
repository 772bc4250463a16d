package query

import (
	"context"
	"fmt"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/Deathrow002/Core-Banking/shared/utils"
)

// TransactionReader is the read side of the ledger.
type TransactionReader interface {
	GetByID(ctx context.Context, transacID string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)
}

// TransactionQueryService serves transaction reads from the Redis read model,
// falling back to PostgreSQL.
type TransactionQueryService struct {
	readRepo TransactionReader
}

func NewTransactionQueryService(readRepo TransactionReader) *TransactionQueryService {
	return &TransactionQueryService{readRepo: readRepo}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
	if !utils.ValidateUUID(q.TransacID) {
		return nil, fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, q.TransacID)
	}
	return s.readRepo.GetByID(ctx, q.TransacID)
}

// ListTransactions returns every transaction the account took part in,
// newest first.
func (s *TransactionQueryService) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.Transaction, error) {
	if q.AccountID == "" {
		return nil, fmt.Errorf("%w: account id required", apperr.ErrInvalidAccount)
	}
	txs, err := s.readRepo.ListByAccount(ctx, q.AccountID, q.Limit)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}
