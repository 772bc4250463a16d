package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/models"
	sharedredis "github.com/Deathrow002/Core-Banking/shared/redis"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

const (
	transactionViewKeyPrefix = "transaction:view:"
	defaultListLimit         = 100
)

// TransactionReadRepository handles all read operations for transactions.
// It uses Redis as the primary read store, falling back to PostgreSQL on a miss.
type TransactionReadRepository struct {
	pool  *pgxpool.Pool
	cache *sharedredis.ViewCache[models.Transaction]
}

func NewTransactionReadRepository(pool *pgxpool.Pool, redisClient *goredis.Client, logger *slog.Logger) *TransactionReadRepository {
	return &TransactionReadRepository{
		pool:  pool,
		cache: sharedredis.NewViewCache[models.Transaction](redisClient, transactionViewKeyPrefix, 0, logger),
	}
}

// GetByID returns a transaction by attempting Redis first, then PostgreSQL.
func (r *TransactionReadRepository) GetByID(ctx context.Context, transacID string) (*models.Transaction, error) {
	if view, ok := r.cache.Get(ctx, transacID); ok {
		return view, nil
	}

	row, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE transac_id = $1
	`, transacID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(row, scanTransaction)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, transacID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	// Warm the cache
	r.CacheTransaction(ctx, &t)
	return &t, nil
}

// ListByAccount returns transactions where the account is owner or receiver,
// newest first.
func (r *TransactionReadRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_account_id = $1 OR receiver_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return txs, nil
}

// CacheTransaction stores the read model for a transaction in Redis.
// Called by the command side after every write.
func (r *TransactionReadRepository) CacheTransaction(ctx context.Context, t *models.Transaction) {
	r.cache.Set(ctx, t.TransacID, t)
}
