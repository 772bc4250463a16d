package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/models"
	sharedredis "github.com/Deathrow002/Core-Banking/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const accountViewKeyPrefix = "account:view:"

// AccountReadRepository serves account snapshots from Redis and falls back to
// PostgreSQL, warming the cache on every cold read.
type AccountReadRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.AccountPayload]
}

func NewAccountReadRepository(db *sql.DB, redisClient *goredis.Client, ttl time.Duration, logger *slog.Logger) *AccountReadRepository {
	return &AccountReadRepository{
		db:    db,
		cache: sharedredis.NewViewCache[models.AccountPayload](redisClient, accountViewKeyPrefix, ttl, logger),
	}
}

func (r *AccountReadRepository) GetByID(ctx context.Context, accountID string) (*models.AccountPayload, error) {
	if view, ok := r.cache.Get(ctx, accountID); ok {
		return view, nil
	}

	account, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE account_id = $1
	`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", apperr.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	payload := account.Payload()
	r.CacheAccount(ctx, &payload)
	return &payload, nil
}

// CacheAccount stores or refreshes the Redis snapshot of an account.
func (r *AccountReadRepository) CacheAccount(ctx context.Context, payload *models.AccountPayload) {
	r.cache.Set(ctx, payload.AccountID, payload)
}
