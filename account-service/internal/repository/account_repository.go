package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/lib/pq"
)

// ApplyMode selects how a balance update changes the stored balance.
type ApplyMode string

const (
	// ApplyDelta adds the signed delta to the current balance.
	ApplyDelta ApplyMode = "delta"
	// ApplySnapshot overwrites the balance with the value carried in the update.
	ApplySnapshot ApplyMode = "snapshot"
)

const accountColumns = `account_id, customer_id, balance, currency, created_at, updated_at`

// AccountWriteRepository handles all state-mutating operations for accounts.
// It operates exclusively against the PostgreSQL write store (source of truth).
type AccountWriteRepository struct {
	db *sql.DB
}

func NewAccountWriteRepository(db *sql.DB) *AccountWriteRepository {
	return &AccountWriteRepository{db: db}
}

func (r *AccountWriteRepository) Create(ctx context.Context, account *models.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.AccountID, account.CustomerID, account.Balance, account.Currency,
		account.CreatedAt, account.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: account %s", apperr.ErrDuplicate, account.AccountID)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *AccountWriteRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
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
	return account, nil
}

// ApplyBalanceUpdate records u in applied_balance_updates and changes the
// balance in the same database transaction. When (transacId, accountId) was
// already recorded nothing changes and applied is false.
func (r *AccountWriteRepository) ApplyBalanceUpdate(ctx context.Context, u models.BalanceUpdate, mode ApplyMode) (account *models.Account, applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO applied_balance_updates (transac_id, account_id)
		SELECT $1::text, account_id FROM accounts WHERE account_id = $2
		ON CONFLICT (transac_id, account_id) DO NOTHING
	`, u.TransacID, u.AccountID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record balance update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		// Either a redelivery or an unknown account; the SELECT below tells them apart.
		if _, err := r.GetByID(ctx, u.AccountID); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	var set string
	var value any
	switch mode {
	case ApplySnapshot:
		set, value = "balance = $2", u.Balance
	default:
		set, value = "balance = balance + $2", u.Delta
	}
	account, err = scanAccount(tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET `+set+`, updated_at = NOW()
		WHERE account_id = $1
		RETURNING `+accountColumns,
		u.AccountID, value,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit balance update: %w", err)
	}
	return account, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.AccountID, &a.CustomerID, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
