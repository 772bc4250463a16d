package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// TransactionWriteRepository owns every state change to the ledger. It is
// the source of truth; the Redis view is refreshed by the command side.
type TransactionWriteRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionWriteRepository(pool *pgxpool.Pool) *TransactionWriteRepository {
	return &TransactionWriteRepository{pool: pool}
}

// Create inserts the record together with its legs in one database
// transaction.
func (r *TransactionWriteRepository) Create(ctx context.Context, t *models.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (transac_id, owner_account_id, receiver_account_id, amount, type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`,
		t.TransacID, t.OwnerAccountID, t.ReceiverAccountID,
		t.Amount.String(), string(t.Type), string(t.Status),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: transaction %s", apperr.ErrDuplicate, t.TransacID)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	batch := &pgx.Batch{}
	for i, leg := range t.Legs {
		batch.Queue(`
			INSERT INTO transaction_legs (transac_id, seq, account_id, delta, balance, currency)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		`, t.TransacID, i, leg.AccountID, leg.Delta.String(), leg.Balance.String(), leg.Currency)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to create transaction legs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkApplied flips a Pending record to Applied. Already-applied records are
// left alone.
func (r *TransactionWriteRepository) MarkApplied(ctx context.Context, transacID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = $3
		WHERE transac_id = $1 AND status = $4
	`, transacID, string(models.StatusApplied), at, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark transaction applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE transac_id = $1)`, transacID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check transaction: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: transaction %s", apperr.ErrNotFound, transacID)
		}
	}
	return nil
}

// ListPending returns Pending records created before olderThan, oldest first,
// with their legs loaded.
func (r *TransactionWriteRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, string(models.StatusPending), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending transactions: %w", err)
	}
	if len(txs) == 0 {
		return txs, nil
	}

	ids := make([]string, len(txs))
	index := make(map[string]int, len(txs))
	for i, t := range txs {
		ids[i] = t.TransacID
		index[t.TransacID] = i
	}

	legRows, err := r.pool.Query(ctx, `
		SELECT transac_id::text, account_id, delta::text, balance::text, currency
		FROM transaction_legs
		WHERE transac_id = ANY($1::uuid[])
		ORDER BY transac_id, seq
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction legs: %w", err)
	}
	defer legRows.Close()

	for legRows.Next() {
		var (
			leg            models.BalanceUpdate
			delta, balance string
		)
		if err := legRows.Scan(&leg.TransacID, &leg.AccountID, &delta, &balance, &leg.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan transaction leg: %w", err)
		}
		if leg.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("bad leg delta %q: %w", delta, err)
		}
		if leg.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("bad leg balance %q: %w", balance, err)
		}
		i := index[leg.TransacID]
		txs[i].Legs = append(txs[i].Legs, leg)
	}
	if err := legRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transaction legs: %w", err)
	}
	return txs, nil
}

const transactionColumns = `transac_id::text, owner_account_id, receiver_account_id, amount::text, type, status, created_at, updated_at`

func scanTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var (
		t              models.Transaction
		amount         string
		txType, status string
	)
	if err := row.Scan(
		&t.TransacID, &t.OwnerAccountID, &t.ReceiverAccountID,
		&amount, &txType, &status,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return t, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return t, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	t.Amount = d
	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	return t, nil
}
