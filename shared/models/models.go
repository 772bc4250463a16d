package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountPayload is the account snapshot carried across the bus and returned
// by the account query endpoint. It is never the authoritative record.
type AccountPayload struct {
	AccountID  string          `json:"accountId"`
	CustomerID string          `json:"customerId"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency"`
}

type Account struct {
	AccountID  string          `json:"accountId"`
	CustomerID string          `json:"customerId"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency"`
	CreatedAt  time.Time       `json:"createdTimestamp"`
	UpdatedAt  time.Time       `json:"updatedTimestamp"`
}

func (a *Account) Payload() AccountPayload {
	return AccountPayload{
		AccountID:  a.AccountID,
		CustomerID: a.CustomerID,
		Balance:    a.Balance,
		Currency:   a.Currency,
	}
}

type TransactionType string

const (
	TransactionTransfer TransactionType = "Transfer"
	TransactionDeposit  TransactionType = "Deposit"
	TransactionWithdraw TransactionType = "Withdraw"
)

type TransactionStatus string

const (
	// StatusPending means the record is persisted but at least one balance
	// update has not been acknowledged by the bus.
	StatusPending TransactionStatus = "Pending"
	StatusApplied TransactionStatus = "Applied"
)

// BalanceUpdate is one leg of a transaction as published to the account
// service. Delta is signed; Balance is the snapshot computed by the
// orchestrator.
type BalanceUpdate struct {
	TransacID string          `json:"transacId"`
	AccountID string          `json:"accountId"`
	Delta     decimal.Decimal `json:"delta"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
}

// Transaction is the ledger record owned by the transaction service.
// Append-only apart from the Pending -> Applied status flip.
type Transaction struct {
	TransacID         string            `json:"transacId"`
	OwnerAccountID    string            `json:"ownerAccountId"`
	ReceiverAccountID *string           `json:"receiverAccountId"`
	Amount            decimal.Decimal   `json:"amount"`
	Type              TransactionType   `json:"type"`
	Status            TransactionStatus `json:"status"`
	Legs              []BalanceUpdate   `json:"-"`
	CreatedAt         time.Time         `json:"createdTimestamp"`
	UpdatedAt         time.Time         `json:"updatedTimestamp"`
}
