package cqrs

import "github.com/shopspring/decimal"

// TransferCommand moves Amount from OwnerID to ReceiverID.
type TransferCommand struct {
	OwnerID    string
	ReceiverID string
	Amount     decimal.Decimal
}

type DepositCommand struct {
	OwnerID string
	Amount  decimal.Decimal
}

type WithdrawCommand struct {
	OwnerID string
	Amount  decimal.Decimal
}

type CreateAccountCommand struct {
	CustomerID string
	Balance    decimal.Decimal
	Currency   string
}
