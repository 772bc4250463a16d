package cqrs

// ---------- Account queries ----------

// GetAccountQuery fetches a single account snapshot by id.
type GetAccountQuery struct {
	AccountID string
}

// ---------- Transaction queries ----------

// GetTransactionQuery fetches a single transaction.
type GetTransactionQuery struct {
	TransacID string
}

// ListTransactionsQuery fetches every transaction an account took part in,
// as owner or receiver, newest first.
type ListTransactionsQuery struct {
	AccountID string
	Limit     int
}
