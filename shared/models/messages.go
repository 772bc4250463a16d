package models

// AccountRequest is the body of a bus request about a single account.
type AccountRequest struct {
	AccountID string `json:"accountId"`
}

// AccountDetailReply answers an account-detail request. Found is false when
// the account does not exist; Account is nil in that case.
type AccountDetailReply struct {
	Found   bool            `json:"found"`
	Account *AccountPayload `json:"account,omitempty"`
}

// Validation replies travel as the strings "true" and "false".
const (
	ReplyTrue  = "true"
	ReplyFalse = "false"
)
