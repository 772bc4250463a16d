// Package apperr holds the error kinds shared by every service. Each layer
// wraps one of these with fmt.Errorf("%w: ...") and callers classify the
// result with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidAccount is returned when an account fails its existence check
	// or cannot be fetched.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrInsufficientFunds is returned when a debit would exceed the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrGatewayTimeout is returned when a bus round trip exceeds its deadline.
	ErrGatewayTimeout = errors.New("gateway timeout")

	// ErrGatewayUnavailable is returned when the remote service cannot be reached.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrEncodingFailure is returned when a payload cannot be serialised,
	// encrypted, decrypted or parsed.
	ErrEncodingFailure = errors.New("encoding failure")

	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// HTTPStatus maps an error to the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is a validation or business-rule failure
// rather than an infrastructure one.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNotFound)
}
