package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/models"
)

// AccountReader is the read side of the account store.
type AccountReader interface {
	GetByID(ctx context.Context, accountID string) (*models.AccountPayload, error)
}

type AccountQueryService struct {
	readRepo AccountReader
}

func NewAccountQueryService(readRepo AccountReader) *AccountQueryService {
	return &AccountQueryService{readRepo: readRepo}
}

// GetAccount returns the account snapshot, or an error wrapping
// apperr.ErrNotFound.
func (s *AccountQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountPayload, error) {
	if strings.TrimSpace(q.AccountID) == "" {
		return nil, fmt.Errorf("%w: empty account id", apperr.ErrNotFound)
	}
	return s.readRepo.GetByID(ctx, q.AccountID)
}

// IsAccountValid reports whether the account exists. Lookup failures other
// than not-found are returned as errors, never as false.
func (s *AccountQueryService) IsAccountValid(ctx context.Context, q cqrs.GetAccountQuery) (bool, error) {
	_, err := s.GetAccount(ctx, q)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
