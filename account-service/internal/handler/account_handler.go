package handler

import (
	"context"
	"net/http"

	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	CreateAccount(context.Context, cqrs.CreateAccountCommand) (*models.Account, error)
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountPayload, error)
	IsAccountValid(context.Context, cqrs.GetAccountQuery) (bool, error)
}

// AccountHandler handles account-related HTTP requests.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
}

type CreateAccountRequest struct {
	CustomerID string          `json:"customerId" validate:"required"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency" validate:"required,len=3"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	account, err := h.commands.CreateAccount(c.Request.Context(), cqrs.CreateAccountCommand{
		CustomerID: req.CustomerID,
		Balance:    req.Balance,
		Currency:   req.Currency,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// GetAccount answers GET /accounts/getAccount?accNo=.
func (h *AccountHandler) GetAccount(c *gin.Context) {
	account, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{AccountID: c.Query("accNo")})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// ValidateAccount answers GET /accounts/validateAccount?accNo= with a bare
// boolean body: 200 true or 404 false.
func (h *AccountHandler) ValidateAccount(c *gin.Context) {
	valid, err := h.queries.IsAccountValid(c.Request.Context(), cqrs.GetAccountQuery{AccountID: c.Query("accNo")})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	if !valid {
		c.JSON(http.StatusNotFound, false)
		return
	}
	c.JSON(http.StatusOK, true)
}
