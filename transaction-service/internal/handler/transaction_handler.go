package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TransactionCommander defines the write-side operations used by TransactionHandler.
type TransactionCommander interface {
	Transfer(context.Context, cqrs.TransferCommand) (*models.Transaction, error)
	Deposit(context.Context, cqrs.DepositCommand) (*models.Transaction, error)
	Withdraw(context.Context, cqrs.WithdrawCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.Transaction, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) ([]models.Transaction, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
}

type TransferRequest struct {
	OwnerID    string          `json:"ownerId" validate:"required"`
	ReceiverID string          `json:"receiverId" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

type SingleAccountRequest struct {
	OwnerID string          `json:"ownerId" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

type ListTransactionsResponse struct {
	Transactions []models.Transaction `json:"transactions"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

func (h *TransactionHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !bindAndValidate(c, &req) {
		return
	}

	transaction, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		OwnerID:    req.OwnerID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transaction)
}

func (h *TransactionHandler) Deposit(c *gin.Context) {
	var req SingleAccountRequest
	if !bindAndValidate(c, &req) {
		return
	}

	transaction, err := h.commands.Deposit(c.Request.Context(), cqrs.DepositCommand{
		OwnerID: req.OwnerID,
		Amount:  req.Amount,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transaction)
}

func (h *TransactionHandler) Withdraw(c *gin.Context) {
	var req SingleAccountRequest
	if !bindAndValidate(c, &req) {
		return
	}

	transaction, err := h.commands.Withdraw(c.Request.Context(), cqrs.WithdrawCommand{
		OwnerID: req.OwnerID,
		Amount:  req.Amount,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transaction)
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	accountID := c.Query("accNo")
	if accountID == "" {
		middleware.RespondWithError(c, http.StatusBadRequest, "accNo query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	txs, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{
		AccountID: accountID,
		Limit:     limit,
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: txs})
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	transaction, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		TransacID: c.Param("transacId"),
	})
	if err != nil {
		middleware.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}
