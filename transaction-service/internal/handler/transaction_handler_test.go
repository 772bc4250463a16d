package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ---- mock implementations ----

type mockTransactionCommander struct {
	transferFn func(context.Context, cqrs.TransferCommand) (*models.Transaction, error)
	depositFn  func(context.Context, cqrs.DepositCommand) (*models.Transaction, error)
	withdrawFn func(context.Context, cqrs.WithdrawCommand) (*models.Transaction, error)
}

func (m *mockTransactionCommander) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
	if m.transferFn != nil {
		return m.transferFn(ctx, cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockTransactionCommander) Deposit(ctx context.Context, cmd cqrs.DepositCommand) (*models.Transaction, error) {
	if m.depositFn != nil {
		return m.depositFn(ctx, cmd)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockTransactionCommander) Withdraw(ctx context.Context, cmd cqrs.WithdrawCommand) (*models.Transaction, error) {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, cmd)
	}
	return nil, fmt.Errorf("not configured")
}

type mockTransactionQuerier struct {
	getFn  func(context.Context, cqrs.GetTransactionQuery) (*models.Transaction, error)
	listFn func(context.Context, cqrs.ListTransactionsQuery) ([]models.Transaction, error)
}

func (m *mockTransactionQuerier) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
	if m.getFn != nil {
		return m.getFn(ctx, q)
	}
	return nil, fmt.Errorf("not configured")
}

func (m *mockTransactionQuerier) ListTransactions(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.Transaction, error) {
	if m.listFn != nil {
		return m.listFn(ctx, q)
	}
	return nil, fmt.Errorf("not configured")
}

// ---- helpers ----

func newTxTestRouter(cmds TransactionCommander, qrys TransactionQuerier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ForwardToken())
	h := NewTransactionHandler(cmds, qrys)
	g := r.Group("/transactions")
	g.POST("/transfer", h.Transfer)
	g.POST("/deposit", h.Deposit)
	g.POST("/withdraw", h.Withdraw)
	g.GET("", h.ListTransactions)
	g.GET("/:transacId", h.GetTransaction)
	return r
}

func txDoRequest(router *gin.Engine, method, url string, body interface{}) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ---- test data ----

var receiverB = "B"

var txTestTransfer = &models.Transaction{
	TransacID: "6f1c2b7e-8d4a-4b5e-9c3f-0a1b2c3d4e5f", OwnerAccountID: "A", ReceiverAccountID: &receiverB,
	Amount: decimal.RequireFromString("30.00"), Type: models.TransactionTransfer, Status: models.StatusApplied,
	CreatedAt: time.Now(), UpdatedAt: time.Now(),
}

var txTestDeposit = &models.Transaction{
	TransacID: "7a2d3c8f-9e5b-4c6f-8d4a-1b2c3d4e5f60", OwnerAccountID: "A",
	Amount: decimal.RequireFromString("50.00"), Type: models.TransactionDeposit, Status: models.StatusApplied,
	CreatedAt: time.Now(), UpdatedAt: time.Now(),
}

// ---- tests ----

func TestTransfer(t *testing.T) {
	tests := []struct {
		name           string
		body           interface{}
		transferFn     func(context.Context, cqrs.TransferCommand) (*models.Transaction, error)
		expectedStatus int
	}{
		{
			name: "success - transfer between accounts",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "30.00"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				if middleware.TokenFromContext(ctx) != "tok" {
					return nil, fmt.Errorf("token not forwarded")
				}
				if !cmd.Amount.Equal(decimal.RequireFromString("30")) || cmd.OwnerID != "A" || cmd.ReceiverID != "B" {
					return nil, fmt.Errorf("unexpected command %+v", cmd)
				}
				return txTestTransfer, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "success - numeric amount",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": 30.5},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return txTestTransfer, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unprocessable entity - insufficient funds",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "1000"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("%w: account A", apperr.ErrInsufficientFunds)
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "bad request - invalid account",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "A", "amount": "1"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("%w: same account", apperr.ErrInvalidAccount)
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "bad request - non-positive amount",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "0"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("%w: got 0", apperr.ErrInvalidAmount)
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "gateway timeout - account service silent",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "1"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("validate account A: %w", apperr.ErrGatewayTimeout)
			},
			expectedStatus: http.StatusGatewayTimeout,
		},
		{
			name: "service unavailable - broker down",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "1"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("transaction recorded as pending: %w", apperr.ErrGatewayUnavailable)
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name: "internal error",
			body: map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "1"},
			transferFn: func(ctx context.Context, cmd cqrs.TransferCommand) (*models.Transaction, error) {
				return nil, fmt.Errorf("db down")
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "bad request - missing required fields",
			body:           map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad request - malformed amount",
			body:           map[string]interface{}{"ownerId": "A", "receiverId": "B", "amount": "thirty"},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &mockTransactionCommander{transferFn: tt.transferFn}
			router := newTxTestRouter(cmds, &mockTransactionQuerier{})
			w := txDoRequest(router, http.MethodPost, "/transactions/transfer", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		body           interface{}
		cmds           *mockTransactionCommander
		expectedStatus int
	}{
		{
			name: "success - deposit",
			url:  "/transactions/deposit",
			body: map[string]interface{}{"ownerId": "A", "amount": "50.00"},
			cmds: &mockTransactionCommander{depositFn: func(ctx context.Context, cmd cqrs.DepositCommand) (*models.Transaction, error) {
				return txTestDeposit, nil
			}},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "success - withdraw",
			url:  "/transactions/withdraw",
			body: map[string]interface{}{"ownerId": "A", "amount": "5"},
			cmds: &mockTransactionCommander{withdrawFn: func(ctx context.Context, cmd cqrs.WithdrawCommand) (*models.Transaction, error) {
				return txTestDeposit, nil
			}},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "unprocessable entity - withdraw insufficient funds",
			url:  "/transactions/withdraw",
			body: map[string]interface{}{"ownerId": "A", "amount": "25.00"},
			cmds: &mockTransactionCommander{withdrawFn: func(ctx context.Context, cmd cqrs.WithdrawCommand) (*models.Transaction, error) {
				return nil, apperr.ErrInsufficientFunds
			}},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "bad request - deposit without owner",
			url:            "/transactions/deposit",
			body:           map[string]interface{}{"amount": "5"},
			cmds:           &mockTransactionCommander{},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTxTestRouter(tt.cmds, &mockTransactionQuerier{})
			w := txDoRequest(router, http.MethodPost, tt.url, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestListTransactions(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		listFn         func(context.Context, cqrs.ListTransactionsQuery) ([]models.Transaction, error)
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "success - list account transactions",
			url:  "/transactions?accNo=A",
			listFn: func(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.Transaction, error) {
				return []models.Transaction{*txTestTransfer, *txTestDeposit}, nil
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name: "success - empty list",
			url:  "/transactions?accNo=Z&limit=5",
			listFn: func(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.Transaction, error) {
				if q.Limit != 5 {
					return nil, fmt.Errorf("limit not passed")
				}
				return []models.Transaction{}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad request - missing accNo",
			url:            "/transactions",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "internal error",
			url:  "/transactions?accNo=A",
			listFn: func(ctx context.Context, q cqrs.ListTransactionsQuery) ([]models.Transaction, error) {
				return nil, fmt.Errorf("db down")
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTxTestRouter(&mockTransactionCommander{}, &mockTransactionQuerier{listFn: tt.listFn})
			w := txDoRequest(router, http.MethodGet, tt.url, nil)
			if w.Code != tt.expectedStatus {
				t.Fatalf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if w.Code == http.StatusOK {
				var resp ListTransactionsResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if len(resp.Transactions) != tt.expectedCount {
					t.Errorf("expected %d transactions, got %d", tt.expectedCount, len(resp.Transactions))
				}
			}
		})
	}
}

func TestGetTransaction(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		getFn          func(context.Context, cqrs.GetTransactionQuery) (*models.Transaction, error)
		expectedStatus int
	}{
		{
			name: "success - get transaction",
			id:   txTestTransfer.TransacID,
			getFn: func(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
				return txTestTransfer, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "not found",
			id:   "missing",
			getFn: func(ctx context.Context, q cqrs.GetTransactionQuery) (*models.Transaction, error) {
				return nil, fmt.Errorf("%w: transaction missing", apperr.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTxTestRouter(&mockTransactionCommander{}, &mockTransactionQuerier{getFn: tt.getFn})
			w := txDoRequest(router, http.MethodGet, "/transactions/"+tt.id, nil)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}
