package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Deathrow002/Core-Banking/account-service/internal/repository"
	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/envelope"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/events/eventstest"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	applied  map[[2]string]bool
	applyErr error
	created  []models.Account
}

func newFakeStore(accounts ...models.Account) *fakeStore {
	s := &fakeStore{accounts: map[string]models.Account{}, applied: map[[2]string]bool{}}
	for _, a := range accounts {
		s.accounts[a.AccountID] = a
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.AccountID]; ok {
		return apperr.ErrDuplicate
	}
	s.accounts[a.AccountID] = *a
	s.created = append(s.created, *a)
	return nil
}

func (s *fakeStore) ApplyBalanceUpdate(_ context.Context, u models.BalanceUpdate, mode repository.ApplyMode) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return nil, false, s.applyErr
	}
	a, ok := s.accounts[u.AccountID]
	if !ok {
		return nil, false, fmt.Errorf("%w: account %s", apperr.ErrNotFound, u.AccountID)
	}
	key := [2]string{u.TransacID, u.AccountID}
	if s.applied[key] {
		return nil, false, nil
	}
	s.applied[key] = true
	if mode == repository.ApplySnapshot {
		a.Balance = u.Balance
	} else {
		a.Balance = a.Balance.Add(u.Delta)
	}
	s.accounts[u.AccountID] = a
	return &a, true, nil
}

func (s *fakeStore) balance(id string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

type fakeCache struct {
	mu     sync.Mutex
	cached map[string]models.AccountPayload
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{cached: map[string]models.AccountPayload{}}
}

func (c *fakeCache) CacheAccount(_ context.Context, p *models.AccountPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached[p.AccountID] = *p
	c.sets++
}

func (c *fakeCache) get(id string) (models.AccountPayload, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached[id], c.sets
}

// ---- helpers ----

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAccount(id, balance string) models.Account {
	return models.Account{AccountID: id, CustomerID: "cus-" + id, Balance: dec(balance), Currency: "THB"}
}

func delivery(t *testing.T, u models.BalanceUpdate) events.Delivery {
	t.Helper()
	body, err := json.Marshal(u)
	require.NoError(t, err)
	return events.Delivery{Channel: events.BalanceUpdateChannel, MessageID: "1-0", Body: body}
}

// ---- tests ----

func TestHandleBalanceUpdate_DeltaAppliedOnce(t *testing.T) {
	store := newFakeStore(testAccount("A", "100"))
	cache := newFakeCache()
	svc := NewAccountCommandService(store, cache, repository.ApplyDelta, discardLogger())

	u := models.BalanceUpdate{TransacID: "tx-1", AccountID: "A", Delta: dec("-30"), Balance: dec("70"), Currency: "THB"}
	require.NoError(t, svc.HandleBalanceUpdate(context.Background(), delivery(t, u)))
	require.NoError(t, svc.HandleBalanceUpdate(context.Background(), delivery(t, u)))

	assert.True(t, store.balance("A").Equal(dec("70")), "got %s", store.balance("A"))
	cached, sets := cache.get("A")
	assert.Equal(t, 1, sets)
	assert.True(t, cached.Balance.Equal(dec("70")))
}

func TestHandleBalanceUpdate_Modes(t *testing.T) {
	// The account moved to 120 after the orchestrator took its snapshot of 100.
	tests := []struct {
		name string
		mode repository.ApplyMode
		want string
	}{
		{name: "delta keeps the concurrent change", mode: repository.ApplyDelta, want: "90"},
		{name: "snapshot overwrites it", mode: repository.ApplySnapshot, want: "70"},
		{name: "empty mode defaults to delta", mode: "", want: "90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(testAccount("A", "120"))
			svc := NewAccountCommandService(store, newFakeCache(), tt.mode, discardLogger())

			u := models.BalanceUpdate{TransacID: "tx-1", AccountID: "A", Delta: dec("-30"), Balance: dec("70"), Currency: "THB"}
			require.NoError(t, svc.HandleBalanceUpdate(context.Background(), delivery(t, u)))
			assert.True(t, store.balance("A").Equal(dec(tt.want)), "got %s", store.balance("A"))
		})
	}
}

func TestHandleBalanceUpdate_DropsWhatCannotSucceed(t *testing.T) {
	tests := []struct {
		name string
		d    func(t *testing.T) events.Delivery
	}{
		{
			name: "malformed body",
			d: func(*testing.T) events.Delivery {
				return events.Delivery{Channel: events.BalanceUpdateChannel, Body: []byte("{not json")}
			},
		},
		{
			name: "missing transaction id",
			d: func(t *testing.T) events.Delivery {
				return delivery(t, models.BalanceUpdate{AccountID: "A", Delta: dec("1")})
			},
		},
		{
			name: "unknown account",
			d: func(t *testing.T) events.Delivery {
				return delivery(t, models.BalanceUpdate{TransacID: "tx-1", AccountID: "Z", Delta: dec("1")})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(testAccount("A", "100"))
			cache := newFakeCache()
			svc := NewAccountCommandService(store, cache, repository.ApplyDelta, discardLogger())

			assert.NoError(t, svc.HandleBalanceUpdate(context.Background(), tt.d(t)))
			assert.True(t, store.balance("A").Equal(dec("100")))
			_, sets := cache.get("A")
			assert.Zero(t, sets)
		})
	}
}

func TestHandleBalanceUpdate_StoreFailureIsReturned(t *testing.T) {
	store := newFakeStore(testAccount("A", "100"))
	store.applyErr = errors.New("connection reset")
	svc := NewAccountCommandService(store, newFakeCache(), repository.ApplyDelta, discardLogger())

	err := svc.HandleBalanceUpdate(context.Background(), delivery(t, models.BalanceUpdate{TransacID: "tx-1", AccountID: "A", Delta: dec("1")}))
	assert.Error(t, err)
}

func TestConsumeBalanceUpdates_OverTheBus(t *testing.T) {
	broker := eventstest.NewBroker()
	codec, err := envelope.NewCodec("account-test-secret-0123456789")
	require.NoError(t, err)
	tr := events.NewTransport(broker, codec, discardLogger())

	store := newFakeStore(testAccount("A", "100"), testAccount("B", "50"))
	svc := NewAccountCommandService(store, newFakeCache(), repository.ApplyDelta, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.ConsumeBalanceUpdates(ctx, tr, "test-consumer") }()
	require.Eventually(t, func() bool { return broker.Subscribers(events.BalanceUpdateChannel) == 1 }, time.Second, 5*time.Millisecond)

	legs := []models.BalanceUpdate{
		{TransacID: "tx-1", AccountID: "A", Delta: dec("-30"), Balance: dec("70"), Currency: "THB"},
		{TransacID: "tx-1", AccountID: "B", Delta: dec("30"), Balance: dec("80"), Currency: "THB"},
	}
	// Every leg twice, as a recovery sweep would republish them.
	for i := 0; i < 2; i++ {
		for _, leg := range legs {
			require.NoError(t, tr.Publish(ctx, events.BalanceUpdateChannel, leg, events.MustDeliver()))
		}
	}

	require.Eventually(t, func() bool {
		return store.balance("A").Equal(dec("70")) && store.balance("B").Equal(dec("80"))
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, store.balance("A").Add(store.balance("B")).Equal(dec("150")))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestCreateAccount(t *testing.T) {
	tests := []struct {
		name    string
		cmd     cqrs.CreateAccountCommand
		wantErr error
	}{
		{name: "success", cmd: cqrs.CreateAccountCommand{CustomerID: "cus-1", Balance: dec("10.50"), Currency: "thb"}},
		{name: "zero opening balance", cmd: cqrs.CreateAccountCommand{CustomerID: "cus-1", Currency: "THB"}},
		{name: "missing customer", cmd: cqrs.CreateAccountCommand{Balance: dec("1"), Currency: "THB"}, wantErr: apperr.ErrInvalidAccount},
		{name: "negative opening balance", cmd: cqrs.CreateAccountCommand{CustomerID: "cus-1", Balance: dec("-1"), Currency: "THB"}, wantErr: apperr.ErrInvalidAmount},
		{name: "opening balance finer than the ledger", cmd: cqrs.CreateAccountCommand{CustomerID: "cus-1", Balance: dec("0.0000000000000000001"), Currency: "THB"}, wantErr: apperr.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			cache := newFakeCache()
			svc := NewAccountCommandService(store, cache, repository.ApplyDelta, discardLogger())

			a, err := svc.CreateAccount(context.Background(), tt.cmd)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, store.created)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, a.AccountID)
			assert.Equal(t, "THB", a.Currency)
			assert.True(t, a.Balance.Equal(tt.cmd.Balance))
			cached, _ := cache.get(a.AccountID)
			assert.Equal(t, a.AccountID, cached.AccountID)
		})
	}
}
