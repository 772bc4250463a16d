package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/envelope"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/events/eventstest"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, broker events.Broker, opts ...events.Option) *events.Transport {
	t.Helper()
	codec, err := envelope.NewCodec("gateway-test-secret-0123456789")
	require.NoError(t, err)
	return events.NewTransport(broker, codec, discardLogger(), opts...)
}

func accountServiceStub(t *testing.T, seenAuth *atomic.Value) *httptest.Server {
	t.Helper()
	known := map[string]models.AccountPayload{
		"A": {AccountID: "A", CustomerID: "C1", Balance: decimal.RequireFromString("100.25"), Currency: "THB"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/validateAccount", func(w http.ResponseWriter, r *http.Request) {
		if seenAuth != nil {
			seenAuth.Store(r.Header.Get("Authorization"))
		}
		switch r.URL.Query().Get("accNo") {
		case "A":
			_, _ = w.Write([]byte("true"))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		case "slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("true"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("false"))
		}
	})
	mux.HandleFunc("/accounts/getAccount", func(w http.ResponseWriter, r *http.Request) {
		a, ok := known[r.URL.Query().Get("accNo")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGateway_IsAccountValid(t *testing.T) {
	var seenAuth atomic.Value
	srv := accountServiceStub(t, &seenAuth)
	g := NewHTTPGateway(srv.URL+"/", 50*time.Millisecond, newTestTransport(t, eventstest.NewBroker()), discardLogger())

	tests := []struct {
		name      string
		accountID string
		want      bool
		wantErr   error
	}{
		{name: "valid", accountID: "A", want: true},
		{name: "unknown", accountID: "Z", want: false},
		{name: "server error", accountID: "boom", wantErr: apperr.ErrGatewayUnavailable},
		{name: "slow server", accountID: "slow", wantErr: apperr.ErrGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := middleware.ContextWithToken(context.Background(), "tok-123")
			got, err := g.IsAccountValid(ctx, tt.accountID)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Bearer tok-123", seenAuth.Load())
		})
	}
}

func TestHTTPGateway_GetAccountDetail(t *testing.T) {
	srv := accountServiceStub(t, nil)
	g := NewHTTPGateway(srv.URL, time.Second, newTestTransport(t, eventstest.NewBroker()), discardLogger())

	a, err := g.GetAccountDetail(context.Background(), "A")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "C1", a.CustomerID)
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("100.25")))

	missing, err := g.GetAccountDetail(context.Background(), "Z")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHTTPGateway_Unreachable(t *testing.T) {
	srv := accountServiceStub(t, nil)
	url := srv.URL
	srv.Close()

	g := NewHTTPGateway(url, time.Second, newTestTransport(t, eventstest.NewBroker()), discardLogger())
	_, err := g.IsAccountValid(context.Background(), "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable), "got %v", err)
}

func TestPublishBalanceUpdate_ForwardsTokenAndIgnoresSwallowPolicy(t *testing.T) {
	broker := eventstest.NewBroker()
	tr := newTestTransport(t, broker, events.WithFailurePolicy(events.FailurePolicySwallow))
	g := NewHTTPGateway("http://unused", time.Second, tr, discardLogger())

	ctx := middleware.ContextWithToken(context.Background(), "tok-9")
	update := models.BalanceUpdate{TransacID: "T", AccountID: "A", Delta: decimal.NewFromInt(-5), Balance: decimal.NewFromInt(95), Currency: "THB"}
	require.NoError(t, g.PublishBalanceUpdate(ctx, update))

	msgs := broker.Published(events.BalanceUpdateChannel)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Bearer tok-9", msgs[0].Headers[events.HeaderAuthorization])

	broker.PublishErr = func(events.Message) error { return errors.New("down") }
	err := g.PublishBalanceUpdate(ctx, update)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable))
}
