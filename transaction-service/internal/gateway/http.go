package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
)

const maxResponseBytes = 1 << 20

// HTTPGateway calls the account service's query endpoints directly,
// forwarding the caller's bearer token.
type HTTPGateway struct {
	balancePublisher
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPGateway(baseURL string, timeout time.Duration, transport *events.Transport, logger *slog.Logger) *HTTPGateway {
	return &HTTPGateway{
		balancePublisher: balancePublisher{transport: transport},
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		client:           &http.Client{Timeout: timeout},
		logger:           logger,
	}
}

// IsAccountValid maps 200 with body true to valid and 404 to invalid.
func (g *HTTPGateway) IsAccountValid(ctx context.Context, accountID string) (valid bool, err error) {
	defer func(start time.Time) { observe(ModeDirect, "validate", start, err) }(time.Now())

	status, body, err := g.get(ctx, "/accounts/validateAccount", accountID)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return strings.TrimSpace(string(body)) == models.ReplyTrue, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpectedStatus("validateAccount", status)
	}
}

// GetAccountDetail returns nil, nil on 404.
func (g *HTTPGateway) GetAccountDetail(ctx context.Context, accountID string) (account *models.AccountPayload, err error) {
	defer func(start time.Time) { observe(ModeDirect, "detail", start, err) }(time.Now())

	status, body, err := g.get(ctx, "/accounts/getAccount", accountID)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var payload models.AccountPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: getAccount body: %v", apperr.ErrEncodingFailure, err)
		}
		return &payload, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, unexpectedStatus("getAccount", status)
	}
}

func (g *HTTPGateway) get(ctx context.Context, path, accountID string) (int, []byte, error) {
	target := g.baseURL + path + "?" + url.Values{"accNo": {accountID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", apperr.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if token := middleware.TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("account service request failed", "path", path, "account_id", accountID, "error", err)
		return 0, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, classifyTransportError(err)
	}
	return resp.StatusCode, body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", apperr.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)
}

func unexpectedStatus(op string, status int) error {
	return fmt.Errorf("%w: %s returned %d", apperr.ErrGatewayUnavailable, op, status)
}
