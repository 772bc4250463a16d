package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/correlation"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/Deathrow002/Core-Banking/shared/utils"
	"golang.org/x/sync/errgroup"
)

// BusGateway turns account lookups into request/reply round trips on the
// bus. Replies are matched to callers through the correlation router; Start
// must be running for any call to complete.
type BusGateway struct {
	balancePublisher
	transport *events.Transport
	router    *correlation.Router
	timeout   time.Duration
	group     string
	logger    *slog.Logger

	ready   chan struct{}
	waiting atomic.Int32
}

var replyChannels = []string{events.AccountValidateResponseChannel, events.AccountDetailResponseChannel}

func NewBusGateway(transport *events.Transport, router *correlation.Router, timeout time.Duration, logger *slog.Logger) *BusGateway {
	g := &BusGateway{
		balancePublisher: balancePublisher{transport: transport},
		transport:        transport,
		router:           router,
		timeout:          timeout,
		group:            utils.GenerateID("txn-replies"),
		logger:           logger,
		ready:            make(chan struct{}),
	}
	g.waiting.Store(int32(len(replyChannels)))
	// A request that never left cannot be answered; release its caller now.
	transport.OnPublishFailure(func(correlationID string, err error) {
		router.Fail(correlationID, err)
	})
	return g
}

// Start consumes both reply channels until ctx is cancelled. Each instance
// reads through its own consumer group from the latest entry, so replies are
// never taken by another instance and old replies are not replayed. The
// groups are removed again when Start returns.
func (g *BusGateway) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, channel := range replyChannels {
		sub := events.Subscription{
			Channel:    channel,
			Group:      g.group,
			Consumer:   g.group,
			FromLatest: true,
			Ephemeral:  true,
			OnReady:    g.subscribed,
		}
		eg.Go(func() error {
			return g.transport.Subscribe(ctx, sub, g.handleReply)
		})
	}
	return eg.Wait()
}

// Ready is closed once both reply subscriptions are in place. A request sent
// before that could have its reply published ahead of the group.
func (g *BusGateway) Ready() <-chan struct{} {
	return g.ready
}

func (g *BusGateway) subscribed() {
	if g.waiting.Add(-1) == 0 {
		close(g.ready)
	}
}

func (g *BusGateway) handleReply(_ context.Context, d events.Delivery) error {
	if d.CorrelationID == "" {
		g.logger.Warn("reply without correlation id", "channel", d.Channel, "message_id", d.MessageID)
		return nil
	}
	if !g.router.Complete(d.CorrelationID, d.Body) {
		g.logger.Debug("dropping reply with no waiting call", "channel", d.Channel, "correlation_id", d.CorrelationID)
	}
	return nil
}

func (g *BusGateway) IsAccountValid(ctx context.Context, accountID string) (valid bool, err error) {
	defer func(start time.Time) { observe(ModeBus, "validate", start, err) }(time.Now())

	body, err := g.call(ctx, events.AccountValidateChannel, models.AccountRequest{AccountID: accountID})
	if err != nil {
		return false, err
	}
	var reply string
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, fmt.Errorf("%w: validate reply: %v", apperr.ErrEncodingFailure, err)
	}
	return reply == models.ReplyTrue, nil
}

func (g *BusGateway) GetAccountDetail(ctx context.Context, accountID string) (account *models.AccountPayload, err error) {
	defer func(start time.Time) { observe(ModeBus, "detail", start, err) }(time.Now())

	body, err := g.call(ctx, events.AccountDetailChannel, models.AccountRequest{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	var reply models.AccountDetailReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: detail reply: %v", apperr.ErrEncodingFailure, err)
	}
	if !reply.Found || reply.Account == nil {
		return nil, nil
	}
	return reply.Account, nil
}

// call registers a fresh correlation id, publishes req and waits for the
// matching reply.
func (g *BusGateway) call(ctx context.Context, channel string, req any) ([]byte, error) {
	id := utils.NewCorrelationID()
	pending, err := g.router.Register(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)
	}

	err = g.transport.Publish(ctx, channel, req,
		events.WithCorrelationID(id),
		events.WithAuthToken(middleware.TokenFromContext(ctx)),
	)
	if err != nil {
		g.router.Abandon(id)
		return nil, err
	}

	body, err := pending.Wait(ctx, g.timeout)
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, correlation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		g.logger.Warn("account service did not reply in time", "channel", channel, "correlation_id", id, "timeout", g.timeout)
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrGatewayTimeout, channel, err)
	default:
		return nil, err
	}
}
