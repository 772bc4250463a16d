package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/cqrs"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"golang.org/x/sync/errgroup"
)

// ResponderGroup is shared by every account-service instance: each request
// is answered once.
const ResponderGroup = "account-service-responders"

// Responder answers account-validate and account-detail requests from the
// bus. Replies echo the request's correlation id and Authorization header.
type Responder struct {
	queries   *AccountQueryService
	transport *events.Transport
	consumer  string
	logger    *slog.Logger
}

func NewResponder(queries *AccountQueryService, transport *events.Transport, consumer string, logger *slog.Logger) *Responder {
	return &Responder{queries: queries, transport: transport, consumer: consumer, logger: logger}
}

// Start blocks, serving both request channels until ctx is cancelled.
func (r *Responder) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for channel, h := range map[string]events.Handler{
		events.AccountValidateChannel: r.handleValidate,
		events.AccountDetailChannel:   r.handleDetail,
	} {
		sub := events.Subscription{
			Channel:    channel,
			Group:      ResponderGroup,
			Consumer:   r.consumer,
			FromLatest: true,
		}
		eg.Go(func() error {
			return r.transport.Subscribe(ctx, sub, h)
		})
	}
	r.logger.Info("account responders started", "group", ResponderGroup, "consumer", r.consumer)
	return eg.Wait()
}

func (r *Responder) handleValidate(ctx context.Context, d events.Delivery) error {
	req, ok := r.request(d)
	if !ok {
		return nil
	}
	valid, err := r.queries.IsAccountValid(ctx, cqrs.GetAccountQuery{AccountID: req.AccountID})
	if err != nil {
		return fmt.Errorf("validate %s: %w", req.AccountID, err)
	}
	reply := models.ReplyFalse
	if valid {
		reply = models.ReplyTrue
	}
	return r.reply(ctx, events.AccountValidateResponseChannel, d, reply)
}

func (r *Responder) handleDetail(ctx context.Context, d events.Delivery) error {
	req, ok := r.request(d)
	if !ok {
		return nil
	}
	reply := models.AccountDetailReply{}
	account, err := r.queries.GetAccount(ctx, cqrs.GetAccountQuery{AccountID: req.AccountID})
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		// answered with Found=false
	case err != nil:
		return fmt.Errorf("detail %s: %w", req.AccountID, err)
	default:
		reply = models.AccountDetailReply{Found: true, Account: account}
	}
	return r.reply(ctx, events.AccountDetailResponseChannel, d, reply)
}

// request decodes an AccountRequest. Requests nobody can match a reply to,
// and bodies that will never decode, are dropped.
func (r *Responder) request(d events.Delivery) (models.AccountRequest, bool) {
	var req models.AccountRequest
	if d.CorrelationID == "" {
		r.logger.Warn("request without correlation id", "channel", d.Channel, "message_id", d.MessageID)
		return req, false
	}
	if err := d.Decode(&req); err != nil {
		r.logger.Error("dropping malformed request", "channel", d.Channel, "correlation_id", d.CorrelationID, "error", err)
		return req, false
	}
	return req, true
}

func (r *Responder) reply(ctx context.Context, channel string, d events.Delivery, body any) error {
	return r.transport.Publish(ctx, channel, body,
		events.WithCorrelationID(d.CorrelationID),
		events.WithAuthToken(d.AuthToken),
	)
}
