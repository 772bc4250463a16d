package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/envelope"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_banking_bus_published_total",
		Help: "Messages handed to the bus, by channel and outcome.",
	}, []string{"channel", "outcome"})

	receivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_banking_bus_received_total",
		Help: "Messages received from the bus, by channel and outcome.",
	}, []string{"channel", "outcome"})
)

// FailurePolicy decides what Publish returns when a message cannot be
// encoded or handed to the broker.
type FailurePolicy string

const (
	FailurePolicyFail    FailurePolicy = "fail"
	FailurePolicySwallow FailurePolicy = "swallow"
)

// Transport is the only place that knows about envelopes and header names.
// Business code publishes and receives plain values.
type Transport struct {
	broker Broker
	codec  *envelope.Codec
	logger *slog.Logger
	policy FailurePolicy

	mu           sync.RWMutex
	failureHooks []func(correlationID string, err error)
}

type Option func(*Transport)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(t *Transport) {
		if p != "" {
			t.policy = p
		}
	}
}

func NewTransport(broker Broker, codec *envelope.Codec, logger *slog.Logger, opts ...Option) *Transport {
	t := &Transport{
		broker: broker,
		codec:  codec,
		logger: logger,
		policy: FailurePolicyFail,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type publishOptions struct {
	correlationID string
	authToken     string
	mustDeliver   bool
}

type PublishOption func(*publishOptions)

func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) { o.correlationID = id }
}

// WithAuthToken attaches a bearer token. The "Bearer " prefix is added when
// missing.
func WithAuthToken(token string) PublishOption {
	return func(o *publishOptions) { o.authToken = token }
}

// MustDeliver reports failures to the caller even under FailurePolicySwallow.
// Balance updates use it so a lost publish is never recorded as applied.
func MustDeliver() PublishOption {
	return func(o *publishOptions) { o.mustDeliver = true }
}

// OnPublishFailure registers fn to run whenever a publish carrying a
// correlation id fails, regardless of policy.
func (t *Transport) OnPublishFailure(fn func(correlationID string, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failureHooks = append(t.failureHooks, fn)
}

// Publish encodes payload and hands it to the broker on channel.
func (t *Transport) Publish(ctx context.Context, channel string, payload any, opts ...PublishOption) error {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, err := t.codec.Encode(payload)
	if err != nil {
		return t.publishFailed(channel, o, "encode_error", err)
	}

	headers := make(map[string]string, 2)
	if o.correlationID != "" {
		headers[HeaderCorrelationID] = o.correlationID
	}
	if o.authToken != "" {
		headers[HeaderAuthorization] = bearer(o.authToken)
	}

	msg := Message{Channel: channel, Body: body, Headers: headers}
	if err := t.broker.Publish(ctx, msg); err != nil {
		return t.publishFailed(channel, o, "broker_error", fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err))
	}

	publishedTotal.WithLabelValues(channel, "ok").Inc()
	t.logger.Debug("message published", "channel", channel, "correlation_id", o.correlationID)
	return nil
}

func (t *Transport) publishFailed(channel string, o publishOptions, outcome string, err error) error {
	publishedTotal.WithLabelValues(channel, outcome).Inc()
	t.logger.Error("failed to publish message",
		"channel", channel,
		"correlation_id", o.correlationID,
		"error", err,
	)

	if o.correlationID != "" {
		t.mu.RLock()
		hooks := t.failureHooks
		t.mu.RUnlock()
		for _, fn := range hooks {
			fn(o.correlationID, err)
		}
	}

	if t.policy == FailurePolicySwallow && !o.mustDeliver {
		return nil
	}
	return err
}

// Delivery is one decrypted inbound message.
type Delivery struct {
	Channel       string
	MessageID     string
	CorrelationID string
	AuthToken     string
	Body          []byte
}

// Decode unmarshals the JSON body into v.
func (d Delivery) Decode(v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", apperr.ErrEncodingFailure, d.Channel, err)
	}
	return nil
}

// Handler processes one delivery. Returning an error leaves the message
// unacknowledged where the broker supports redelivery. Decode errors should
// not be returned, since redelivery cannot fix them.
type Handler func(ctx context.Context, d Delivery) error

// Subscribe blocks until ctx is cancelled. Envelopes that fail to open are
// logged and dropped; the subscription keeps running.
func (t *Transport) Subscribe(ctx context.Context, sub Subscription, h Handler) error {
	return t.broker.Subscribe(ctx, sub, func(ctx context.Context, msg Message) error {
		body, err := t.codec.Open(msg.Body)
		if err != nil {
			receivedTotal.WithLabelValues(msg.Channel, "decode_error").Inc()
			t.logger.Error("dropping undecodable message",
				"channel", msg.Channel,
				"message_id", msg.ID,
				"correlation_id", msg.Headers[HeaderCorrelationID],
				"error", err,
			)
			return nil
		}

		d := Delivery{
			Channel:       msg.Channel,
			MessageID:     msg.ID,
			CorrelationID: msg.Headers[HeaderCorrelationID],
			AuthToken:     msg.Headers[HeaderAuthorization],
			Body:          body,
		}
		if err := h(ctx, d); err != nil {
			outcome := "handler_error"
			if errors.Is(err, apperr.ErrEncodingFailure) {
				outcome = "decode_error"
			}
			receivedTotal.WithLabelValues(msg.Channel, outcome).Inc()
			return err
		}
		receivedTotal.WithLabelValues(msg.Channel, "ok").Inc()
		return nil
	})
}

func bearer(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
