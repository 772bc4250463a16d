package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// NATSBroker carries messages on core NATS subjects, one subject per channel.
// Core NATS has no redelivery: a handler error is logged and the message is
// gone.
type NATSBroker struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewNATSBroker(nc *nats.Conn, logger *slog.Logger) *NATSBroker {
	return &NATSBroker{nc: nc, logger: logger}
}

// Publish returns once the server has the message (flush round trip).
func (b *NATSBroker) Publish(ctx context.Context, msg Message) error {
	m := nats.NewMsg(msg.Channel)
	m.Data = []byte(msg.Body)
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if err := b.nc.PublishMsg(m); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Channel, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, natsFlushTimeout)
		defer cancel()
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", msg.Channel, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, sub Subscription, fn MessageFunc) error {
	cb := func(m *nats.Msg) {
		headers := make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}
		msg := Message{Channel: m.Subject, Body: string(m.Data), Headers: headers}
		if err := fn(ctx, msg); err != nil {
			b.logger.Error("failed to process message", "channel", m.Subject, "error", err)
		}
	}

	var (
		s   *nats.Subscription
		err error
	)
	if sub.Group != "" {
		s, err = b.nc.QueueSubscribe(sub.Channel, sub.Group, cb)
	} else {
		s, err = b.nc.Subscribe(sub.Channel, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sub.Channel, err)
	}

	if err := b.nc.FlushWithContext(ctx); err != nil {
		_ = s.Unsubscribe()
		return fmt.Errorf("failed to register subscription on %s: %w", sub.Channel, err)
	}

	b.logger.Info("subscriber started", "channel", sub.Channel, "group", sub.Group)
	if sub.OnReady != nil {
		sub.OnReady()
	}

	<-ctx.Done()
	b.logger.Info("subscriber stopping, draining", "channel", sub.Channel)
	_ = s.Drain()
	return ctx.Err()
}
