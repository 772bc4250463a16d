package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	bodyField    = "envelope"
	headerPrefix = "h:"
)

// RedisBroker carries messages on Redis Streams, one stream per channel.
type RedisBroker struct {
	client        *redis.Client
	logger        *slog.Logger
	batchSize     int64
	blockDuration time.Duration
	retryInterval time.Duration
	maxLen        int64
}

type RedisBrokerConfig struct {
	BatchSize     int64
	BlockDuration time.Duration
	// RetryInterval is how often a subscriber re-reads the entries it was
	// handed but did not acknowledge.
	RetryInterval time.Duration
	// MaxLen caps each stream (approximate trimming). Zero disables trimming.
	MaxLen int64
}

func NewRedisBroker(client *redis.Client, logger *slog.Logger, config RedisBrokerConfig) *RedisBroker {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 10 * time.Second
	}
	return &RedisBroker{
		client:        client,
		logger:        logger,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryInterval: config.RetryInterval,
		maxLen:        config.MaxLen,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, msg Message) error {
	values := map[string]any{bodyField: msg.Body}
	for k, v := range msg.Headers {
		values[headerPrefix+k] = v
	}

	args := &redis.XAddArgs{
		Stream: msg.Channel,
		Values: values,
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}

	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, sub Subscription, fn MessageFunc) error {
	start := "0"
	if sub.FromLatest {
		start = "$"
	}
	err := b.client.XGroupCreateMkStream(ctx, sub.Channel, sub.Group, start).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	if sub.Ephemeral {
		defer b.destroyGroup(sub)
	}

	b.logger.Info("subscriber started", "channel", sub.Channel, "group", sub.Group, "consumer", sub.Consumer)
	if sub.OnReady != nil {
		sub.OnReady()
	}

	// Redeliver anything this consumer read but never acknowledged.
	b.retryPending(ctx, sub, fn)
	lastRetry := time.Now()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("subscriber stopping", "channel", sub.Channel)
			return ctx.Err()
		default:
			if _, err := b.read(ctx, sub, ">", fn); err != nil {
				if ctx.Err() != nil {
					continue
				}
				b.logger.Error("error reading messages", "channel", sub.Channel, "error", err)
				time.Sleep(time.Second)
			}
			if time.Since(lastRetry) >= b.retryInterval {
				b.retryPending(ctx, sub, fn)
				lastRetry = time.Now()
			}
		}
	}
}

// retryPending walks this consumer's pending entries list once, handing each
// entry to fn again.
func (b *RedisBroker) retryPending(ctx context.Context, sub Subscription, fn MessageFunc) {
	after := "0"
	for ctx.Err() == nil {
		last, err := b.read(ctx, sub, after, fn)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("failed to re-read pending messages", "channel", sub.Channel, "error", err)
			}
			return
		}
		if last == "" {
			return
		}
		after = last
	}
}

// read handles one batch. For ">" it blocks for new entries; for any other
// id it returns pending entries after that id. It returns the id of the last
// entry seen, or "" when the batch was empty.
func (b *RedisBroker) read(ctx context.Context, sub Subscription, id string, fn MessageFunc) (string, error) {
	args := &redis.XReadGroupArgs{
		Group:    sub.Group,
		Consumer: sub.Consumer,
		Streams:  []string{sub.Channel, id},
		Count:    b.batchSize,
	}
	if id == ">" {
		args.Block = b.blockDuration
	}
	streams, err := b.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from stream: %w", err)
	}

	last := ""
	for _, stream := range streams {
		for _, xm := range stream.Messages {
			last = xm.ID
			msg, ok := toMessage(stream.Stream, xm)
			if !ok {
				b.logger.Error("dropping malformed stream entry", "channel", stream.Stream, "message_id", xm.ID)
				b.ack(ctx, sub, xm.ID)
				continue
			}
			if err := fn(ctx, msg); err != nil {
				// Left pending; retried by retryPending.
				b.logger.Error("failed to process message", "channel", stream.Stream, "message_id", xm.ID, "error", err)
				continue
			}
			b.ack(ctx, sub, xm.ID)
		}
	}
	return last, nil
}

func (b *RedisBroker) destroyGroup(sub Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.XGroupDestroy(ctx, sub.Channel, sub.Group).Err(); err != nil {
		b.logger.Warn("failed to remove consumer group", "channel", sub.Channel, "group", sub.Group, "error", err)
		return
	}
	b.logger.Info("consumer group removed", "channel", sub.Channel, "group", sub.Group)
}

func (b *RedisBroker) ack(ctx context.Context, sub Subscription, id string) {
	if err := b.client.XAck(ctx, sub.Channel, sub.Group, id).Err(); err != nil {
		b.logger.Error("failed to ack message", "channel", sub.Channel, "message_id", id, "error", err)
	}
}

func toMessage(channel string, xm redis.XMessage) (Message, bool) {
	body, ok := xm.Values[bodyField].(string)
	if !ok {
		return Message{}, false
	}
	headers := make(map[string]string)
	for k, v := range xm.Values {
		if name, found := strings.CutPrefix(k, headerPrefix); found {
			if s, ok := v.(string); ok {
				headers[name] = s
			}
		}
	}
	return Message{ID: xm.ID, Channel: channel, Body: body, Headers: headers}, true
}
