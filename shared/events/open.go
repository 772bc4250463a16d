package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	ProviderRedis = "redis"
	ProviderNATS  = "nats"
)

// OpenBroker builds the broker named by provider. The returned close func
// releases whatever connection the broker owns; the Redis client stays with
// the caller.
func OpenBroker(provider string, rdb *redis.Client, natsURL, clientName string, logger *slog.Logger) (Broker, func(), error) {
	switch provider {
	case ProviderRedis, "":
		return NewRedisBroker(rdb, logger, RedisBrokerConfig{MaxLen: 100000}), func() {}, nil
	case ProviderNATS:
		nc, err := nats.Connect(natsURL,
			nats.Name(clientName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return NewNATSBroker(nc, logger), func() { _ = nc.Drain() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus provider %q", provider)
	}
}
