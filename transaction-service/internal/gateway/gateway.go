// Package gateway reaches the account service, either over HTTP (direct
// mode) or as request/reply round trips on the bus (bus mode). Both modes
// publish balance updates on the bus.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/Deathrow002/Core-Banking/shared/apperr"
	"github.com/Deathrow002/Core-Banking/shared/events"
	"github.com/Deathrow002/Core-Banking/shared/middleware"
	"github.com/Deathrow002/Core-Banking/shared/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ModeDirect = "direct"
	ModeBus    = "bus"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "core_banking_gateway_request_duration_seconds",
	Help:    "Account gateway call latency by mode, operation and outcome.",
	Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
}, []string{"mode", "op", "outcome"})

// balancePublisher is shared by both modes.
type balancePublisher struct {
	transport *events.Transport
}

// PublishBalanceUpdate returns only after the broker has accepted the
// message, whatever the transport's failure policy.
func (p balancePublisher) PublishBalanceUpdate(ctx context.Context, update models.BalanceUpdate) error {
	return p.transport.Publish(ctx, events.BalanceUpdateChannel, update,
		events.WithAuthToken(middleware.TokenFromContext(ctx)),
		events.MustDeliver(),
	)
}

func observe(mode, op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrGatewayTimeout):
		outcome = "timeout"
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	requestDuration.WithLabelValues(mode, op, outcome).Observe(time.Since(start).Seconds())
}
