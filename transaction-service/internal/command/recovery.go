package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultSweepBatch = 100

var recoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "core_banking_recovery_transactions_total",
	Help: "Pending transactions handled by the recovery sweep, by outcome.",
}, []string{"outcome"})

// RecoverySweeper republishes the legs of transactions stuck in Pending.
// Republishing is safe because the account consumer ignores a leg it has
// already applied.
type RecoverySweeper struct {
	svc      *TransactionCommandService
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	batch    int
}

func NewRecoverySweeper(svc *TransactionCommandService, logger *slog.Logger, interval, grace time.Duration) *RecoverySweeper {
	return &RecoverySweeper{
		svc:      svc,
		logger:   logger,
		interval: interval,
		grace:    grace,
		batch:    defaultSweepBatch,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *RecoverySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("recovery sweeper started", "interval", r.interval, "grace", r.grace)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("recovery sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// Sweep handles one batch of Pending records older than the grace period and
// returns how many reached Applied.
func (r *RecoverySweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.svc.now().Add(-r.grace)
	pending, err := r.svc.store.ListPending(ctx, cutoff, r.batch)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range pending {
		t := &pending[i]
		marked, err := r.svc.applyLegs(ctx, t)
		if err != nil {
			recoveredTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("pending transaction still unpublished", "transac_id", t.TransacID, "error", err)
			continue
		}
		if !marked {
			recoveredTotal.WithLabelValues("unmarked").Inc()
			r.logger.Warn("pending transaction republished but still pending", "transac_id", t.TransacID)
			continue
		}
		recoveredTotal.WithLabelValues("applied").Inc()
		r.logger.Info("pending transaction recovered", "transac_id", t.TransacID, "legs", len(t.Legs))
		applied++
	}
	return applied, nil
}
