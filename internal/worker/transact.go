package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
	"github.com/alanyoungcy/arbot/internal/queue"
)

// tradeLockTTL bounds a venue's trade-method lease. Trade blocks until the
// order fills, so the lease outlives a slow fill rather than a fast one.
const tradeLockTTL = 2 * time.Minute

// NewTransactHandler returns the TRANSACT worker: it re-validates the leg
// against the venue's current rules, submits the limit order under the
// venue's TRANSACT method lock, and persists the executed trade.
func NewTransactHandler(registry *exchange.Registry, locks domain.MethodLockManager, trades domain.TradeStore, logger *slog.Logger) queue.WorkerFunc {
	log := logger.With(slog.String("component", "transact_worker"))

	return func(ctx context.Context, job domain.Job) (domain.JobResult, error) {
		ex, err := registry.Get(job.Args["exchange"])
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: transact: %w", err)
		}

		pair, err := domain.ParseTradePair(job.Args["trade_pair_common"])
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: transact: %w", err)
		}
		m, err := ex.BindPair(ctx, pair)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: transact: %w", err)
		}

		volume, _ := decimal.NewFromString(job.Args["volume"])
		price, _ := decimal.NewFromString(job.Args["price"])
		side := domain.TradeSide(job.Args["type"])

		ok, price, volume := ex.TradeValidity(m, price, volume)
		if !ok {
			return domain.JobResult{}, fmt.Errorf(
				"worker: transact: %s %s %s@%s fails venue rules: %w",
				side, pair.Symbol(), volume, price, domain.ErrInvalidJob)
		}

		unlock, err := locks.Acquire(ctx, ex.Name(), "TRANSACT", job.QueueID, tradeLockTTL)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: transact: %w", err)
		}
		trade, err := ex.Trade(ctx, m, side, volume, price)
		unlock()
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: transact: %w", err)
		}
		trade.Kind = string(domain.JobTransact)

		if err := trades.Upsert(ctx, trade); err != nil {
			// The order already executed; only the local record is lost.
			log.Error("trade persist failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}

		log.Info("trade executed",
			slog.String("exchange", ex.Name()),
			slog.String("pair", pair.Symbol()),
			slog.String("side", string(side)),
			slog.String("volume", volume.String()),
			slog.String("price", price.String()))

		return domain.JobResult{Trade: &trade}, nil
	}
}
