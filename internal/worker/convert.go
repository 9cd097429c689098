package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
	"github.com/alanyoungcy/arbot/internal/queue"
)

// NewConvertHandler returns the CONVERT worker: it exchanges one currency for
// another on a single venue, trading whichever of the two pair orientations
// the venue lists at its top-of-book price. The trade runs under the venue's
// CONVERT method lock.
func NewConvertHandler(registry *exchange.Registry, locks domain.MethodLockManager, trades domain.TradeStore, logger *slog.Logger) queue.WorkerFunc {
	log := logger.With(slog.String("component", "convert_worker"))

	return func(ctx context.Context, job domain.Job) (domain.JobResult, error) {
		ex, err := registry.Get(job.Args["exchange"])
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: convert: %w", err)
		}
		from := job.Args["currency_from"]
		to := job.Args["currency_to"]
		volume, _ := decimal.NewFromString(job.Args["volume"])

		// A deposit already on its way makes the conversion redundant.
		pending, err := ex.PendingBalances(ctx)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: convert: pending balances: %w", err)
		}
		if pending.Get(to).Sign() > 0 {
			log.Info("conversion skipped, deposit pending",
				slog.String("exchange", ex.Name()),
				slog.String("currency", to),
				slog.String("pending", pending.Get(to).String()))
			return domain.JobResult{}, nil
		}

		// Prefer the orientation where we buy the target currency as base;
		// fall back to selling the source currency as base.
		side := domain.SideBuy
		m, err := ex.BindPair(ctx, domain.TradePair{Base: to, Quote: from})
		if err != nil {
			side = domain.SideSell
			m, err = ex.BindPair(ctx, domain.TradePair{Base: from, Quote: to})
			if err != nil {
				return domain.JobResult{}, fmt.Errorf("worker: convert: no %s/%s market on %s: %w",
					from, to, ex.Name(), domain.ErrTradePairNotFound)
			}
		}

		book, err := ex.OrderBook(ctx, m)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: convert: %w", err)
		}

		var price decimal.Decimal
		if side == domain.SideBuy {
			price = book.LowestAsk().Price
		} else {
			price = book.HighestBid().Price
			// volume names the target amount; selling base yields quote, so
			// size the leg by the implied base amount.
			if price.Sign() > 0 {
				volume = volume.Div(price)
			}
		}
		if price.Sign() <= 0 {
			return domain.JobResult{}, fmt.Errorf("worker: convert: empty book for %s on %s", m.TradingCode, ex.Name())
		}

		ok, price, volume := ex.TradeValidity(m, price, volume)
		if !ok {
			return domain.JobResult{}, fmt.Errorf("worker: convert: %s %s@%s fails venue rules: %w",
				m.TradingCode, volume, price, domain.ErrInvalidJob)
		}

		unlock, err := locks.Acquire(ctx, ex.Name(), "CONVERT", job.QueueID, tradeLockTTL)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: convert: %w", err)
		}
		trade, err := ex.Trade(ctx, m, side, volume, price)
		unlock()
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: convert: %w", err)
		}
		trade.Kind = string(domain.JobConvert)

		if err := trades.Upsert(ctx, trade); err != nil {
			log.Error("trade persist failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}

		log.Info("conversion executed",
			slog.String("exchange", ex.Name()),
			slog.String("from", from),
			slog.String("to", to),
			slog.String("volume", volume.String()))

		return domain.JobResult{Trade: &trade}, nil
	}
}
