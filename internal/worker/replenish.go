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
	"github.com/alanyoungcy/arbot/internal/rates"
)

// ReplenishConfig carries the REPLENISH worker's tunables.
type ReplenishConfig struct {
	// FiatAmount is the target transfer size, expressed in the reporting
	// fiat and converted to the requested currency at transfer time.
	FiatAmount decimal.Decimal
	// ReserveCurrency funds CONVERT jobs when the master lacks the
	// requested currency.
	ReserveCurrency string
	// RetryDelay is how long to wait before re-attempting a replenish that
	// was blocked on a pending conversion.
	RetryDelay time.Duration
}

// NewReplenishHandler returns the REPLENISH worker: it tops up a venue's
// currency balance by withdrawing from the master exchange. A master without
// enough of the currency triggers a CONVERT downstream job plus a delayed
// retry of the replenish itself; a deposit already in flight is a no-op.
func NewReplenishHandler(
	registry *exchange.Registry,
	master exchange.Withdrawer,
	audit domain.AuditStore,
	rateSvc *rates.Service,
	cfg ReplenishConfig,
	logger *slog.Logger,
) queue.WorkerFunc {
	log := logger.With(slog.String("component", "replenish_worker"))

	return func(ctx context.Context, job domain.Job) (domain.JobResult, error) {
		target, err := registry.Get(job.Args["exchange"])
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}
		currency := job.Args["currency"]

		pending, err := target.PendingBalances(ctx)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}
		if pending.Get(currency).Sign() > 0 {
			log.Info("deposit already in flight",
				slog.String("exchange", target.Name()),
				slog.String("currency", currency))
			return domain.JobResult{}, nil
		}

		rate, err := rateSvc.Latest(ctx, currency)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}
		if rate.Sign() <= 0 {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: no %s rate for %s", rateSvc.Fiat(), currency)
		}
		amount := cfg.FiatAmount.Div(rate)

		minDeposit, err := target.MinimumDepositVolume(ctx, currency)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}
		if amount.LessThan(minDeposit) {
			amount = minDeposit
		}

		available, err := master.Balances(ctx)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}
		if available.Get(currency).LessThan(amount) {
			// Convert reserve funds into the needed currency, then come
			// back for the withdrawal as a fresh job.
			log.Info("master short of currency, converting",
				slog.String("currency", currency),
				slog.String("needed", amount.String()),
				slog.String("available", available.Get(currency).String()))
			return domain.JobResult{
				DownstreamJobs: []domain.JobSpec{{
					Type: domain.JobConvert,
					Args: map[string]string{
						"exchange":      master.Name(),
						"currency_from": cfg.ReserveCurrency,
						"currency_to":   currency,
						"volume":        amount.String(),
					},
				}},
				RetryAfter: cfg.RetryDelay,
			}, nil
		}

		address, err := target.DepositAddress(ctx, currency)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}

		withdrawalID, err := master.Withdraw(ctx, currency, address, amount)
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}

		log.Info("withdrawal submitted",
			slog.String("from", master.Name()),
			slog.String("to", target.Name()),
			slog.String("currency", currency),
			slog.String("amount", amount.String()),
			slog.String("withdrawal_id", withdrawalID))

		// Record the fee event now with a zero fee; a WITHDRAWAL_FEE job
		// fills in the realized amount once the venue reports it.
		auditID, err := audit.LogWithdrawalFee(ctx, domain.WithdrawalFeeEvent{
			Exchange:     master.Name(),
			Currency:     currency,
			WithdrawalID: withdrawalID,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return domain.JobResult{}, fmt.Errorf("worker: replenish: %w", err)
		}

		return domain.JobResult{
			DownstreamJobs: []domain.JobSpec{{
				Type: domain.JobWithdrawalFee,
				Args: map[string]string{
					"exchange":      master.Name(),
					"currency":      currency,
					"withdrawal_id": withdrawalID,
					"audit_id":      auditID,
				},
			}},
		}, nil
	}
}
