package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbot/internal/compare"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/executor"
	"github.com/alanyoungcy/arbot/internal/multihop"
	"github.com/alanyoungcy/arbot/internal/queue"
	"github.com/alanyoungcy/arbot/internal/worker"
)

// RunMode starts the full engine: the job queue executor with its compare,
// dispatch, reap, and rate loops, a periodic balance snapshot, and the audit
// archiver when enabled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	pairs, err := a.tradePairs()
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}

	det := a.buildDetector(deps)
	q := queue.New(deps.JobStore, a.logger)
	workers := a.buildWorkers(deps, det)

	disabled := make([]domain.JobType, 0, len(a.cfg.Jobs.Disabled))
	for _, t := range a.cfg.Jobs.Disabled {
		disabled = append(disabled, domain.JobType(t))
	}

	exec := executor.New(q, deps.JobStore, deps.QueueStatus, deps.LockManager,
		workers, deps.Rates, deps.Notifier, executor.Config{
			CompareInterval:     a.cfg.Jobs.CompareInterval.Duration,
			DispatchInterval:    a.cfg.Jobs.DispatchInterval.Duration,
			ReapInterval:        a.cfg.Jobs.ReapInterval.Duration,
			RateRefreshInterval: a.cfg.Rates.RefreshInterval.Duration,
			ReapGrace:           a.cfg.Jobs.ReapGrace.Duration,
			DisabledTypes:       disabled,
			TradePairs:          pairs,
		}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return exec.Run(ctx)
	})

	// Balance snapshots: persist every venue's holdings on the rate cadence
	// so profit reports have a balance history to join against.
	g.Go(func() error {
		return a.snapshotBalances(ctx, deps)
	})

	if deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		g.Go(func() error {
			err := deps.Archiver.RunLoop(ctx, interval)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// CompareMode runs the detector once for every configured pair and logs the
// job specs it would enqueue. Nothing is persisted or executed.
func (a *App) CompareMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting compare mode")

	pairs, err := a.tradePairs()
	if err != nil {
		return fmt.Errorf("compare mode: %w", err)
	}

	det := a.buildDetector(deps)
	queueID := uuid.New().String()

	for _, pair := range pairs {
		result, err := det.Compare(ctx, pair, queueID)
		if err != nil {
			a.logger.WarnContext(ctx, "comparison failed",
				slog.String("pair", pair.Symbol()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(result.Jobs) == 0 {
			a.logger.InfoContext(ctx, "no opportunity",
				slog.String("pair", pair.Symbol()))
			continue
		}
		for _, spec := range result.Jobs {
			a.logger.InfoContext(ctx, "would enqueue",
				slog.String("pair", pair.Symbol()),
				slog.String("job_type", string(spec.Type)),
				slog.Any("args", spec.Args),
			)
		}
	}
	return nil
}

// MultiMode runs one triangular scan over the master exchange's books and
// reports the best cycle it finds.
func (a *App) MultiMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting multi mode")

	pairs, err := a.tradePairs()
	if err != nil {
		return fmt.Errorf("multi mode: %w", err)
	}

	scanner := multihop.NewScanner(a.logger)
	opp, err := scanner.Scan(ctx, deps.Master, pairs, decimal.NewFromInt(1))
	if err != nil {
		return fmt.Errorf("multi mode: %w", err)
	}
	if opp == nil {
		a.logger.InfoContext(ctx, "no cycle found")
		return nil
	}

	a.logger.InfoContext(ctx, "cycle evaluated",
		slog.String("exchange", opp.Exchange),
		slog.Any("path", opp.Path),
		slog.String("start", opp.Start.String()),
		slog.String("end", opp.End.String()),
		slog.Bool("profitable", opp.Profitable()),
	)
	return nil
}

// WatchMode streams top-of-book tickers and raises a notification whenever a
// profitable conversion cycle appears.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	pairs, err := a.tradePairs()
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}

	mon := multihop.NewMonitor(pairs, a.cfg.Jobs.CompareInterval.Duration, deps.Notifier, a.logger)
	return mon.Run(ctx)
}

// SetupMode refreshes the stored market listings for every configured venue.
// Wire has already connected to the database and applied migrations.
func (a *App) SetupMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "database schema is current")

	for _, name := range deps.Exchanges.Names() {
		ex, err := deps.Exchanges.Get(name)
		if err != nil {
			return fmt.Errorf("setup mode: %w", err)
		}
		markets, err := ex.Pairs(ctx)
		if err != nil {
			return fmt.Errorf("setup mode: fetch pairs for %s: %w", name, err)
		}
		if err := deps.MarketStore.ReplaceAll(ctx, name, markets); err != nil {
			return fmt.Errorf("setup mode: %w", err)
		}
		a.logger.InfoContext(ctx, "market listings refreshed",
			slog.String("exchange", name),
			slog.Int("markets", len(markets)),
		)
	}

	// Report pair coverage across venues so a misconfigured pair is caught
	// before the engine runs.
	pairs, err := a.tradePairs()
	if err != nil {
		return fmt.Errorf("setup mode: %w", err)
	}
	for _, pair := range pairs {
		venues, err := deps.MarketStore.VenuesForPair(ctx, pair)
		if err != nil {
			return fmt.Errorf("setup mode: %w", err)
		}
		a.logger.InfoContext(ctx, "pair coverage",
			slog.String("pair", pair.Symbol()),
			slog.Any("venues", venues),
		)
	}

	a.logger.InfoContext(ctx, "setup complete")
	return nil
}

// buildDetector assembles the comparison detector from wired dependencies.
func (a *App) buildDetector(deps *Dependencies) *compare.Detector {
	return compare.NewDetector(
		deps.Exchanges,
		deps.LockManager,
		deps.Rates,
		deps.AuditStore,
		deps.JobStore,
		compare.Config{
			ArbitrageMinimum:  decimal.NewFromFloat(a.cfg.Compare.ArbitrageMinimum),
			MaxFiatExposure:   decimal.NewFromFloat(a.cfg.Compare.MaxFiatExposure),
			ReplenishLookback: a.cfg.Compare.ReplenishLookback.Duration,
		},
		a.logger,
	)
}

// buildWorkers registers a handler for every job type.
func (a *App) buildWorkers(deps *Dependencies, det *compare.Detector) *worker.Registry {
	reg := worker.NewRegistry()
	reg.Register(domain.JobCompare, worker.NewCompareHandler(det))
	reg.Register(domain.JobTransact, worker.NewTransactHandler(deps.Exchanges, deps.LockManager, deps.TradeStore, a.logger))
	reg.Register(domain.JobReplenish, worker.NewReplenishHandler(
		deps.Exchanges,
		deps.Master,
		deps.AuditStore,
		deps.Rates,
		worker.ReplenishConfig{
			FiatAmount:      decimal.NewFromFloat(a.cfg.Replenish.FiatAmount),
			ReserveCurrency: a.cfg.Replenish.ReserveCurrency,
			RetryDelay:      a.cfg.Replenish.RetryDelay.Duration,
		},
		a.logger,
	))
	reg.Register(domain.JobConvert, worker.NewConvertHandler(deps.Exchanges, deps.LockManager, deps.TradeStore, a.logger))
	reg.Register(domain.JobWithdrawalFee, worker.NewWithdrawalFeeHandler(deps.Master, deps.AuditStore, a.logger))
	return reg
}

// snapshotBalances periodically fetches and stores every venue's balances.
func (a *App) snapshotBalances(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Rates.RefreshInterval.Duration
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, name := range deps.Exchanges.Names() {
			ex, err := deps.Exchanges.Get(name)
			if err != nil {
				continue
			}
			balances, err := ex.Balances(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "balance snapshot fetch failed",
					slog.String("exchange", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := deps.BalanceStore.Upsert(ctx, name, balances); err != nil {
				a.logger.WarnContext(ctx, "balance snapshot store failed",
					slog.String("exchange", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// tradePairs parses the configured pair symbols.
func (a *App) tradePairs() ([]domain.TradePair, error) {
	pairs := make([]domain.TradePair, 0, len(a.cfg.TradePairs))
	for _, symbol := range a.cfg.TradePairs {
		pair, err := domain.ParseTradePair(symbol)
		if err != nil {
			return nil, fmt.Errorf("trade pair %q: %w", symbol, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
