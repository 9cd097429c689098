// Package compare implements the arbitrage detector: for one trade pair it
// snapshots every eligible venue, scans all directional venue pairs for a
// price gap that survives fees and exposure caps, re-checks real balances,
// and emits the downstream job specs (replenish and/or paired transacts).
package compare

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
	"github.com/alanyoungcy/arbot/internal/rates"
)

// Config carries the detector's tunables.
type Config struct {
	// ArbitrageMinimum is the fiat profit floor below which a candidate is
	// discarded.
	ArbitrageMinimum decimal.Decimal
	// MaxFiatExposure caps volume * buy_price * fiat_rate per trade.
	MaxFiatExposure decimal.Decimal
	// ReplenishLookback suppresses a new REPLENISH when an equivalent one
	// completed within the window.
	ReplenishLookback time.Duration
}

// compareLockTTL bounds how long a venue's COMPARE lease survives a crashed
// comparison before it expires on its own.
const compareLockTTL = 30 * time.Second

// Result lists the downstream job specs one comparison produced.
type Result struct {
	Jobs []domain.JobSpec
}

// candidate is one directional venue pair that survived the profit check.
type candidate struct {
	buy, sell *exchange.Snapshot
	volume    decimal.Decimal
	profit    decimal.Decimal
	fiatRate  decimal.Decimal
}

// Detector evaluates one trade pair across all eligible venues.
type Detector struct {
	registry *exchange.Registry
	locks    domain.MethodLockManager
	rates    *rates.Service
	audit    domain.AuditStore
	jobs     domain.JobStore
	cfg      Config
	logger   *slog.Logger
}

// NewDetector wires a detector from its collaborators.
func NewDetector(
	registry *exchange.Registry,
	locks domain.MethodLockManager,
	rateSvc *rates.Service,
	audit domain.AuditStore,
	jobs domain.JobStore,
	cfg Config,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		registry: registry,
		locks:    locks,
		rates:    rateSvc,
		audit:    audit,
		jobs:     jobs,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "detector")),
	}
}

// Compare runs one full evaluation of the pair for the owning queue instance
// and returns the downstream job specs. Each participating venue's COMPARE
// lock is held for the whole evaluation, covering its book and balance
// fetches, and released before Compare returns. Fewer than two eligible
// venues is a normal empty outcome, never an error.
func (d *Detector) Compare(ctx context.Context, pair domain.TradePair, queueID string) (Result, error) {
	snaps, release, err := d.eligibleSnapshots(ctx, pair, queueID)
	if err != nil {
		return Result{}, err
	}
	defer release()
	if len(snaps) < 2 {
		return Result{}, nil
	}

	snaps = d.fetchBooks(ctx, snaps)
	if len(snaps) < 2 {
		return Result{}, nil
	}

	fiatRate, err := d.rates.Latest(ctx, pair.Quote)
	if err != nil {
		return Result{}, err
	}

	candidates := d.scan(snaps, fiatRate)
	if len(candidates) == 0 {
		return Result{}, nil
	}

	var result Result
	seenReplenish := make(map[string]bool)
	for _, c := range candidates {
		d.auditProfit(ctx, c, pair)

		specs, err := d.settle(ctx, c, pair, queueID, seenReplenish)
		if err != nil {
			d.logger.Warn("candidate settlement failed",
				slog.String("buy", c.buy.Name()),
				slog.String("sell", c.sell.Name()),
				slog.String("error", err.Error()))
			continue
		}
		result.Jobs = append(result.Jobs, specs...)
	}
	return result, nil
}

// eligibleSnapshots builds a snapshot per venue, dropping venues that hold a
// COMPARE method lock, are over an API ceiling, or do not list the pair. The
// COMPARE lock for each kept venue is taken before its first API call; the
// returned release function frees every lock taken.
func (d *Detector) eligibleSnapshots(ctx context.Context, pair domain.TradePair, queueID string) ([]*exchange.Snapshot, func(), error) {
	var (
		snaps   []*exchange.Snapshot
		unlocks []func()
	)
	release := func() {
		for _, unlock := range unlocks {
			unlock()
		}
	}

	for _, name := range d.registry.Names() {
		held, err := d.locks.IsHeld(ctx, name, "COMPARE", queueID)
		if err != nil {
			release()
			return nil, nil, err
		}
		if held {
			continue
		}

		unlock, err := d.locks.Acquire(ctx, name, "COMPARE", queueID, compareLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			d.logger.Debug("venue lock contended", slog.String("exchange", name))
			continue
		}
		if err != nil {
			release()
			return nil, nil, err
		}

		ex, err := d.registry.Get(name)
		if err != nil {
			unlock()
			release()
			return nil, nil, err
		}
		snap, err := exchange.NewSnapshot(ctx, ex, pair)
		if errors.Is(err, domain.ErrTradePairNotFound) {
			unlock()
			continue
		}
		if errors.Is(err, domain.ErrRateLimited) {
			d.logger.Debug("venue rate limited", slog.String("exchange", name))
			unlock()
			continue
		}
		if err != nil {
			// Transient venue failure: drop it from this cycle only.
			d.logger.Warn("pair binding failed",
				slog.String("exchange", name),
				slog.String("error", err.Error()))
			unlock()
			continue
		}
		snaps = append(snaps, snap)
		unlocks = append(unlocks, unlock)
	}
	return snaps, release, nil
}

// fetchBooks retrieves every venue's order book concurrently and drops venues
// whose fetch failed or whose book has an empty side.
func (d *Detector) fetchBooks(ctx context.Context, snaps []*exchange.Snapshot) []*exchange.Snapshot {
	var (
		mu   sync.Mutex
		kept []*exchange.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, snap := range snaps {
		snap := snap
		g.Go(func() error {
			if err := snap.FetchBook(gctx); err != nil {
				d.logger.Warn("order book fetch failed",
					slog.String("exchange", snap.Name()),
					slog.String("error", err.Error()))
				return nil
			}
			if !snap.HasTopOfBook() {
				return nil
			}
			mu.Lock()
			kept = append(kept, snap)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return kept
}

// scan walks every directional (buy, sell) venue pair and keeps those whose
// equalized, capped volume clears the fiat profit floor.
func (d *Detector) scan(snaps []*exchange.Snapshot, fiatRate decimal.Decimal) []candidate {
	var candidates []candidate
	for _, buy := range snaps {
		for _, sell := range snaps {
			if buy == sell {
				continue
			}
			if !buy.LowestAsk.Price.LessThan(sell.HighestBid.Price) {
				continue
			}

			// Never move more than either side absorbs at top of book.
			volume := decimal.Min(buy.LowestAsk.Volume, sell.HighestBid.Volume)

			volume, ok := d.validateLegs(buy, sell, volume)
			if !ok {
				continue
			}

			volume, ok = d.capExposure(buy, sell, volume, fiatRate)
			if !ok {
				continue
			}

			profit := profitFiat(buy, sell, volume, fiatRate)
			if !profit.GreaterThan(d.cfg.ArbitrageMinimum) {
				continue
			}

			candidates = append(candidates, candidate{
				buy: buy, sell: sell,
				volume:   volume,
				profit:   profit,
				fiatRate: fiatRate,
			})
		}
	}
	return candidates
}

// validateLegs rounds the volume to both venues' precision and checks both
// legs against their minimum size and notional rules.
func (d *Detector) validateLegs(buy, sell *exchange.Snapshot, volume decimal.Decimal) (decimal.Decimal, bool) {
	okBuy, _, buyVol := buy.Exchange.TradeValidity(buy.Market, buy.LowestAsk.Price, volume)
	okSell, _, sellVol := sell.Exchange.TradeValidity(sell.Market, sell.HighestBid.Price, volume)
	if !okBuy || !okSell {
		return decimal.Zero, false
	}

	volume = decimal.Min(buyVol, sellVol)
	if buyVol.Equal(sellVol) {
		return volume, true
	}

	// Precisions differed: the tighter rounding must pass both venues again.
	okBuy, _, _ = buy.Exchange.TradeValidity(buy.Market, buy.LowestAsk.Price, volume)
	okSell, _, _ = sell.Exchange.TradeValidity(sell.Market, sell.HighestBid.Price, volume)
	return volume, okBuy && okSell
}

// capExposure shrinks the volume so the fiat notional of the buy leg stays
// within the configured per-trade maximum.
func (d *Detector) capExposure(buy, sell *exchange.Snapshot, volume, fiatRate decimal.Decimal) (decimal.Decimal, bool) {
	if d.cfg.MaxFiatExposure.Sign() <= 0 || fiatRate.Sign() <= 0 {
		return volume, true
	}
	exposure := volume.Mul(buy.LowestAsk.Price).Mul(fiatRate)
	if !exposure.GreaterThan(d.cfg.MaxFiatExposure) {
		return volume, true
	}

	volume = d.cfg.MaxFiatExposure.Div(buy.LowestAsk.Price.Mul(fiatRate))
	return d.validateLegs(buy, sell, volume)
}

/// profitFiat computes the fiat profit of trading volume across the candidate:
// (sell - buy) * volume - fees, with both legs' fees taken in the quote
// currency, converted at the fiat rate.
func profitFiat(buy, sell *exchange.Snapshot, volume, fiatRate decimal.Decimal) decimal.Decimal {
	buyPrice := buy.LowestAsk.Price
	sellPrice := sell.HighestBid.Price

	gross := sellPrice.Sub(buyPrice).Mul(volume)
	fee := sell.Market.Fee.Mul(volume).Mul(sellPrice).
		Add(buy.Market.Fee.Mul(volume).Mul(buyPrice))
	return gross.Sub(fee).Mul(fiatRate)
}

// auditProfit writes the profit-audit entry for a retained candidate. The
// entry is written before the balance viability check so the trail captures
// every detected opportunity, tradable or not.
func (d *Detector) auditProfit(ctx context.Context, c candidate, pair domain.TradePair) {
	_, err := d.audit.LogProfit(ctx, domain.ProfitEvent{
		Profit:     c.profit,
		Currency:   d.rates.Fiat(),
		Exchanges:  []string{c.buy.Name(), c.sell.Name()},
		Pair:       pair.Symbol(),
		DetectedAt: time.Now().UTC(),
	})
	if err != nil {
		d.logger.Error("profit audit failed", slog.String("error", err.Error()))
	}
}

// settle re-checks real balances for a candidate and produces its downstream
// specs: a REPLENISH per zero-balance leg, or a sell-first TRANSACT pair.
func (d *Detector) settle(ctx context.Context, c candidate, pair domain.TradePair, queueID string, seenReplenish map[string]bool) ([]domain.JobSpec, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.buy.FetchBalances(gctx) })
	g.Go(func() error { return c.sell.FetchBalances(gctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The buy leg spends the quote currency, the sell leg the base currency.
	buySpend := c.buy.Balances.Get(pair.Quote)
	sellSpend := c.sell.Balances.Get(pair.Base)

	var specs []domain.JobSpec
	if buySpend.IsZero() {
		if spec := d.replenishSpec(ctx, c.buy.Name(), pair.Quote, seenReplenish); spec != nil {
			specs = append(specs, *spec)
		}
	}
	if sellSpend.IsZero() {
		if spec := d.replenishSpec(ctx, c.sell.Name(), pair.Base, seenReplenish); spec != nil {
			specs = append(specs, *spec)
		}
	}
	if len(specs) > 0 || buySpend.IsZero() || sellSpend.IsZero() {
		return specs, nil
	}

	volume, profit := c.volume, c.profit
	affordable := decimal.Min(buySpend.Div(c.buy.LowestAsk.Price), sellSpend)
	if affordable.LessThan(volume) {
		var ok bool
		volume, ok = d.validateLegs(c.buy, c.sell, affordable)
		if !ok {
			return nil, nil
		}
		// The shrunk volume must still be profitable on its own, and the
		// projection carried on the jobs must match what it can realize.
		profit = profitFiat(c.buy, c.sell, volume, c.fiatRate)
		if !profit.GreaterThan(d.cfg.ArbitrageMinimum) {
			return nil, nil
		}
	}

	// Sell is ordered first: it is the leg most likely to realize the
	// already-confirmed profit.
	return append(specs,
		transactSpec(c.sell, pair, "sell", volume, c.sell.HighestBid.Price, profit),
		transactSpec(c.buy, pair, "buy", volume, c.buy.LowestAsk.Price, profit),
	), nil
}

// replenishSpec returns a REPLENISH spec for the (exchange, currency) unless
// an equivalent one completed inside the lookback window or was already
// emitted this cycle.
func (d *Detector) replenishSpec(ctx context.Context, exchangeName, currency string, seen map[string]bool) *domain.JobSpec {
	key := exchangeName + ":" + currency
	if seen[key] {
		return nil
	}

	if d.cfg.ReplenishLookback > 0 {
		since := time.Now().UTC().Add(-d.cfg.ReplenishLookback)
		exists, err := d.jobs.Exists(ctx, domain.JobFilter{
			Type:   domain.JobReplenish,
			Status: []domain.JobStatus{domain.StatusComplete},
			Args:   map[string]string{"exchange": exchangeName, "currency": currency},
			Since:  &since,
		})
		if err != nil {
			d.logger.Error("replenish lookback failed", slog.String("error", err.Error()))
			return nil
		}
		if exists {
			d.logger.Debug("replenish suppressed",
				slog.String("exchange", exchangeName),
				slog.String("currency", currency))
			return nil
		}
	}

	seen[key] = true
	return &domain.JobSpec{
		Type: domain.JobReplenish,
		Args: map[string]string{"exchange": exchangeName, "currency": currency},
	}
}

func transactSpec(snap *exchange.Snapshot, pair domain.TradePair, side string, volume, price, profit decimal.Decimal) domain.JobSpec {
	return domain.JobSpec{
		Type: domain.JobTransact,
		Args: map[string]string{
			"exchange":          snap.Name(),
			"trade_pair_common": pair.Symbol(),
			"type":              side,
			"volume":            volume.String(),
			"price":             price.String(),
		},
		Info: map[string]any{
			"projected_profit": profit.String(),
		},
	}
}
