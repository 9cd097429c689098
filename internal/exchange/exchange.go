// Package exchange defines the adapter interface every trading venue must
// implement, the per-comparison Snapshot that carries a venue's transient
// state through one arbitrage evaluation, and the static factory registry
// that resolves venue implementations at startup.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Exchange is the narrow capability surface the engine consumes from a venue.
// One implementation exists per venue; all methods that touch the network
// take a context and may block.
type Exchange interface {
	// Name returns the venue identifier, e.g. "binance".
	Name() string
	// Pairs returns every trade pair the venue currently lists, with its
	// trading constraints.
	Pairs(ctx context.Context) ([]domain.Market, error)
	// BindPair resolves a common trade pair to the venue's listing. It
	// returns domain.ErrTradePairNotFound when the venue does not list it.
	BindPair(ctx context.Context, pair domain.TradePair) (domain.Market, error)
	// OrderBook fetches the current ask/bid ladders for a bound market.
	OrderBook(ctx context.Context, m domain.Market) (domain.OrderBook, error)
	// Balances returns the available amount of every currency held.
	Balances(ctx context.Context) (domain.Balances, error)
	// PendingBalances returns per-currency amounts of in-flight deposits.
	PendingBalances(ctx context.Context) (domain.Balances, error)
	// Trade submits a limit order and blocks until it fills.
	Trade(ctx context.Context, m domain.Market, side domain.TradeSide, volume, price decimal.Decimal) (domain.Trade, error)
	// TradeValidity rounds the volume to the venue's precision and checks it
	// against the venue's minimum size and notional rules. It returns the
	// corrected price and volume alongside the verdict.
	TradeValidity(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal)
	// DepositAddress returns the venue's deposit address for a currency.
	DepositAddress(ctx context.Context, currency string) (string, error)
	// MinimumDepositVolume returns the smallest deposit the venue credits.
	MinimumDepositVolume(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Withdrawer is the additional capability of the master (reserve) exchange,
// which funds replenish transfers to the trading venues.
type Withdrawer interface {
	Exchange
	// Withdraw sends amount of currency to address and returns the venue's
	// withdrawal id.
	Withdraw(ctx context.Context, currency, address string, amount decimal.Decimal) (string, error)
	// WithdrawalFee returns the realized transaction fee for a withdrawal.
	WithdrawalFee(ctx context.Context, currency, withdrawalID string) (decimal.Decimal, error)
}

// ValidateTrade is the shared TradeValidity implementation. The volume is
// rounded down to the market's allowed precision first; the minimum trade
// size is compared in its denominating currency.
func ValidateTrade(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal) {
	if price.Sign() <= 0 || volume.Sign() <= 0 {
		return false, price, decimal.Zero
	}
	corrected := m.RoundVolume(volume)
	if corrected.Sign() <= 0 {
		return false, price, corrected
	}
	size := corrected
	if m.MinTradeSizeCurrency == m.Pair.Quote {
		size = corrected.Mul(price)
	}
	if size.LessThan(m.MinTradeSize) {
		return false, price, corrected
	}
	if m.MinNotional.Sign() > 0 && corrected.Mul(price).LessThan(m.MinNotional) {
		return false, price, corrected
	}
	return true, price, corrected
}

// FindPair scans a venue's pair listing for the given common pair.
func FindPair(pairs []domain.Market, pair domain.TradePair) (domain.Market, error) {
	for _, m := range pairs {
		if m.Pair == pair {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("exchange: %s: %w", pair.Symbol(), domain.ErrTradePairNotFound)
}
