package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Limits carries one venue's API request ceilings. A zero field disables
// that window.
type Limits struct {
	PerSecond int
	PerMinute int
}

// Limit wraps a venue so every outbound API call first claims a slot in each
// configured sliding window. A denied claim fails the call with
// domain.ErrRateLimited instead of queueing it. A Withdrawer stays a
// Withdrawer through the wrapper.
func Limit(ex Exchange, limiter domain.RateLimiter, limits Limits) Exchange {
	if limiter == nil || (limits.PerSecond <= 0 && limits.PerMinute <= 0) {
		return ex
	}
	l := &limited{inner: ex, limiter: limiter, limits: limits}
	if w, ok := ex.(Withdrawer); ok {
		return &limitedWithdrawer{limited: l, inner: w}
	}
	return l
}

type limited struct {
	inner   Exchange
	limiter domain.RateLimiter
	limits  Limits
}

// claim takes one slot per configured window. Each window uses its own
// limiter key so trimming one window's entries cannot discard the other's
// history.
func (l *limited) claim(ctx context.Context) error {
	for _, w := range []struct {
		suffix string
		limit  int
		window time.Duration
	}{
		{":1s", l.limits.PerSecond, time.Second},
		{":1m", l.limits.PerMinute, time.Minute},
	} {
		if w.limit <= 0 {
			continue
		}
		ok, err := l.limiter.Allow(ctx, l.inner.Name()+w.suffix, w.limit, w.window)
		if err != nil {
			return fmt.Errorf("exchange: %s rate check: %w", l.inner.Name(), err)
		}
		if !ok {
			return fmt.Errorf("exchange: %s: %w", l.inner.Name(), domain.ErrRateLimited)
		}
	}
	return nil
}

func (l *limited) Name() string { return l.inner.Name() }

func (l *limited) Pairs(ctx context.Context) ([]domain.Market, error) {
	if err := l.claim(ctx); err != nil {
		return nil, err
	}
	return l.inner.Pairs(ctx)
}

func (l *limited) BindPair(ctx context.Context, pair domain.TradePair) (domain.Market, error) {
	if err := l.claim(ctx); err != nil {
		return domain.Market{}, err
	}
	return l.inner.BindPair(ctx, pair)
}

func (l *limited) OrderBook(ctx context.Context, m domain.Market) (domain.OrderBook, error) {
	if err := l.claim(ctx); err != nil {
		return domain.OrderBook{}, err
	}
	return l.inner.OrderBook(ctx, m)
}

func (l *limited) Balances(ctx context.Context) (domain.Balances, error) {
	if err := l.claim(ctx); err != nil {
		return nil, err
	}
	return l.inner.Balances(ctx)
}

func (l *limited) PendingBalances(ctx context.Context) (domain.Balances, error) {
	if err := l.claim(ctx); err != nil {
		return nil, err
	}
	return l.inner.PendingBalances(ctx)
}

func (l *limited) Trade(ctx context.Context, m domain.Market, side domain.TradeSide, volume, price decimal.Decimal) (domain.Trade, error) {
	if err := l.claim(ctx); err != nil {
		return domain.Trade{}, err
	}
	return l.inner.Trade(ctx, m, side, volume, price)
}

// TradeValidity is local arithmetic and claims no slot.
func (l *limited) TradeValidity(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal) {
	return l.inner.TradeValidity(m, price, volume)
}

func (l *limited) DepositAddress(ctx context.Context, currency string) (string, error) {
	if err := l.claim(ctx); err != nil {
		return "", err
	}
	return l.inner.DepositAddress(ctx, currency)
}

func (l *limited) MinimumDepositVolume(ctx context.Context, currency string) (decimal.Decimal, error) {
	if err := l.claim(ctx); err != nil {
		return decimal.Zero, err
	}
	return l.inner.MinimumDepositVolume(ctx, currency)
}

// limitedWithdrawer extends the wrapper over the master venue's withdrawal
// surface.
type limitedWithdrawer struct {
	*limited
	inner Withdrawer
}

func (l *limitedWithdrawer) Withdraw(ctx context.Context, currency, address string, amount decimal.Decimal) (string, error) {
	if err := l.claim(ctx); err != nil {
		return "", err
	}
	return l.inner.Withdraw(ctx, currency, address, amount)
}

func (l *limitedWithdrawer) WithdrawalFee(ctx context.Context, currency, withdrawalID string) (decimal.Decimal, error) {
	if err := l.claim(ctx); err != nil {
		return decimal.Zero, err
	}
	return l.inner.WithdrawalFee(ctx, currency, withdrawalID)
}

// Compile-time interface checks.
var (
	_ Exchange   = (*limited)(nil)
	_ Withdrawer = (*limitedWithdrawer)(nil)
)
