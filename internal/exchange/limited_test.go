package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// stubVenue counts the calls that reached the real adapter.
type stubVenue struct {
	calls int
}

func (s *stubVenue) Name() string { return "stub" }

func (s *stubVenue) Pairs(context.Context) ([]domain.Market, error) {
	s.calls++
	return []domain.Market{ethBTC()}, nil
}

func (s *stubVenue) BindPair(context.Context, domain.TradePair) (domain.Market, error) {
	s.calls++
	return ethBTC(), nil
}

func (s *stubVenue) OrderBook(context.Context, domain.Market) (domain.OrderBook, error) {
	s.calls++
	return domain.OrderBook{}, nil
}

func (s *stubVenue) Balances(context.Context) (domain.Balances, error) {
	s.calls++
	return domain.Balances{}, nil
}

func (s *stubVenue) PendingBalances(context.Context) (domain.Balances, error) {
	s.calls++
	return domain.Balances{}, nil
}

func (s *stubVenue) Trade(context.Context, domain.Market, domain.TradeSide, decimal.Decimal, decimal.Decimal) (domain.Trade, error) {
	s.calls++
	return domain.Trade{}, nil
}

func (s *stubVenue) TradeValidity(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal) {
	return ValidateTrade(m, price, volume)
}

func (s *stubVenue) DepositAddress(context.Context, string) (string, error) {
	s.calls++
	return "addr", nil
}

func (s *stubVenue) MinimumDepositVolume(context.Context, string) (decimal.Decimal, error) {
	s.calls++
	return decimal.Zero, nil
}

// stubMaster adds the withdrawal surface.
type stubMaster struct {
	stubVenue
}

func (s *stubMaster) Withdraw(context.Context, string, string, decimal.Decimal) (string, error) {
	s.calls++
	return "w1", nil
}

func (s *stubMaster) WithdrawalFee(context.Context, string, string) (decimal.Decimal, error) {
	s.calls++
	return decimal.Zero, nil
}

// windowCall records one limiter consultation.
type windowCall struct {
	key    string
	limit  int
	window time.Duration
}

// recordingLimiter logs every consultation and optionally denies one window.
type recordingLimiter struct {
	calls  []windowCall
	denyAt time.Duration
}

func (r *recordingLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.calls = append(r.calls, windowCall{key: key, limit: limit, window: window})
	return r.denyAt == 0 || window != r.denyAt, nil
}

func TestLimitClaimsBothWindowsPerCall(t *testing.T) {
	venue := &stubVenue{}
	lim := &recordingLimiter{}
	ex := Limit(venue, lim, Limits{PerSecond: 5, PerMinute: 60})

	if _, err := ex.OrderBook(context.Background(), ethBTC()); err != nil {
		t.Fatalf("OrderBook: %v", err)
	}

	want := []windowCall{
		{key: "stub:1s", limit: 5, window: time.Second},
		{key: "stub:1m", limit: 60, window: time.Minute},
	}
	if len(lim.calls) != len(want) {
		t.Fatalf("limiter calls = %+v, want %+v", lim.calls, want)
	}
	for i, w := range want {
		if lim.calls[i] != w {
			t.Errorf("call %d = %+v, want %+v", i, lim.calls[i], w)
		}
	}
	if venue.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", venue.calls)
	}
}

func TestLimitPerSecondCeilingBlocksCall(t *testing.T) {
	venue := &stubVenue{}
	lim := &recordingLimiter{denyAt: time.Second}
	ex := Limit(venue, lim, Limits{PerSecond: 5, PerMinute: 60})

	_, err := ex.Balances(context.Background())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if venue.calls != 0 {
		t.Errorf("adapter calls = %d, want 0 when the per-second window is full", venue.calls)
	}
}

func TestLimitPerMinuteCeilingBlocksCall(t *testing.T) {
	venue := &stubVenue{}
	lim := &recordingLimiter{denyAt: time.Minute}
	ex := Limit(venue, lim, Limits{PerSecond: 5, PerMinute: 60})

	_, err := ex.Trade(context.Background(), ethBTC(), domain.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(1))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if venue.calls != 0 {
		t.Errorf("adapter calls = %d, want 0 when the per-minute window is full", venue.calls)
	}
}

func TestLimitPreservesWithdrawer(t *testing.T) {
	master := &stubMaster{}
	lim := &recordingLimiter{}
	ex := Limit(master, lim, Limits{PerSecond: 5})

	w, ok := ex.(Withdrawer)
	if !ok {
		t.Fatal("wrapped master lost the Withdrawer capability")
	}
	if _, err := w.Withdraw(context.Background(), "BTC", "addr", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if len(lim.calls) != 1 {
		t.Errorf("limiter calls = %d, want 1 for the withdrawal", len(lim.calls))
	}
}

func TestLimitWithoutCeilingsIsIdentity(t *testing.T) {
	venue := &stubVenue{}
	if ex := Limit(venue, &recordingLimiter{}, Limits{}); ex != Exchange(venue) {
		t.Error("zero limits should return the venue unwrapped")
	}
	if ex := Limit(venue, nil, Limits{PerSecond: 5}); ex != Exchange(venue) {
		t.Error("nil limiter should return the venue unwrapped")
	}
}
