package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
)

// leaseRecorder tracks which method leases were taken and whether any is
// live at a given moment.
type leaseRecorder struct {
	mu     sync.Mutex
	active int
	takes  []string // "exchange:METHOD:owner"
}

func (l *leaseRecorder) Acquire(_ context.Context, exchange, method, owner string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active++
	l.takes = append(l.takes, exchange+":"+method+":"+owner)
	return func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
	}, nil
}

func (l *leaseRecorder) IsHeld(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (l *leaseRecorder) ReapOwner(context.Context, string) error { return nil }
func (l *leaseRecorder) ReapAll(context.Context) error           { return nil }

func (l *leaseRecorder) holding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active > 0
}

var _ domain.MethodLockManager = (*leaseRecorder)(nil)

// tradeVenue is a single-market venue that notes whether its Trade call ran
// under a live lease.
type tradeVenue struct {
	name       string
	market     domain.Market
	book       domain.OrderBook
	locks      *leaseRecorder
	underLease bool
}

func (v *tradeVenue) Name() string { return v.name }

func (v *tradeVenue) Pairs(context.Context) ([]domain.Market, error) {
	return []domain.Market{v.market}, nil
}

func (v *tradeVenue) BindPair(_ context.Context, pair domain.TradePair) (domain.Market, error) {
	if v.market.Pair != pair {
		return domain.Market{}, domain.ErrTradePairNotFound
	}
	return v.market, nil
}

func (v *tradeVenue) OrderBook(context.Context, domain.Market) (domain.OrderBook, error) {
	return v.book, nil
}

func (v *tradeVenue) Balances(context.Context) (domain.Balances, error) {
	return domain.Balances{}, nil
}

func (v *tradeVenue) PendingBalances(context.Context) (domain.Balances, error) {
	return domain.Balances{}, nil
}

func (v *tradeVenue) Trade(_ context.Context, m domain.Market, side domain.TradeSide, volume, price decimal.Decimal) (domain.Trade, error) {
	v.underLease = v.locks.holding()
	return domain.Trade{
		ID:       "t1",
		Exchange: v.name,
		Pair:     m.Pair.Symbol(),
		Side:     side,
		Price:    price,
		Volume:   volume,
	}, nil
}

func (v *tradeVenue) TradeValidity(m domain.Market, price, volume decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal) {
	return exchange.ValidateTrade(m, price, volume)
}

func (v *tradeVenue) DepositAddress(context.Context, string) (string, error) {
	return "addr", nil
}

func (v *tradeVenue) MinimumDepositVolume(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

var _ exchange.Exchange = (*tradeVenue)(nil)

// memTrades records upserted trades.
type memTrades struct {
	trades []domain.Trade
}

func (m *memTrades) Upsert(_ context.Context, t domain.Trade) error {
	m.trades = append(m.trades, t)
	return nil
}

func (m *memTrades) ListRecent(context.Context, int) ([]domain.Trade, error) {
	return m.trades, nil
}

func ethBTCMarket() domain.Market {
	return domain.Market{
		Pair:                 domain.TradePair{Base: "ETH", Quote: "BTC"},
		TradingCode:          "ETHBTC",
		Fee:                  decimal.RequireFromString("0.001"),
		MinTradeSize:         decimal.RequireFromString("0.001"),
		MinTradeSizeCurrency: "ETH",
		DecimalPlaces:        4,
	}
}

func newTradeVenue(locks *leaseRecorder) *tradeVenue {
	return &tradeVenue{
		name:   "stub",
		market: ethBTCMarket(),
		book: domain.OrderBook{
			Asks: []domain.PriceLevel{{Price: decimal.RequireFromString("1.0"), Volume: decimal.NewFromInt(10)}},
			Bids: []domain.PriceLevel{{Price: decimal.RequireFromString("0.9"), Volume: decimal.NewFromInt(10)}},
		},
		locks: locks,
	}
}

func TestTransactTradesUnderMethodLease(t *testing.T) {
	locks := &leaseRecorder{}
	venue := newTradeVenue(locks)

	registry := exchange.NewRegistry()
	registry.Add(venue)
	trades := &memTrades{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := NewTransactHandler(registry, locks, trades, logger)

	res, err := handler(context.Background(), domain.Job{
		ID:      "j1",
		Type:    domain.JobTransact,
		QueueID: "q1",
		Args: map[string]string{
			"exchange":          "stub",
			"trade_pair_common": "ETH-BTC",
			"type":              "buy",
			"volume":            "1",
			"price":             "1.0",
		},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Trade == nil || res.Trade.Kind != string(domain.JobTransact) {
		t.Fatalf("result = %+v, want a TRANSACT trade", res)
	}

	if !venue.underLease {
		t.Error("order was submitted without the venue's TRANSACT lease")
	}
	if len(locks.takes) != 1 || locks.takes[0] != "stub:TRANSACT:q1" {
		t.Errorf("leases taken = %v, want [stub:TRANSACT:q1]", locks.takes)
	}
	if locks.holding() {
		t.Error("lease still live after the handler returned")
	}
	if len(trades.trades) != 1 {
		t.Errorf("persisted trades = %d, want 1", len(trades.trades))
	}
}

func TestConvertTradesUnderMethodLease(t *testing.T) {
	locks := &leaseRecorder{}
	venue := newTradeVenue(locks)

	registry := exchange.NewRegistry()
	registry.Add(venue)
	trades := &memTrades{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := NewConvertHandler(registry, locks, trades, logger)

	res, err := handler(context.Background(), domain.Job{
		ID:      "j2",
		Type:    domain.JobConvert,
		QueueID: "q1",
		Args: map[string]string{
			"exchange":      "stub",
			"currency_from": "BTC",
			"currency_to":   "ETH",
			"volume":        "1",
		},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Trade == nil || res.Trade.Kind != string(domain.JobConvert) {
		t.Fatalf("result = %+v, want a CONVERT trade", res)
	}

	if !venue.underLease {
		t.Error("conversion was submitted without the venue's CONVERT lease")
	}
	if len(locks.takes) != 1 || locks.takes[0] != "stub:CONVERT:q1" {
		t.Errorf("leases taken = %v, want [stub:CONVERT:q1]", locks.takes)
	}
	if locks.holding() {
		t.Error("lease still live after the handler returned")
	}
}
