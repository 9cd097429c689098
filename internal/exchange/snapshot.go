package exchange

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Snapshot carries one venue's transient state through a single arbitrage
// evaluation: the bound market, the fetched order book, and the fetched
// balances. A Snapshot is constructed fresh per comparison cycle and
// discarded afterwards; none of its data is assumed valid across cycles.
type Snapshot struct {
	Exchange Exchange
	Market   domain.Market

	Book       domain.OrderBook
	LowestAsk  domain.PriceLevel
	HighestBid domain.PriceLevel

	Balances domain.Balances
	Pending  domain.Balances
}

// NewSnapshot binds the pair on the venue and returns a snapshot ready for
// book and balance fetches.
func NewSnapshot(ctx context.Context, ex Exchange, pair domain.TradePair) (*Snapshot, error) {
	m, err := ex.BindPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Exchange: ex, Market: m}, nil
}

// Name returns the venue identifier.
func (s *Snapshot) Name() string {
	return s.Exchange.Name()
}

// FetchBook retrieves the order book and caches the top of book. A book whose
// best ask is at or below its best bid indicates corrupt venue data and fails
// the fetch with domain.ErrCrossedBook.
func (s *Snapshot) FetchBook(ctx context.Context) error {
	bk, err := s.Exchange.OrderBook(ctx, s.Market)
	if err != nil {
		return fmt.Errorf("exchange: %s order book: %w", s.Name(), err)
	}
	if bk.Crossed() {
		return fmt.Errorf("exchange: %s %s: %w", s.Name(), s.Market.Pair.Symbol(), domain.ErrCrossedBook)
	}
	s.Book = bk
	s.LowestAsk = bk.LowestAsk()
	s.HighestBid = bk.HighestBid()
	return nil
}

// HasTopOfBook reports whether both sides of the book were populated.
func (s *Snapshot) HasTopOfBook() bool {
	return !s.LowestAsk.IsZero() && !s.HighestBid.IsZero()
}

// FetchBalances retrieves the venue's current available balances.
func (s *Snapshot) FetchBalances(ctx context.Context) error {
	bal, err := s.Exchange.Balances(ctx)
	if err != nil {
		return fmt.Errorf("exchange: %s balances: %w", s.Name(), err)
	}
	s.Balances = bal
	return nil
}
