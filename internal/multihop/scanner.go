// Package multihop implements the triangular (multi-hop) comparison path: it
// samples a venue's order books, builds a currency conversion graph, looks
// for multiplicative loops with the cycle detector, and prices any loop found
// through real ladder depth with the book matcher.
package multihop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbot/internal/book"
	"github.com/alanyoungcy/arbot/internal/cycle"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
)

// priceTolerance is the allowed relative gap between a hop's realized
// notional and its naive top-of-book estimate.
var priceTolerance = decimal.NewFromFloat(0.001)

// marketBook pairs a bound market with its fetched ladder.
type marketBook struct {
	market domain.Market
	book   domain.OrderBook
}

// Opportunity is a profitable conversion loop priced through real depth.
type Opportunity struct {
	Exchange string
	// Path lists the loop's currencies; first and last entries are equal.
	Path []string
	// Rate is the compounded top-of-book conversion rate, before fees.
	Rate float64
	// Start and End are the amounts entering and leaving the loop in the
	// loop's first currency, after walking ladder depth and fees.
	Start decimal.Decimal
	End   decimal.Decimal
}

// Profitable reports whether the depth-priced loop still gains.
func (o Opportunity) Profitable() bool {
	return o.End.GreaterThan(o.Start)
}

// Scanner samples one venue and hunts conversion loops across its pairs.
type Scanner struct {
	logger *slog.Logger
}

// NewScanner creates a multi-hop scanner.
func NewScanner(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logger.With(slog.String("component", "multihop"))}
}

// Scan fetches books for the given pairs on one venue, builds the conversion
// graph, and prices the best loop found with the given starting amount. A
// graph without loops returns (nil, nil).
func (s *Scanner) Scan(ctx context.Context, ex exchange.Exchange, pairs []domain.TradePair, start decimal.Decimal) (*Opportunity, error) {
	books, err := s.fetchBooks(ctx, ex, pairs)
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, nil
	}

	graph := BuildGraph(books)
	path := cycle.FindAnyCycle(graph)
	if path == nil {
		return nil, nil
	}

	opp, err := s.evaluate(ex.Name(), books, graph, path, start)
	if err != nil {
		s.logger.Warn("loop pricing failed",
			slog.String("exchange", ex.Name()),
			slog.Any("path", path),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return opp, nil
}

// fetchBooks binds and fetches every pair concurrently, dropping pairs the
// venue does not list or whose fetch failed.
func (s *Scanner) fetchBooks(ctx context.Context, ex exchange.Exchange, pairs []domain.TradePair) ([]marketBook, error) {
	var (
		mu    sync.Mutex
		books []marketBook
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			m, err := ex.BindPair(gctx, pair)
			if err != nil {
				return nil
			}
			bk, err := ex.OrderBook(gctx, m)
			if err != nil || bk.Crossed() {
				return nil
			}
			if bk.LowestAsk().IsZero() || bk.HighestBid().IsZero() {
				return nil
			}
			mu.Lock()
			books = append(books, marketBook{market: m, book: bk})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return books, nil
}

// BuildGraph converts top-of-book prices into a conversion graph: selling the
// base at the best bid converts base to quote, and buying at the best ask
// converts quote to base at 1/ask.
func BuildGraph(books []marketBook) cycle.Graph {
	g := make(cycle.Graph)
	for _, mb := range books {
		base := mb.market.Pair.Base
		quote := mb.market.Pair.Quote

		bid, _ := mb.book.HighestBid().Price.Float64()
		ask, _ := mb.book.LowestAsk().Price.Float64()

		g.AddRate(base, quote, bid)
		if ask > 0 {
			g.AddRate(quote, base, 1/ask)
		}
	}
	return g
}

// evaluate walks the loop hop by hop through real ladder depth, verifying
// each hop's realized notional against its naive estimate and applying the
// market's fee.
func (s *Scanner) evaluate(venue string, books []marketBook, g cycle.Graph, path []string, start decimal.Decimal) (*Opportunity, error) {
	byPair := make(map[string]marketBook, len(books))
	for _, mb := range books {
		byPair[mb.market.Pair.Symbol()] = mb
	}

	amount := start
	for i := 0; i+1 < len(path); i++ {
		from, to := path[i], path[i+1]

		var err error
		amount, err = convert(byPair, from, to, amount)
		if err != nil {
			return nil, fmt.Errorf("multihop: hop %s->%s: %w", from, to, err)
		}
	}

	return &Opportunity{
		Exchange: venue,
		Path:     path,
		Rate:     cycle.CycleRate(g, path),
		Start:    start,
		End:      amount,
	}, nil
}

// convert sells amount of the from currency for the to currency through the
// matching ladder, checks the realized price against the naive top-of-book
// estimate, and deducts the market's fee from the proceeds.
func convert(byPair map[string]marketBook, from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	if mb, ok := byPair[from+"-"+to]; ok {
		// Selling the base into the bid ladder yields quote.
		res, err := book.MatchBids(mb.book.Bids, amount)
		if err != nil {
			return decimal.Zero, err
		}
		naive := amount.Mul(mb.book.HighestBid().Price)
		if !book.WithinTolerance(res.Bought, naive, priceTolerance) {
			return decimal.Zero, fmt.Errorf("realized %s outside tolerance of naive %s", res.Bought, naive)
		}
		return applyFee(res.Bought, mb.market.Fee), nil
	}

	if mb, ok := byPair[to+"-"+from]; ok {
		// Spending the quote into the ask ladder yields base.
		res, err := book.MatchAsks(mb.book.Asks, amount)
		if err != nil {
			return decimal.Zero, err
		}
		naive := amount.Div(mb.book.LowestAsk().Price)
		if !book.WithinTolerance(res.Bought, naive, priceTolerance) {
			return decimal.Zero, fmt.Errorf("realized %s outside tolerance of naive %s", res.Bought, naive)
		}
		return applyFee(res.Bought, mb.market.Fee), nil
	}

	return decimal.Zero, fmt.Errorf("no market: %w", domain.ErrTradePairNotFound)
}

func applyFee(amount, fee decimal.Decimal) decimal.Decimal {
	return amount.Sub(amount.Mul(fee))
}
