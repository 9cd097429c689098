// Package book walks multi-level order book ladders to fill a target amount,
// tracking the exact per-level fills used. The multi-hop comparison path uses
// it to price a conversion through real depth rather than top of book alone.
package book

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Result is the outcome of one depth walk.
type Result struct {
	// Bought is the total amount received, in the currency opposite the one
	// being sold.
	Bought decimal.Decimal
	// Fills lists the (price, volume) levels actually consumed, in book
	// order. The final fill is pro-rated when the walk lands inside a level.
	Fills []domain.Fill
	// Remaining is the unsold portion of the requested amount. Zero when the
	// ladder held enough depth.
	Remaining decimal.Decimal
}

// Filled reports whether the requested amount was fully matched.
func (r Result) Filled() bool {
	return r.Remaining.IsZero()
}

// MatchBids sells sellBase units of the base currency into the bid ladder,
// consuming levels from the top of book downward. Each level's full volume is
// consumed until the cumulative base quantity reaches sellBase; the final
// level is pro-rated to land exactly on the target. Bought is denominated in
// the quote currency.
//
// When the ladder's cumulative depth is insufficient, the partial result is
// returned together with domain.ErrInsufficientDepth.
func MatchBids(bids []domain.PriceLevel, sellBase decimal.Decimal) (Result, error) {
	res := Result{Remaining: sellBase}
	for _, level := range bids {
		if res.Remaining.IsZero() {
			return res, nil
		}
		take := level.Volume
		if take.GreaterThan(res.Remaining) {
			take = res.Remaining
		}
		res.Fills = append(res.Fills, domain.Fill{Price: level.Price, Volume: take})
		res.Bought = res.Bought.Add(take.Mul(level.Price))
		res.Remaining = res.Remaining.Sub(take)
	}
	if !res.Remaining.IsZero() {
		return res, domain.ErrInsufficientDepth
	}
	return res, nil
}

// MatchAsks sells sellQuote units of the quote currency into the ask ladder,
// buying the base currency level by level. A level offering volume v at price
// p costs v*p quote; the final level is pro-rated so exactly sellQuote is
// spent. Bought is denominated in the base currency.
//
// When the ladder's cumulative depth is insufficient, the partial result is
// returned together with domain.ErrInsufficientDepth.
func MatchAsks(asks []domain.PriceLevel, sellQuote decimal.Decimal) (Result, error) {
	res := Result{Remaining: sellQuote}
	for _, level := range asks {
		if res.Remaining.IsZero() {
			return res, nil
		}
		cost := level.Volume.Mul(level.Price)
		take := level.Volume
		if cost.GreaterThan(res.Remaining) {
			// Partial level: spend what is left at this price.
			take = res.Remaining.Div(level.Price)
			cost = res.Remaining
		}
		res.Fills = append(res.Fills, domain.Fill{Price: level.Price, Volume: take})
		res.Bought = res.Bought.Add(take)
		res.Remaining = res.Remaining.Sub(cost)
	}
	if !res.Remaining.IsZero() {
		return res, domain.ErrInsufficientDepth
	}
	return res, nil
}

// WithinTolerance reports whether realized differs from the naive top-of-book
// estimate by no more than the given fraction (e.g. 0.001 for 0.1%).
func WithinTolerance(realized, naive, tolerance decimal.Decimal) bool {
	if naive.IsZero() {
		return realized.IsZero()
	}
	diff := realized.Sub(naive).Abs()
	return diff.LessThanOrEqual(naive.Abs().Mul(tolerance))
}
