package domain

import "github.com/shopspring/decimal"

// PriceLevel is a single price and volume entry in an order book ladder.
// Volume is denominated in the pair's base currency.
type PriceLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// IsZero reports whether the level is unset.
func (l PriceLevel) IsZero() bool {
	return l.Price.IsZero() && l.Volume.IsZero()
}

// OrderBook is a snapshot of the outstanding asks and bids for a pair on one
// venue. Asks are sorted ascending by price, bids descending, so index 0 is
// the top of book on both sides.
type OrderBook struct {
	Asks []PriceLevel
	Bids []PriceLevel
}

// LowestAsk returns the best sell price level, or a zero level when the ask
// side is empty.
func (b OrderBook) LowestAsk() PriceLevel {
	if len(b.Asks) == 0 {
		return PriceLevel{}
	}
	return b.Asks[0]
}

// HighestBid returns the best buy price level, or a zero level when the bid
// side is empty.
func (b OrderBook) HighestBid() PriceLevel {
	if len(b.Bids) == 0 {
		return PriceLevel{}
	}
	return b.Bids[0]
}

// Crossed reports whether the book is in the impossible state of a best ask
// at or below the best bid, which indicates corrupt venue data.
func (b OrderBook) Crossed() bool {
	if len(b.Asks) == 0 || len(b.Bids) == 0 {
		return false
	}
	return b.Asks[0].Price.LessThanOrEqual(b.Bids[0].Price)
}

// Fill is one consumed price level from a depth walk.
type Fill struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}
