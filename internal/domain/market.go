package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TradePair is an exchange-agnostic currency pair. In pair X-Y, X (the base)
// is bought and sold in units of Y (the quote).
type TradePair struct {
	Base  string
	Quote string
}

// ParseTradePair parses a common pair symbol such as "ETH-BTC".
func ParseTradePair(symbol string) (TradePair, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradePair{}, fmt.Errorf("domain: malformed trade pair %q", symbol)
	}
	return TradePair{Base: parts[0], Quote: parts[1]}, nil
}

// Symbol returns the common "BASE-QUOTE" form of the pair.
func (p TradePair) Symbol() string {
	return p.Base + "-" + p.Quote
}

/// Market is one venue's listing of a trade pair: the venue-specific trading
// code plus the trading constraints needed to validate an order.
type Market struct {
	Pair        TradePair
	TradingCode string // venue-specific symbol, e.g. "ETHBTC"
	Fee         decimal.Decimal
	// MinTradeSize is denominated in MinTradeSizeCurrency, which is usually
	// but not always the base currency.
	MinTradeSize         decimal.Decimal
	MinTradeSizeCurrency string
	MinNotional          decimal.Decimal
	// DecimalPlaces is the allowed volume precision; submitted volumes must
	// be rounded down to this many places.
	DecimalPlaces int32
}

// RoundVolume rounds a volume down to the market's allowed precision.
// Rounding an already-rounded volume is a no-op.
func (m Market) RoundVolume(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(m.DecimalPlaces)
}

// Balances maps a currency symbol to an available amount.
type Balances map[string]decimal.Decimal

// Get returns the balance for a currency, treating an absent entry as zero.
func (b Balances) Get(currency string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return b[currency]
}

// TradeSide is the direction of a trade leg.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is an executed (or attempted) order on a venue.
type Trade struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id,omitempty"`
	Exchange   string          `json:"exchange"`
	Pair       string          `json:"trade_pair_common"`
	Side       TradeSide       `json:"trade_type"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Fees       decimal.Decimal `json:"fees"`
	Status     string          `json:"status"`
	Kind       string          `json:"type,omitempty"` // TRANSACT or CONVERT
	ExecutedAt string          `json:"date,omitempty"`
}
