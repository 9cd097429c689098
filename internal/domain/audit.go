package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitEvent is an audit record of a detected arbitrage opportunity, written
// before the balance viability check so the trail captures every candidate.
type ProfitEvent struct {
	ID         string          `json:"id"`
	Profit     decimal.Decimal `json:"profit"`
	Currency   string          `json:"currency"` // reporting fiat symbol
	Exchanges  []string        `json:"exchange_names"`
	Pair       string          `json:"trade_pair"`
	DetectedAt time.Time       `json:"datetime"`
}

// WithdrawalFeeEvent records the transaction fee paid for a replenish
// withdrawal. Fee may be updated later by a WITHDRAWAL_FEE job once the venue
// reports the realized amount.
type WithdrawalFeeEvent struct {
	ID           string          `json:"id"`
	Fee          decimal.Decimal `json:"fee"`
	FeeFiat      decimal.Decimal `json:"fee_fiat"`
	Exchange     string          `json:"exchange"`
	Currency     string          `json:"currency"`
	WithdrawalID string          `json:"withdrawal_id"`
	CreatedAt    time.Time       `json:"datetime"`
}
