package exchange

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func ethBTC() domain.Market {
	return domain.Market{
		Pair:                 domain.TradePair{Base: "ETH", Quote: "BTC"},
		TradingCode:          "ETHBTC",
		Fee:                  decimal.RequireFromString("0.001"),
		MinTradeSize:         decimal.RequireFromString("0.01"),
		MinTradeSizeCurrency: "ETH",
		DecimalPlaces:        3,
	}
}

func TestValidateTradeRoundsDown(t *testing.T) {
	m := ethBTC()
	price := decimal.RequireFromString("0.03")

	ok, _, corrected := ValidateTrade(m, price, decimal.RequireFromString("1.23456"))
	if !ok {
		t.Fatal("expected valid trade")
	}
	want := decimal.RequireFromString("1.234")
	if !corrected.Equal(want) {
		t.Errorf("corrected = %s, want %s", corrected, want)
	}

	// Rounding is idempotent: validating the corrected volume changes nothing.
	ok2, _, again := ValidateTrade(m, price, corrected)
	if !ok2 || !again.Equal(corrected) {
		t.Errorf("revalidation changed volume: %s -> %s", corrected, again)
	}
}

func TestValidateTradeMinimumSize(t *testing.T) {
	m := ethBTC()
	price := decimal.RequireFromString("0.03")

	if ok, _, _ := ValidateTrade(m, price, decimal.RequireFromString("0.009")); ok {
		t.Error("volume below minimum accepted")
	}
	if ok, _, _ := ValidateTrade(m, price, decimal.RequireFromString("0.01")); !ok {
		t.Error("volume at minimum rejected")
	}
}

func TestValidateTradeMinimumInQuote(t *testing.T) {
	m := ethBTC()
	m.MinTradeSizeCurrency = "BTC"
	m.MinTradeSize = decimal.RequireFromString("0.001")

	// 0.02 ETH * 0.03 = 0.0006 BTC, below the quote-denominated minimum.
	if ok, _, _ := ValidateTrade(m, decimal.RequireFromString("0.03"), decimal.RequireFromString("0.02")); ok {
		t.Error("quote-denominated minimum not enforced")
	}
	// 0.05 ETH * 0.03 = 0.0015 BTC, above it.
	if ok, _, _ := ValidateTrade(m, decimal.RequireFromString("0.03"), decimal.RequireFromString("0.05")); !ok {
		t.Error("trade above quote-denominated minimum rejected")
	}
}

func TestValidateTradeMinNotional(t *testing.T) {
	m := ethBTC()
	m.MinNotional = decimal.RequireFromString("0.001")

	if ok, _, _ := ValidateTrade(m, decimal.RequireFromString("0.03"), decimal.RequireFromString("0.02")); ok {
		t.Error("notional below minimum accepted")
	}
}

func TestValidateTradeRejectsNonPositive(t *testing.T) {
	m := ethBTC()

	if ok, _, _ := ValidateTrade(m, decimal.Zero, decimal.NewFromInt(1)); ok {
		t.Error("zero price accepted")
	}
	if ok, _, _ := ValidateTrade(m, decimal.NewFromInt(1), decimal.Zero); ok {
		t.Error("zero volume accepted")
	}
	// Volume that rounds to zero is also invalid.
	if ok, _, _ := ValidateTrade(m, decimal.NewFromInt(1), decimal.RequireFromString("0.0001")); ok {
		t.Error("dust volume accepted")
	}
}

func TestFindPair(t *testing.T) {
	pairs := []domain.Market{ethBTC()}

	m, err := FindPair(pairs, domain.TradePair{Base: "ETH", Quote: "BTC"})
	if err != nil {
		t.Fatalf("FindPair: %v", err)
	}
	if m.TradingCode != "ETHBTC" {
		t.Errorf("trading code = %s, want ETHBTC", m.TradingCode)
	}

	_, err = FindPair(pairs, domain.TradePair{Base: "XRP", Quote: "BTC"})
	if !errors.Is(err, domain.ErrTradePairNotFound) {
		t.Errorf("err = %v, want ErrTradePairNotFound", err)
	}
}
