package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func levels(pairs ...[2]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.PriceLevel{
			Price:  decimal.RequireFromString(p[0]),
			Volume: decimal.RequireFromString(p[1]),
		})
	}
	return out
}

func TestMatchBidsWalksLevels(t *testing.T) {
	bids := levels(
		[2]string{"0.09", "1"},
		[2]string{"0.088", "0.007"},
		[2]string{"0.087", "0.998"},
	)

	res, err := MatchBids(bids, decimal.RequireFromString("2.005"))
	if err != nil {
		t.Fatalf("MatchBids: %v", err)
	}
	if !res.Filled() {
		t.Fatalf("expected full fill, remaining %s", res.Remaining)
	}
	if len(res.Fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(res.Fills))
	}

	// Final level is pro-rated: 2.005 - 1 - 0.007 = 0.998 exactly.
	if got := res.Fills[2].Volume; !got.Equal(decimal.RequireFromString("0.998")) {
		t.Errorf("final fill volume = %s, want 0.998", got)
	}

	// 1*0.09 + 0.007*0.088 + 0.998*0.087 = 0.177442
	want := decimal.RequireFromString("0.177442")
	if !res.Bought.Equal(want) {
		t.Errorf("Bought = %s, want %s", res.Bought, want)
	}
}

func TestMatchBidsInsufficientDepth(t *testing.T) {
	bids := levels([2]string{"0.09", "1"})

	res, err := MatchBids(bids, decimal.NewFromInt(2))
	if !errors.Is(err, domain.ErrInsufficientDepth) {
		t.Fatalf("err = %v, want ErrInsufficientDepth", err)
	}
	if res.Filled() {
		t.Error("partial walk reported as filled")
	}
	if !res.Remaining.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Remaining = %s, want 1", res.Remaining)
	}
	if !res.Bought.Equal(decimal.RequireFromString("0.09")) {
		t.Errorf("Bought = %s, want 0.09", res.Bought)
	}
}

func TestMatchAsksProRatesFinalLevel(t *testing.T) {
	asks := levels(
		[2]string{"0.1", "2"},  // costs 0.2 quote
		[2]string{"0.2", "10"}, // costs 2.0 quote
	)

	// Spend 0.3 quote: consume level one fully (0.2), then 0.1/0.2 = 0.5 base
	// from level two.
	res, err := MatchAsks(asks, decimal.RequireFromString("0.3"))
	if err != nil {
		t.Fatalf("MatchAsks: %v", err)
	}
	if !res.Filled() {
		t.Fatalf("expected full fill, remaining %s", res.Remaining)
	}
	want := decimal.RequireFromString("2.5")
	if !res.Bought.Equal(want) {
		t.Errorf("Bought = %s, want %s", res.Bought, want)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(res.Fills))
	}
	if !res.Fills[1].Volume.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("final fill volume = %s, want 0.5", res.Fills[1].Volume)
	}
}

func TestMatchAsksInsufficientDepth(t *testing.T) {
	asks := levels([2]string{"0.1", "1"})

	_, err := MatchAsks(asks, decimal.NewFromInt(1))
	if !errors.Is(err, domain.ErrInsufficientDepth) {
		t.Fatalf("err = %v, want ErrInsufficientDepth", err)
	}
}

func TestWithinTolerance(t *testing.T) {
	tol := decimal.RequireFromString("0.001")

	cases := []struct {
		realized, naive string
		want            bool
	}{
		{"100", "100", true},
		{"100.1", "100", true},  // exactly 0.1%
		{"100.2", "100", false}, // 0.2%
		{"99.9", "100", true},   // below, within
		{"0", "0", true},        // both zero
		{"0.0001", "0", false},  // naive zero, realized not
	}
	for _, c := range cases {
		got := WithinTolerance(
			decimal.RequireFromString(c.realized),
			decimal.RequireFromString(c.naive),
			tol,
		)
		if got != c.want {
			t.Errorf("WithinTolerance(%s, %s) = %v, want %v", c.realized, c.naive, got, c.want)
		}
	}
}
