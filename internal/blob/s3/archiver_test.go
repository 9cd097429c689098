package s3blob

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func TestArchivePathUniquePerPass(t *testing.T) {
	first := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)

	p1 := archivePath("audit_profit", first)
	p2 := archivePath("audit_profit", second)

	if p1 != "archive/audit_profit/2026-01/20260115T120000Z.jsonl" {
		t.Errorf("path = %s", p1)
	}
	if p1 == p2 {
		t.Errorf("two passes in one month share key %s", p1)
	}
	if !strings.HasPrefix(p2, "archive/audit_profit/2026-01/") {
		t.Errorf("path = %s, want same month partition", p2)
	}
}

func TestMarshalJSONLOneLinePerEvent(t *testing.T) {
	events := []domain.ProfitEvent{
		{Pair: "ETH-BTC", Profit: decimal.RequireFromString("0.979"), Currency: "GBP"},
		{Pair: "LTC-BTC", Profit: decimal.RequireFromString("1.5"), Currency: "GBP"},
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		t.Fatalf("marshalJSONL: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"ETH-BTC"`) || !strings.Contains(lines[1], `"LTC-BTC"`) {
		t.Errorf("unexpected encoding: %q", lines)
	}
}
