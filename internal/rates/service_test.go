package rates

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// countingSource returns a fixed rate and counts downloads.
type countingSource struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *countingSource) Rate(context.Context, string, string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rate, s.err
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memRateStore keeps the latest rate per (symbol, fiat) pair.
type memRateStore struct {
	mu    sync.Mutex
	rates map[string]storedRate
}

type storedRate struct {
	rate decimal.Decimal
	at   time.Time
}

func newMemRateStore() *memRateStore {
	return &memRateStore{rates: make(map[string]storedRate)}
}

func (s *memRateStore) Insert(_ context.Context, symbol, fiat string, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[symbol+"/"+fiat] = storedRate{rate: rate, at: time.Now()}
	return nil
}

func (s *memRateStore) Latest(_ context.Context, symbol, fiat string) (decimal.Decimal, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.rates[symbol+"/"+fiat]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return sr.rate, sr.at, nil
}

func (s *memRateStore) seed(symbol, fiat string, rate decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[symbol+"/"+fiat] = storedRate{rate: rate, at: at}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLatestDownloadsOnceAndCaches(t *testing.T) {
	source := &countingSource{rate: decimal.NewFromInt(25000)}
	store := newMemRateStore()
	svc := NewService(source, store, "GBP", time.Hour, testLogger())

	for i := 0; i < 3; i++ {
		rate, err := svc.Latest(context.Background(), "BTC")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if !rate.Equal(decimal.NewFromInt(25000)) {
			t.Fatalf("rate = %s, want 25000", rate)
		}
	}
	if source.count() != 1 {
		t.Errorf("source downloads = %d, want 1", source.count())
	}

	// The first download must have been persisted.
	stored, _, err := store.Latest(context.Background(), "BTC", "GBP")
	if err != nil {
		t.Fatalf("store Latest: %v", err)
	}
	if !stored.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("stored rate = %s, want 25000", stored)
	}
}

func TestLatestPrefersFreshStoredRate(t *testing.T) {
	source := &countingSource{rate: decimal.NewFromInt(99)}
	store := newMemRateStore()
	store.seed("ETH", "GBP", decimal.NewFromInt(1500), time.Now())
	svc := NewService(source, store, "GBP", time.Hour, testLogger())

	rate, err := svc.Latest(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("rate = %s, want stored 1500", rate)
	}
	if source.count() != 0 {
		t.Errorf("source downloads = %d, want 0 with a fresh stored rate", source.count())
	}
}

func TestLatestRefreshesStaleStoredRate(t *testing.T) {
	source := &countingSource{rate: decimal.NewFromInt(1600)}
	store := newMemRateStore()
	store.seed("ETH", "GBP", decimal.NewFromInt(1500), time.Now().Add(-2*time.Hour))
	svc := NewService(source, store, "GBP", time.Hour, testLogger())

	rate, err := svc.Latest(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(1600)) {
		t.Errorf("rate = %s, want refreshed 1600", rate)
	}
	if source.count() != 1 {
		t.Errorf("source downloads = %d, want 1", source.count())
	}
}

func TestLatestPropagatesSourceError(t *testing.T) {
	wantErr := errors.New("provider down")
	source := &countingSource{err: wantErr}
	svc := NewService(source, newMemRateStore(), "GBP", time.Hour, testLogger())

	_, err := svc.Latest(context.Background(), "BTC")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestRefreshAllDownloadsEverySymbol(t *testing.T) {
	source := &countingSource{rate: decimal.NewFromInt(10)}
	store := newMemRateStore()
	svc := NewService(source, store, "GBP", time.Hour, testLogger())

	svc.RefreshAll(context.Background(), []string{"BTC", "ETH", "LTC"})
	if source.count() != 3 {
		t.Errorf("source downloads = %d, want 3", source.count())
	}
	for _, symbol := range []string{"BTC", "ETH", "LTC"} {
		if _, _, err := store.Latest(context.Background(), symbol, "GBP"); err != nil {
			t.Errorf("store missing %s: %v", symbol, err)
		}
	}
}

func TestFiat(t *testing.T) {
	svc := NewService(&countingSource{}, newMemRateStore(), "USD", time.Hour, testLogger())
	if got := svc.Fiat(); got != "USD" {
		t.Errorf("Fiat() = %q, want USD", got)
	}
}
