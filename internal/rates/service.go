package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Source produces a spot conversion rate for one crypto symbol.
type Source interface {
	Rate(ctx context.Context, symbol, fiat string) (decimal.Decimal, error)
}

// Service serves fiat conversion rates from an in-memory cache, falling back
// to the store and finally to a live download. Every fresh download is
// appended to the store so the rate history survives restarts.
type Service struct {
	source Source
	store  domain.FiatRateStore
	fiat   string
	maxAge time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedRate
}

type cachedRate struct {
	rate decimal.Decimal
	at   time.Time
}

// NewService creates a rate service reporting in the given fiat currency.
// Cached rates older than maxAge are refreshed on access.
func NewService(source Source, store domain.FiatRateStore, fiat string, maxAge time.Duration, logger *slog.Logger) *Service {
	return &Service{
		source: source,
		store:  store,
		fiat:   fiat,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "rates")),
		cache:  make(map[string]cachedRate),
	}
}

// Fiat returns the reporting fiat symbol.
func (s *Service) Fiat() string { return s.fiat }

// Latest returns the conversion rate for one unit of symbol. A stale or
// missing cache entry triggers a store lookup, then a live download.
func (s *Service) Latest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	cached, ok := s.cache[symbol]
	s.mu.RUnlock()
	if ok && time.Since(cached.at) < s.maxAge {
		return cached.rate, nil
	}

	if rate, at, err := s.store.Latest(ctx, symbol, s.fiat); err == nil && time.Since(at) < s.maxAge {
		s.put(symbol, rate, at)
		return rate, nil
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, err
	}

	return s.refresh(ctx, symbol)
}

// RefreshAll downloads a fresh rate for every given symbol. Failures are
// logged and skipped so one bad symbol does not starve the rest.
func (s *Service) RefreshAll(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		if _, err := s.refresh(ctx, symbol); err != nil {
			s.logger.Warn("rate refresh failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Service) refresh(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rate, err := s.source.Rate(ctx, symbol, s.fiat)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: refresh %s: %w", symbol, err)
	}

	if err := s.store.Insert(ctx, symbol, s.fiat, rate); err != nil {
		s.logger.Warn("rate persist failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}
	s.put(symbol, rate, time.Now())
	return rate, nil
}

func (s *Service) put(symbol string, rate decimal.Decimal, at time.Time) {
	s.mu.Lock()
	s.cache[symbol] = cachedRate{rate: rate, at: at}
	s.mu.Unlock()
}
