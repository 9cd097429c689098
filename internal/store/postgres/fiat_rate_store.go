package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// FiatRateStore implements domain.FiatRateStore using PostgreSQL. Every
// refresh appends a row, preserving the rate history.
type FiatRateStore struct {
	pool *pgxpool.Pool
}

// NewFiatRateStore creates a new FiatRateStore backed by the given pool.
func NewFiatRateStore(pool *pgxpool.Pool) *FiatRateStore {
	return &FiatRateStore{pool: pool}
}

// Insert appends a rate observation.
func (s *FiatRateStore) Insert(ctx context.Context, symbol, fiat string, rate decimal.Decimal) error {
	const query = `INSERT INTO fiat_rates (symbol, fiat, rate) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, symbol, fiat, rate); err != nil {
		return fmt.Errorf("postgres: insert fiat rate %s/%s: %w", symbol, fiat, err)
	}
	return nil
}

// Latest returns the most recent rate observation and its timestamp.
func (s *FiatRateStore) Latest(ctx context.Context, symbol, fiat string) (decimal.Decimal, time.Time, error) {
	var (
		rate      decimal.Decimal
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT rate, created_at FROM fiat_rates
		WHERE symbol = $1 AND fiat = $2
		ORDER BY created_at DESC LIMIT 1`, symbol, fiat,
	).Scan(&rate, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, time.Time{}, fmt.Errorf("postgres: fiat rate %s/%s: %w", symbol, fiat, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("postgres: latest fiat rate %s/%s: %w", symbol, fiat, err)
	}
	return rate, createdAt, nil
}

// Compile-time interface check.
var _ domain.FiatRateStore = (*FiatRateStore)(nil)
