package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. One row per
// (exchange, pair) holds the venue's listing constraints.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// ReplaceAll swaps the venue's full listing inside one transaction so readers
// never observe a partially refreshed venue.
func (s *MarketStore) ReplaceAll(ctx context.Context, exchange string, markets []domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin market refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM markets WHERE exchange = $1`, exchange); err != nil {
		return fmt.Errorf("postgres: clear markets %s: %w", exchange, err)
	}

	const query = `
		INSERT INTO markets (exchange, base, quote, trading_code, fee,
			min_trade_size, min_trade_size_currency, min_notional,
			decimal_places, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	for _, m := range markets {
		_, err := tx.Exec(ctx, query,
			exchange, m.Pair.Base, m.Pair.Quote, m.TradingCode, m.Fee,
			m.MinTradeSize, m.MinTradeSizeCurrency, m.MinNotional,
			m.DecimalPlaces)
		if err != nil {
			return fmt.Errorf("postgres: insert market %s %s: %w",
				exchange, m.Pair.Symbol(), err)
		}
	}
	return tx.Commit(ctx)
}

// ListByExchange returns every market the venue listed at its last refresh.
func (s *MarketStore) ListByExchange(ctx context.Context, exchange string) ([]domain.Market, error) {
	const query = `
		SELECT base, quote, trading_code, fee, min_trade_size,
			min_trade_size_currency, min_notional, decimal_places
		FROM markets WHERE exchange = $1
		ORDER BY base, quote`

	rows, err := s.pool.Query(ctx, query, exchange)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets %s: %w", exchange, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var m domain.Market
		err := rows.Scan(&m.Pair.Base, &m.Pair.Quote, &m.TradingCode, &m.Fee,
			&m.MinTradeSize, &m.MinTradeSizeCurrency, &m.MinNotional,
			&m.DecimalPlaces)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets %s: %w", exchange, err)
	}
	return markets, nil
}

// VenuesForPair returns the names of every venue listing the pair.
func (s *MarketStore) VenuesForPair(ctx context.Context, pair domain.TradePair) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT exchange FROM markets WHERE base = $1 AND quote = $2 ORDER BY exchange`,
		pair.Base, pair.Quote)
	if err != nil {
		return nil, fmt.Errorf("postgres: venues for %s: %w", pair.Symbol(), err)
	}
	defer rows.Close()

	var venues []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan venue: %w", err)
		}
		venues = append(venues, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: venues for %s: %w", pair.Symbol(), err)
	}
	return venues, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
