package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, external_id, trade_pair_common, exchange, trade_type,
	price, volume, fees, status, type, executed_at`

// Upsert inserts or refreshes an executed trade.
func (s *TradeStore) Upsert(ctx context.Context, trade domain.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}

	const query = `
		INSERT INTO trades (
			id, external_id, trade_pair_common, exchange, trade_type,
			price, volume, fees, status, type, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			price = $6, volume = $7, fees = $8, status = $9, executed_at = $11`

	_, err := s.pool.Exec(ctx, query,
		trade.ID, nullable(trade.ExternalID), trade.Pair, trade.Exchange, trade.Side,
		trade.Price, trade.Volume, trade.Fees, trade.Status,
		nullable(trade.Kind), nullable(trade.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade: %w", err)
	}
	return nil
}

// ListRecent returns the most recently recorded trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t          domain.Trade
			externalID *string
			kind       *string
			executedAt *string
		)
		if err := rows.Scan(
			&t.ID, &externalID, &t.Pair, &t.Exchange, &t.Side,
			&t.Price, &t.Volume, &t.Fees, &t.Status, &kind, &executedAt,
		); err != nil {
			return nil, err
		}
		if externalID != nil {
			t.ExternalID = *externalID
		}
		if kind != nil {
			t.Kind = *kind
		}
		if executedAt != nil {
			t.ExecutedAt = *executedAt
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
