package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. One row per
// exchange holds the latest snapshot as JSONB.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Upsert replaces the exchange's balance snapshot.
func (s *BalanceStore) Upsert(ctx context.Context, exchange string, balances domain.Balances) error {
	raw, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("postgres: encode balances: %w", err)
	}

	const query = `
		INSERT INTO balances (exchange, amounts, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (exchange) DO UPDATE SET amounts = $2, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, exchange, raw); err != nil {
		return fmt.Errorf("postgres: upsert balances %s: %w", exchange, err)
	}
	return nil
}

// Latest returns the most recent snapshot and its age.
func (s *BalanceStore) Latest(ctx context.Context, exchange string) (domain.Balances, time.Time, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT amounts, updated_at FROM balances WHERE exchange = $1`, exchange,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("postgres: balances %s: %w", exchange, domain.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres: latest balances %s: %w", exchange, err)
	}

	var balances domain.Balances
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres: decode balances %s: %w", exchange, err)
	}
	return balances, updatedAt, nil
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
