package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// LogProfit appends a profit event and returns its id.
func (s *AuditStore) LogProfit(ctx context.Context, ev domain.ProfitEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_profit (id, profit, currency, exchange_names, trade_pair, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Profit, ev.Currency, ev.Exchanges, ev.Pair, ev.DetectedAt)
	if err != nil {
		return "", fmt.Errorf("postgres: log profit: %w", err)
	}
	return ev.ID, nil
}

// LogWithdrawalFee appends a withdrawal-fee event and returns its id.
func (s *AuditStore) LogWithdrawalFee(ctx context.Context, ev domain.WithdrawalFeeEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_withdrawal_fee (id, fee, fee_fiat, exchange, currency, withdrawal_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Fee, ev.FeeFiat, ev.Exchange, ev.Currency, ev.WithdrawalID, ev.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("postgres: log withdrawal fee: %w", err)
	}
	return ev.ID, nil
}

// UpdateWithdrawalFee sets the realized fee on an existing event.
func (s *AuditStore) UpdateWithdrawalFee(ctx context.Context, id string, fee decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_withdrawal_fee SET fee = $2 WHERE id = $1`, id, fee)
	if err != nil {
		return fmt.Errorf("postgres: update withdrawal fee %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: withdrawal fee event %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListProfitBefore returns profit events detected strictly before the given
// time, oldest first (for archiving).
func (s *AuditStore) ListProfitBefore(ctx context.Context, before time.Time) ([]domain.ProfitEvent, error) {
	const query = `
		SELECT id, profit, currency, exchange_names, trade_pair, detected_at
		FROM audit_profit WHERE detected_at < $1 ORDER BY detected_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profit before: %w", err)
	}
	defer rows.Close()

	var events []domain.ProfitEvent
	for rows.Next() {
		var ev domain.ProfitEvent
		if err := rows.Scan(&ev.ID, &ev.Profit, &ev.Currency, &ev.Exchanges, &ev.Pair, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan profit event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteProfitBefore deletes profit events detected before the given time.
func (s *AuditStore) DeleteProfitBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_profit WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete profit before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
