package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// QueueStatusStore implements domain.QueueStatusStore using PostgreSQL.
type QueueStatusStore struct {
	pool *pgxpool.Pool
}

// NewQueueStatusStore creates a new QueueStatusStore backed by the given pool.
func NewQueueStatusStore(pool *pgxpool.Pool) *QueueStatusStore {
	return &QueueStatusStore{pool: pool}
}

// Clear removes every status record. Called on executor startup so records
// left behind by a crashed instance never block a new one.
func (s *QueueStatusStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM queue_status`); err != nil {
		return fmt.Errorf("postgres: clear queue status: %w", err)
	}
	return nil
}

// Create inserts the status record for a starting executor instance.
func (s *QueueStatusStore) Create(ctx context.Context, qs domain.QueueStatus) error {
	const query = `
		INSERT INTO queue_status (id, running, pid, hostname, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query, qs.ID, qs.Running, qs.PID, qs.Hostname, qs.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create queue status: %w", err)
	}
	return nil
}

// Get fetches the status record for an executor instance.
func (s *QueueStatusStore) Get(ctx context.Context, id string) (domain.QueueStatus, error) {
	var qs domain.QueueStatus
	err := s.pool.QueryRow(ctx,
		`SELECT id, running, pid, hostname, started_at FROM queue_status WHERE id = $1`, id,
	).Scan(&qs.ID, &qs.Running, &qs.PID, &qs.Hostname, &qs.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueStatus{}, fmt.Errorf("postgres: queue status %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("postgres: get queue status %s: %w", id, err)
	}
	return qs, nil
}

// List returns every status record, oldest first.
func (s *QueueStatusStore) List(ctx context.Context) ([]domain.QueueStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, running, pid, hostname, started_at FROM queue_status ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list queue status: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueStatus
	for rows.Next() {
		var qs domain.QueueStatus
		if err := rows.Scan(&qs.ID, &qs.Running, &qs.PID, &qs.Hostname, &qs.StartedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan queue status: %w", err)
		}
		out = append(out, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list queue status: %w", err)
	}
	return out, nil
}

// SetRunning flips the running flag. The dispatch loop reads the flag every
// beat, so clearing it is how a stop request reaches the executor.
func (s *QueueStatusStore) SetRunning(ctx context.Context, id string, running bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_status SET running = $2 WHERE id = $1`, id, running)
	if err != nil {
		return fmt.Errorf("postgres: set queue status running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: queue status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QueueStatusStore = (*QueueStatusStore)(nil)
