package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// JobStore implements domain.JobStore using PostgreSQL. Job arguments are
// stored as JSONB so argument-equality filters can use containment queries.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a new JobStore backed by the given connection pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobSelectCols = `id, job_type, job_args, job_info, status, queue_id,
	worker_id, started_at, result, error, created_at, updated_at`

func scanJobRows(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		j          domain.Job
		argsRaw    []byte
		infoRaw    []byte
		resultRaw  []byte
		workerID   *string
		errMessage *string
	)
	if err := row.Scan(
		&j.ID, &j.Type, &argsRaw, &infoRaw, &j.Status, &j.QueueID,
		&workerID, &j.StartedAt, &resultRaw, &errMessage,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}

	if len(argsRaw) > 0 {
		if err := json.Unmarshal(argsRaw, &j.Args); err != nil {
			return domain.Job{}, fmt.Errorf("decode job args: %w", err)
		}
	}
	if len(infoRaw) > 0 {
		if err := json.Unmarshal(infoRaw, &j.Info); err != nil {
			return domain.Job{}, fmt.Errorf("decode job info: %w", err)
		}
	}
	if len(resultRaw) > 0 {
		var r domain.JobResult
		if err := json.Unmarshal(resultRaw, &r); err != nil {
			return domain.Job{}, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &r
	}
	if workerID != nil {
		j.WorkerID = *workerID
	}
	if errMessage != nil {
		j.Error = *errMessage
	}
	return j, nil
}

// Insert persists a freshly validated job.
func (s *JobStore) Insert(ctx context.Context, job domain.Job) error {
	argsRaw, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("postgres: encode job args: %w", err)
	}
	infoRaw, err := marshalNullable(job.Info)
	if err != nil {
		return fmt.Errorf("postgres: encode job info: %w", err)
	}

	const query = `
		INSERT INTO jobs (
			id, job_type, job_args, job_info, status, queue_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		job.ID, job.Type, argsRaw, infoRaw, job.Status, job.QueueID,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an existing job. The id, type, args,
// and creation time are never rewritten.
func (s *JobStore) Update(ctx context.Context, job domain.Job) error {
	resultRaw, err := marshalNullable(job.Result)
	if err != nil {
		return fmt.Errorf("postgres: encode job result: %w", err)
	}

	const query = `
		UPDATE jobs SET
			status = $2, worker_id = NULLIF($3, ''), started_at = $4,
			result = $5, error = NULLIF($6, ''), updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		job.ID, job.Status, job.WorkerID, job.StartedAt, resultRaw, job.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single job.
func (s *JobStore) GetByID(ctx context.Context, id string) (domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobSelectCols+` FROM jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("postgres: job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	return j, nil
}

// Find returns jobs matching the filter, oldest first.
func (s *JobStore) Find(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	query, args, err := buildJobQuery(`SELECT `+jobSelectCols+` FROM jobs`, f)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan jobs: %w", err)
	}
	return jobs, nil
}

// Exists reports whether at least one job matches the filter.
func (s *JobStore) Exists(ctx context.Context, f domain.JobFilter) (bool, error) {
	f.Limit = 0
	query, args, err := buildJobQuery(`SELECT 1 FROM jobs`, f)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(`+query+`)`, args...).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: job exists: %w", err)
	}
	return exists, nil
}

// DeleteByStatus removes all jobs in the given status.
func (s *JobStore) DeleteByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete jobs by status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// buildJobQuery appends the filter's WHERE clauses to a base query.
func buildJobQuery(base string, f domain.JobFilter) (string, []any, error) {
	query := base + ` WHERE TRUE`
	var args []any
	argIdx := 1

	if f.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, f.Type)
		argIdx++
	}
	if len(f.TypeNotIn) > 0 {
		query += fmt.Sprintf(" AND job_type != ALL($%d)", argIdx)
		args = append(args, f.TypeNotIn)
		argIdx++
	}
	if len(f.Status) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, f.Status)
		argIdx++
	}
	if len(f.Args) > 0 {
		argsRaw, err := json.Marshal(f.Args)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode args filter: %w", err)
		}
		query += fmt.Sprintf(" AND job_args @> $%d", argIdx)
		args = append(args, argsRaw)
		argIdx++
	}
	if f.QueueID != "" {
		query += fmt.Sprintf(" AND queue_id = $%d", argIdx)
		args = append(args, f.QueueID)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}
	return query, args, nil
}

// marshalNullable encodes v as JSON, mapping nil to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case *domain.JobResult:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// Compile-time interface check.
var _ domain.JobStore = (*JobStore)(nil)
