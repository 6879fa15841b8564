package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists approval requests. Resolve is a compare-and-swap from
// AWAITING, so two racing replies cannot both resolve one request.
type Store interface {
	Create(ctx context.Context, req *Request) error
	GetAwaitingByCode(ctx context.Context, code int64) (*Request, error)
	ListAwaiting(ctx context.Context) ([]Request, error)
	ListAwaitingOlderThan(ctx context.Context, cutoff time.Time) ([]Request, error)
	Resolve(ctx context.Context, id uuid.UUID, to Status) (*Request, error)
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const requestColumns = `id, appointment_id, appointment_code, status, created_at, resolved_at`

func (s *PgStore) Create(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_requests (id, appointment_id, appointment_code, status, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, req.ID, req.AppointmentID, req.AppointmentCode, StatusAwaiting)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	req.Status = StatusAwaiting
	return nil
}

func (s *PgStore) GetAwaitingByCode(ctx context.Context, code int64) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE appointment_code = $1 AND status = $2
	`, code, StatusAwaiting)
	return scanRequest(row)
}

func (s *PgStore) ListAwaiting(ctx context.Context) ([]Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE status = $1
		ORDER BY created_at ASC
	`, StatusAwaiting)
	if err != nil {
		return nil, fmt.Errorf("list awaiting requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PgStore) ListAwaitingOlderThan(ctx context.Context, cutoff time.Time) ([]Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
	`, StatusAwaiting, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// Resolve moves a request out of AWAITING. The WHERE clause is the
// guard: a request already resolved by a concurrent reply stays as it
// is and the caller gets ErrRequestNotFound.
func (s *PgStore) Resolve(ctx context.Context, id uuid.UUID, to Status) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE approval_requests
		SET status = $2, resolved_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+requestColumns+`
	`, id, to, StatusAwaiting)
	return scanRequest(row)
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.AppointmentID, &req.AppointmentCode, &req.Status, &req.CreatedAt, &req.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("scan approval request: %w", err)
	}
	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	var out []Request
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.ID, &req.AppointmentID, &req.AppointmentCode, &req.Status, &req.CreatedAt, &req.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
