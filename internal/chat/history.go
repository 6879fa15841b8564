package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message direction, from the platform's point of view.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// HistoryMessage is one line of a phone number's conversation record.
type HistoryMessage struct {
	ID        int64
	Phone     string
	Direction string
	Body      string
	CreatedAt time.Time
}

// History is the durable conversation transcript. Recording is
// best-effort from the handler's point of view; a failed write never
// blocks a reply.
type History interface {
	Record(ctx context.Context, phone, direction, body string) error
	Recent(ctx context.Context, phone string, limit int) ([]HistoryMessage, error)
}

type PgHistory struct {
	pool *pgxpool.Pool
}

func NewPgHistory(pool *pgxpool.Pool) *PgHistory {
	return &PgHistory{pool: pool}
}

func (h *PgHistory) Record(ctx context.Context, phone, direction, body string) error {
	_, err := h.pool.Exec(ctx, `
		INSERT INTO conversation_messages (phone, direction, body, created_at)
		VALUES ($1, $2, $3, now())
	`, phone, direction, body)
	if err != nil {
		return fmt.Errorf("record conversation message: %w", err)
	}
	return nil
}

// Recent returns the latest messages for phone, newest first.
func (h *PgHistory) Recent(ctx context.Context, phone string, limit int) ([]HistoryMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.pool.Query(ctx, `
		SELECT id, phone, direction, body, created_at
		FROM conversation_messages
		WHERE phone = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}
	defer rows.Close()

	var out []HistoryMessage
	for rows.Next() {
		var m HistoryMessage
		if err := rows.Scan(&m.ID, &m.Phone, &m.Direction, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
