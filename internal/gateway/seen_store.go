package gateway

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgSeenStore is the write-once inbound message ledger. Existence of a
// row for an external id is proof of prior processing.
type PgSeenStore struct {
	pool *pgxpool.Pool
}

func NewPgSeenStore(pool *pgxpool.Pool) *PgSeenStore {
	return &PgSeenStore{pool: pool}
}

// MarkSeen inserts the external id, returning false when it was
// already recorded. ON CONFLICT DO NOTHING makes the check-and-record
// a single atomic statement, so two racing deliveries of the same id
// cannot both observe "not seen".
func (s *PgSeenStore) MarkSeen(ctx context.Context, externalID, fromPhone string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO inbound_messages (external_id, from_phone, received_at)
		VALUES ($1, $2, now())
		ON CONFLICT (external_id) DO NOTHING
	`, externalID, fromPhone)
	if err != nil {
		return false, fmt.Errorf("mark message seen: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
