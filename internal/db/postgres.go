package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// connectTimeout bounds the initial dial plus the verification ping.
// The API server and the approval worker both refuse to start without
// a reachable database.
const connectTimeout = 10 * time.Second

// ConnectPostgres opens a pgx pool sized for this deployment: the API
// server, the approval worker and the migrator share one small
// Postgres instance, and a booking request touches the database a
// handful of times (user lookup, availability count, insert, event
// log), all short queries.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	// Webhook bursts fan out over the pool; 16 conns covers a full
	// burst of chat traffic without starving the worker's scan.
	cfg.MaxConns = 16
	// Keep a couple warm so the first message after a quiet stretch
	// doesn't pay the handshake.
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
