// approval-worker sweeps approval requests the coordinator never
// answered: past the timeout they are expired, their appointments
// auto-declined and the clients told to rebook.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/approval"
	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/config"
	"github.com/havenmind/therapy-booking/internal/db"
	"github.com/havenmind/therapy-booking/internal/notify"
	"github.com/havenmind/therapy-booking/internal/redisclient"
)

func main() {
	log := newLogger()
	log.Info().Msg("approval-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	var messenger notify.Messenger
	if cfg.UltraMsgToken != "" && cfg.UltraMsgInstance != "" {
		messenger = notify.NewUltraMsgClient(cfg.UltraMsgBaseURL, cfg.UltraMsgInstance, cfg.UltraMsgToken, log)
	} else {
		log.Warn().Msg("UltraMsg credentials missing, outbound messages disabled")
		messenger = notify.NopMessenger{}
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)
	avail := booking.NewAvailability(repo, cfg.LookaheadDays)
	ledger := booking.NewLedger(repo, locker, avail, log)

	protocol := approval.NewProtocol(
		approval.NewPgStore(pgPool), ledger, avail, messenger,
		cfg.CoordinatorPhone, cfg.ApprovalTimeout, log,
	)

	// Run once at startup
	runOnce(rootCtx, protocol, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping approval worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, protocol, log)
		}
	}
}

func runOnce(ctx context.Context, protocol *approval.Protocol, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := protocol.ExpireStale(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expiry run complete")
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "approval-worker").Logger()
}
