package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/agent"
	"github.com/havenmind/therapy-booking/internal/api"
	"github.com/havenmind/therapy-booking/internal/approval"
	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/chat"
	"github.com/havenmind/therapy-booking/internal/config"
	"github.com/havenmind/therapy-booking/internal/db"
	"github.com/havenmind/therapy-booking/internal/gateway"
	"github.com/havenmind/therapy-booking/internal/notify"
	"github.com/havenmind/therapy-booking/internal/redisclient"
	"github.com/havenmind/therapy-booking/internal/session"
)

const version = "0.1.0"

func main() {
	log := newLogger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

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

	tools := agent.NewToolset(ledger, repo, avail, protocol, cfg.CoordinatorPhone, log)
	slotAgent := agent.NewSlotFillingAgent(tools, log)

	sessions := session.NewStore(rdb, cfg.SessionTTL)
	gw := gateway.New(gateway.NewPgSeenStore(pgPool), log)
	handler := chat.NewHandler(
		sessions, locker, slotAgent, protocol, repo,
		messenger, chat.NewPgHistory(pgPool), cfg.CoordinatorPhone, log,
	)

	router := api.NewRouter(api.RouterConfig{
		Ledger:       ledger,
		Availability: avail,
		Repo:         repo,
		Gateway:      gw,
		Chat:         handler,
		PgPool:       pgPool,
		Redis:        rdb,
		Env:          cfg.Env,
		Version:      version,
		Log:          log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "api-server").Logger()
}
