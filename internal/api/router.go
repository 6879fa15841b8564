package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/havenmind/therapy-booking/internal/booking"
	"github.com/havenmind/therapy-booking/internal/gateway"
)

// Ingestor is the webhook dedup/normalization front door.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte) (*gateway.NormalizedMessage, error)
}

// InboundHandler takes over once a message is normalized.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg *gateway.NormalizedMessage) error
}

type RouterConfig struct {
	Ledger       *booking.Ledger
	Availability *booking.Availability
	Repo         booking.Repository
	Gateway      Ingestor
	Chat         InboundHandler
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
	Log          zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Chat transport webhook
	r.Post("/webhooks/ultramsg", webhookHandler(cfg.Gateway, cfg.Chat, cfg.Log))

	// Appointment endpoints
	r.Get("/appointments", listAppointmentsHandler(cfg.Ledger))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Ledger))
	r.Get("/appointments/code/{code}", getAppointmentByCodeHandler(cfg.Ledger))
	r.Post("/appointments/{id}/confirm", transitionHandler(cfg.Ledger.Confirm))
	r.Post("/appointments/{id}/complete", transitionHandler(cfg.Ledger.Complete))
	r.Post("/appointments/{id}/decline", cancelStyleHandler(cfg.Ledger.Decline))
	r.Post("/appointments/{id}/cancel", cancelStyleHandler(cfg.Ledger.Cancel))

	// Therapist endpoints
	r.Get("/therapists", listTherapistsHandler(cfg.Repo))
	r.Get("/therapists/{id}/availability", availabilityHandler(cfg.Availability))

	return r
}
