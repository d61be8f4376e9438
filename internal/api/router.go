package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carebridge/telehealth-booking/internal/auth"
	"github.com/carebridge/telehealth-booking/internal/booking"
)

type RouterConfig struct {
	Service  *booking.Service
	Verifier *auth.Verifier
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(cfg.Logger))

	// Health endpoints, unauthenticated
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Everything else requires a verified caller
	r.Group(func(r chi.Router) {
		r.Use(Authenticator(cfg.Verifier))

		r.Get("/doctors/{doctorID}/availability", getAvailabilityHandler(cfg.Service))
		r.Put("/doctors/{doctorID}/availability", replaceAvailabilityHandler(cfg.Service))

		r.Post("/bookings", createBookingHandler(cfg.Service))

		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	})

	return r
}
