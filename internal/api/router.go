package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quickcare/hospital-ops-api/internal/appointment"
)

type RouterConfig struct {
	Handler   *Handler
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    *zap.Logger
	JWTSecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := cfg.Handler

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Get("/doctors", h.ListDoctors)
		r.Get("/doctors/{id}", h.GetDoctor)
		r.Get("/doctors/{id}/slots", h.DoctorSlots)

		r.With(RequireRoles(appointment.RolePatient)).Post("/appointments", h.CreateAppointment)
		r.Get("/appointments", h.ListAppointments)
		r.Get("/appointments/{id}", h.GetAppointment)
		r.Patch("/appointments/{id}", h.UpdateAppointment)
		r.With(RequireRoles(appointment.RolePatient)).Delete("/appointments/{id}", h.CancelAppointment)
	})

	return r
}
