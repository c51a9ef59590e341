package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trinck-api/internal/application/heartbeat"
	"github.com/trinck-api/internal/application/identity"
	"github.com/trinck-api/internal/application/session"
	"github.com/trinck-api/internal/application/verification"
	"github.com/trinck-api/internal/config"
	"github.com/trinck-api/internal/infrastructure/metrics"
	"github.com/trinck-api/internal/transport/http/handler"
	appmiddleware "github.com/trinck-api/internal/transport/http/middleware"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Verifications verification.Service
	Sessions      session.Service
	Heartbeats    heartbeat.Service
	Identities    identity.Service
	Metrics       *metrics.Registry
	// SensitiveLimiter guards unauthenticated endpoints that send codes or check credentials.
	SensitiveLimiter *appmiddleware.RateLimiter
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limit := func(next http.Handler) http.Handler { return next }
	if deps.SensitiveLimiter != nil {
		limit = deps.SensitiveLimiter.Limit
	}
	authMw := appmiddleware.Auth(deps.Sessions)

	healthH := handler.NewHealthHandler()
	verificationH := handler.NewVerificationHandler(deps.Verifications)
	sessionH := handler.NewSessionHandler(deps.Sessions, deps.Identities)
	heartbeatH := handler.NewHeartbeatHandler(deps.Heartbeats, deps.Sessions)
	identityH := handler.NewIdentityHandler(deps.Identities)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.With(limit).Post("/verifications", verificationH.Send)
		r.With(limit).Post("/verifications/validate", verificationH.Validate)
		r.With(limit).Post("/verifications/resend", verificationH.Resend)

		r.With(limit).Post("/identities", identityH.Register)

		r.With(limit).Post("/sessions", sessionH.Create)
		r.With(limit).Post("/sessions/login", sessionH.Login)
		r.With(limit).Post("/sessions/google", sessionH.Google)
		r.Get("/sessions/validate", sessionH.Validate)
		r.Post("/sessions/refresh", sessionH.Refresh)
		r.Post("/sessions/logout", sessionH.Logout)

		r.Post("/heartbeat", heartbeatH.Beat)
		r.Get("/heartbeat", heartbeatH.Devices)

		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Get("/sessions", sessionH.List)
			r.Get("/identities/me", identityH.Me)
		})
	})

	return r
}
