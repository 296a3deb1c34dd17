package routes

import (
	"net/http"

	"github.com/BradenHooton/riskauth/internal/handlers"
	"github.com/BradenHooton/riskauth/internal/metrics"
	"github.com/BradenHooton/riskauth/internal/middleware"
	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers served by the API
type Handlers struct {
	Login     *handlers.LoginHandler
	Challenge *handlers.ChallengeHandler
	Health    *handlers.HealthHandler
}

// Config holds per-route limits
type Config struct {
	LoginRateLimit     middleware.RateLimitConfig
	ChallengeRateLimit middleware.RateLimitConfig
	IPConfig           *pkghttp.IPConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, cfg Config) {
	cfg.LoginRateLimit.IPConfig = cfg.IPConfig
	cfg.ChallengeRateLimit.IPConfig = cfg.IPConfig

	router.Get("/health", h.Health.Health)
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(metrics.Middleware)

		r.With(middleware.RateLimitByIP(cfg.LoginRateLimit)).Post("/login", h.Login.Login)

		if h.Challenge != nil {
			r.With(middleware.RateLimitByIP(cfg.ChallengeRateLimit)).Post("/mfa/challenge/validate", h.Challenge.Validate)
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Route not found")
	})
}
