package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
)

// Deps holds everything the route table needs
type Deps struct {
	Auth         *handlers.AuthHandler
	SecondFactor *handlers.SecondFactorHandler
	Health       *handlers.HealthHandler
	Sessions     auth.SessionDecoder
	Policies     auth.PolicySource
	Origins      middleware.OriginResolver
	LoginLimit   middleware.RateLimitConfig
	Logger       *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, d Deps) {
	router.Get("/health", d.Health.Health)

	router.Group(func(r chi.Router) {
		r.Use(middleware.SameOrigin(d.Origins, d.Logger))

		// Public routes - no session required
		r.With(middleware.RateLimitByIP(d.LoginLimit)).Post("/auth/login", d.Auth.Login)
		r.Post("/auth/logout", d.Auth.Logout)

		// Protected routes - session required
		r.Group(func(r chi.Router) {
			r.Use(auth.SessionMiddleware(d.Sessions, d.Policies))

			r.Get("/auth/session", d.Auth.Session)
			r.Post("/auth/session", d.Auth.RefreshSession)
			r.Post("/auth/2fa/setup", d.SecondFactor.Setup)
			r.Post("/auth/2fa/confirm", d.SecondFactor.Confirm)
		})
	})
}
