package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hht-diary/authcore/internal/auth"
	"github.com/hht-diary/authcore/internal/handlers"
	"github.com/hht-diary/authcore/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	verifier auth.TokenVerifier,
	health http.HandlerFunc,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", health)

	router.Route("/auth", func(r chi.Router) {
		// Coarse per-IP limit in front of the per-identity limiter in the service
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(verifier))
			r.Get("/session", authHandler.Session)
		})
	})
}
