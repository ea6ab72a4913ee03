package api

import (
	"net/http"

	"github.com/dom/authsvc/internal/api/handlers"
	"github.com/dom/authsvc/internal/api/middleware"
	"github.com/dom/authsvc/internal/logging"
	"github.com/dom/authsvc/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(services *service.Services, log logging.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recoverer(log))

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	authHandler := handlers.NewAuthHandler(services.Auth, log)

	routes := func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)

			// Protected auth routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(services.Auth, log))
				r.Get("/me", authHandler.Me)
			})
		})
	}

	routes(r)
	r.Route("/api/v1", routes)

	return r
}
