package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(userHandler *handlers.UserHandler, tokens *auth.TokenService, userRepo repo.UserRepo) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", userHandler.HandleRegister)
		r.Post("/login", userHandler.HandleLogin)

		// Protected routes (require valid bearer token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(tokens, userRepo))
			r.Get("/user", userHandler.HandleGetUser)
			r.Patch("/user", userHandler.HandleUpdateUser)
			r.Put("/user", userHandler.HandleUpdateUser)
			r.Get("/users", userHandler.HandleListUsers)
			r.Get("/users/me", userHandler.HandleGetUser)
			r.Get("/users/{username}", userHandler.HandleRetrieveUser)
		})
	})

	return r
}
