package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-router/handlers"
	"github.com/upb/llm-router/middleware"
)

// Handlers groups everything the route table mounts.
type Handlers struct {
	Chat   *handlers.ChatHandler
	Models *handlers.ModelsHandler
	Health *handlers.HealthHandler
	Auth   *middleware.Auth
}

// Setup configures all application routes and middleware.
func Setup(h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// CORS middleware; preflight OPTIONS answers 204 everywhere.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Router-Source", "X-Router-Channel"},
		ExposedHeaders:     []string{"X-Router-Model", "X-Router-Tier", "X-Router-Classification"},
		AllowCredentials:   false,
		MaxAge:             300,
		OptionsPassthrough: true,
	}))

	// Every OPTIONS request, preflight included, ends here: the CORS
	// middleware sets its headers and passes preflight through.
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Liveness stays outside auth.
	r.Get("/health", h.Health.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.RequireKey)
		r.Post("/v1/chat/completions", h.Chat.HandleChatCompletion)
		r.Get("/v1/models", h.Models.HandleListModels)
	})

	return r
}
