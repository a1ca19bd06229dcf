package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/context-engine/app"
	"github.com/upb/context-engine/handlers"
	"github.com/upb/context-engine/middleware"
	"github.com/upb/context-engine/utils"
)

const requestTimeout = 60 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// The handlers take interfaces, so a missing database must stay a nil interface
	var db handlers.DatabaseChecker
	if deps.DB != nil {
		db = deps.DB
	}

	health := handlers.NewHealthHandler(db, deps.Scheduler, deps.Logger)
	prompt := handlers.NewPromptHandler(deps.Retrieval, deps.Logger)
	refresh := handlers.NewRefreshHandler(deps.Scheduler, deps.RefreshRuns, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Original wire shapes
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireTenant)
		r.Post("/prompt", prompt.HandleLegacyPrompt)
		r.Post("/update", refresh.HandleLegacyUpdate)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireTenant)

		r.Post("/prompt", prompt.HandlePrompt)
		r.Get("/providers", prompt.HandleProviders)
		r.Post("/refresh", refresh.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAdmin)
			r.Get("/refresh/runs", refresh.HandleListRuns)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	return r
}
