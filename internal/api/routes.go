package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Probes stay outside the versioned API
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Route("/api/v1/insights", func(r chi.Router) {
		// Public read surface
		r.Get("/posts", h.ListPosts)
		r.Get("/posts/search", h.SearchPosts)
		r.Get("/posts/semantic-search", h.SemanticSearch)
		r.Get("/clusters", h.ListClusters)
		r.Get("/stats", h.Stats)

		// Write surface, internal key required
		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(h.internalKey))
			r.Post("/posts", h.CreatePosts)
			r.Patch("/posts/{pid}", h.UpdatePost)
			r.Delete("/posts/{pid}", h.DeletePost)
			r.Post("/enrich", h.Enrich)
			r.Post("/cluster", h.Cluster)
		})
	})

	return r
}
