package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hradilp/face-finder/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	collectionsHandler := handlers.NewCollectionsHandler(s.services)
	indexHandler := handlers.NewIndexHandler(s.services)
	tasksHandler := handlers.NewTasksHandler(s.services)
	searchHandler := handlers.NewSearchHandler(s.services)
	cacheHandler := handlers.NewCacheHandler(s.services)

	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Collections
		r.Get("/collections", collectionsHandler.List)
		r.Post("/collections", collectionsHandler.Create)
		r.Get("/collections/{id}", collectionsHandler.Get)
		r.Delete("/collections/{id}", collectionsHandler.Delete)
		r.Get("/collections/{id}/checkpoints", collectionsHandler.CheckpointStatus)
		r.Post("/collections/{id}/reset", collectionsHandler.ResetStuck)

		// Indexing (long-running operations)
		r.Post("/collections/{id}/index/full", indexHandler.StartFull)
		r.Post("/collections/{id}/index/incremental", indexHandler.StartIncremental)
		r.Get("/collections/{id}/task", tasksHandler.CollectionTask)

		// Tasks
		r.Get("/tasks/{taskId}", tasksHandler.Status)
		r.Get("/tasks/{taskId}/events", tasksHandler.Events)
		r.Delete("/tasks/{taskId}", tasksHandler.Cancel)
		r.Post("/tasks/{taskId}/cancel", tasksHandler.Cancel)

		// Search
		r.Post("/collections/{id}/search", searchHandler.Search)

		// Cache
		r.Get("/cache/stats", cacheHandler.Stats)
		r.Delete("/cache/{id}", cacheHandler.Invalidate)
	})
}
