package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
	"github.com/kozaktomas/face-finder/internal/web/static"
)

func (s *Server) setupRoutes() {
	cacheHandler := s.cacheHandler
	matchHandler := handlers.NewMatchHandler(s.config, s.cache, s.extractor, s.log)
	configHandler := handlers.NewConfigHandler(s.config)
	photoHandler := handlers.NewPhotoHandler(s.cache, s.log)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/config", configHandler.Get)

		// Cache
		r.Get("/cache", cacheHandler.Stats)
		r.Post("/cache/sync", cacheHandler.Sync)
		r.Post("/cache/rescan", cacheHandler.Rescan)
		r.Get("/cache/jobs", cacheHandler.Jobs)
		r.Get("/cache/jobs/{jobId}", cacheHandler.Status)
		r.Get("/cache/jobs/{jobId}/events", cacheHandler.Events)
		r.Delete("/cache/jobs/{jobId}", cacheHandler.Cancel)

		// Matching waits on the embedding server, but never on a sync.
		r.With(chiMiddleware.Timeout(2*time.Minute)).Post("/match", matchHandler.Match)

		// Matched photos, identities may contain slashes.
		r.With(chiMiddleware.Timeout(time.Minute)).Get("/photos/*", photoHandler.Get)
	})

	// Selfie page
	s.router.With(middleware.SecurityHeaders()).Get("/*", s.serveStatic)
}

// serveStatic serves the embedded single page UI
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	http.FileServer(static.GetFileSystem()).ServeHTTP(w, r)
}
