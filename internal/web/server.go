package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	cache      *fingerprint.Cache
	extractor  fingerprint.Extractor
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager
	log        logrus.FieldLogger

	cacheHandler *handlers.CacheHandler
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, cache *fingerprint.Cache, ext fingerprint.Extractor, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := chi.NewRouter()

	s := &Server{
		config:     cfg,
		cache:      cache,
		extractor:  ext,
		router:     r,
		jobManager: handlers.NewJobManager(),
		log:        log,
	}
	s.cacheHandler = handlers.NewCacheHandler(cache, s.jobManager, log)

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open for the whole sync
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// BuildIfNeeded starts a background cache job when the persisted cache could
// not be used: a rescan after an incompatible load, a sync after an empty one.
// The job is tracked like any other, so it can be followed and cancelled.
// It returns nil when the loaded cache is usable.
func (s *Server) BuildIfNeeded(load fingerprint.LoadResult) *handlers.CacheJob {
	var kind handlers.JobKind
	switch load.Status {
	case fingerprint.LoadIncompatible:
		kind = handlers.JobKindRescan
	case fingerprint.LoadEmpty:
		kind = handlers.JobKindSync
	default:
		if load.Records > 0 {
			return nil
		}
		kind = handlers.JobKindSync
	}

	job, _ := s.cacheHandler.Start(kind)
	s.log.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   kind,
		"reason": load.Reason,
	}).Info("building fingerprint cache in the background")
	return job
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown cancels running cache jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")

	for _, job := range s.jobManager.ListJobs() {
		job.Cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	// A cancelled sync may still be saving its last commit.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for s.cache.Stats().Syncing {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for cache sync: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
