package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/api/churn", func(r chi.Router) {
		r.Post("/predict", handler.Predict)
		r.Post("/predict/batch", handler.PredictBatch)
		r.Post("/predict/batch/csv", handler.PredictBatchCSV)
		r.Post("/predict/async", handler.PredictAsync)
		r.Get("/predict/async/{id}", handler.GetAsyncResult)

		r.Get("/stats", handler.Stats)
		r.Get("/top-risk", handler.TopRisk)
		r.Get("/counters", handler.Counters)
		r.Delete("/predictions", handler.ClearPredictions)
	})

	router.Route("/api/playbook", func(r chi.Router) {
		r.Get("/", handler.ListPlaybook)
		r.Post("/", handler.CreatePlaybookRule)
		r.Post("/reload", handler.ReloadPlaybook)
		r.Get("/{id}", handler.GetPlaybookRule)
		r.Post("/{id}/activate", handler.ActivatePlaybookRule)
		r.Delete("/{id}", handler.DeletePlaybookRule)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
