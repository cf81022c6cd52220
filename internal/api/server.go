package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leaselens/leaselens/internal/config"
	"github.com/leaselens/leaselens/internal/oracle"
	"github.com/leaselens/leaselens/internal/pipeline"
)

// Server is the HTTP API server for leaselens.
type Server struct {
	router chi.Router
	engine *pipeline.Engine
	tel    *oracle.Telemetry
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server. tel is the shared
// oracle telemetry, nil when no oracle is wired.
func NewServer(engine *pipeline.Engine, tel *oracle.Telemetry, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		engine: engine,
		tel:    tel,
		log:    log,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.LeaseLensAPIKey, s.log))

		r.Post("/api/runs", s.handleSubmitRun)
		r.Get("/api/runs/{runID}/status", s.handleRunStatus)
		r.Get("/api/runs/{runID}/results", s.handleRunResults)
		r.Get("/api/runs/{runID}/documents/{docID}", s.handleRunDocument)
		r.Get("/api/runs/{runID}/graph", s.handleRunGraph)
		r.Get("/api/runs/{runID}/clause-map", s.handleRunClauseMap)
		r.Get("/api/runs/{runID}/consistency", s.handleRunConsistency)
		r.Get("/api/stats/oracle", s.handleOracleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
