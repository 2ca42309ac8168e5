package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BJS-Innovation-Lab/mnemo/internal/embed"
	"github.com/BJS-Innovation-Lab/mnemo/internal/engine"
	"github.com/BJS-Innovation-Lab/mnemo/internal/evolution"
	"github.com/BJS-Innovation-Lab/mnemo/internal/store"
)

// Server is the mnemo HTTP API. External consumers (daemons, CRM tools,
// reporting scripts) call score/retrieve and read evolution state here;
// evolution mutation goes only through the controller endpoints.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/score", s.handleScore)
		r.Post("/observations", s.handleObserve)
		r.Get("/retrieve", s.handleRetrieve)
		r.Post("/chunks", s.handleIngestChunk)
		r.Post("/outcomes", s.handleRecordOutcome)
		r.Post("/outcomes/process", s.handleProcessOutcomes)

		r.Post("/working", s.handleWorkingSave)
		r.Get("/working/{key}", s.handleWorkingGet)
		r.Delete("/working", s.handleWorkingClear)
		r.Post("/sessions/consolidate", s.handleConsolidate)
		r.Get("/threads", s.handleListThreads)
		r.Post("/rules/promote", s.handlePromoteRules)
		r.Get("/rules", s.handleListRules)

		r.Get("/evolution", s.handleEvolutionState)
		r.Get("/evolution/history", s.handleEvolutionHistory)
		r.Get("/evolution/rollbacks", s.handleEvolutionRollbacks)
		r.Post("/evolution/evidence", s.handleAddEvidence)
		r.Post("/evolution/begin", s.handleBeginEvolution)
		r.Post("/evolution/complete", s.handleCompleteEvolution)
		r.Post("/evolution/rollback", s.handleRollback)
		r.Post("/evolution/cancel", s.handleCancelLearning)
		r.Post("/evolution/reset", s.handleForceReset)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the core error taxonomy to HTTP statuses: provider
// unavailability is 503, FSM misuse is 409, missing references are 404.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var invalid *evolution.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusConflict
	case errors.Is(err, embed.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
