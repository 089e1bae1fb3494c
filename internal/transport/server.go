// Package transport exposes the simulation over HTTP: a JSON control
// plane for scenarios and runs, a WebSocket event feed per run, and the
// Prometheus metrics endpoint.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/events"
	"creditnet-lab/internal/observability"
	"creditnet-lab/internal/orchestrator"
	"creditnet-lab/internal/scenario"
	"creditnet-lab/internal/storage"
)

// Options configures the transport server.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Scenarios    storage.ScenarioStore
	Hub          *events.Hub

	// WebSocket keepalive tuning; zero values select the defaults.
	PingInterval time.Duration
	WriteTimeout time.Duration

	Verbose bool
}

// Server handles HTTP and WebSocket traffic.
type Server struct {
	orch      *orchestrator.Orchestrator
	scenarios storage.ScenarioStore
	hub       *events.Hub

	pingInterval time.Duration
	writeTimeout time.Duration
	verbose      bool
}

// New creates a transport server.
func New(opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Server{
		orch:         opts.Orchestrator,
		scenarios:    opts.Scenarios,
		hub:          opts.Hub,
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		verbose:      opts.Verbose,
	}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("POST /api/scenarios", s.handleCreateScenario)
	mux.HandleFunc("GET /api/scenarios", s.handleListScenarios)
	mux.HandleFunc("GET /api/scenarios/{id}", s.handleGetScenario)

	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/runs/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/runs/{id}/stop", s.handleStop)

	mux.HandleFunc("GET /api/runs/{id}/events", s.handleEventFeed)

	return mux
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var sc domain.Scenario
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode scenario: %w", err))
		return
	}
	if err := scenario.Validate(&sc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sc.Settings.Normalize()
	if err := s.scenarios.Insert(r.Context(), &sc); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log("scenario %s created (%d participants, %d edges)",
		sc.ScenarioID, len(sc.Participants), len(sc.TrustEdges))
	writeJSON(w, http.StatusCreated, map[string]string{"scenario_id": sc.ScenarioID})
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	ids, err := s.scenarios.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"scenarios": ids})
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scenarios.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// CreateRunRequest is the JSON body for POST /api/runs.
type CreateRunRequest struct {
	ScenarioID string `json:"scenario_id"`
	Seed       uint64 `json:"seed"`
	Intensity  int    `json:"intensity"`
	Mode       string `json:"mode"`

	Policy *domain.AdaptiveClearingPolicyConfig `json:"policy,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	sc, err := s.scenarios.GetByID(r.Context(), req.ScenarioID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status, err := s.orch.CreateRun(r.Context(), sc, orchestrator.RunConfig{
		Seed:      req.Seed,
		Intensity: req.Intensity,
		Mode:      req.Mode,
		Policy:    req.Policy,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": s.orch.List()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orch.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orch.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.orch.Stop)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, runID string) error) {
	runID := r.PathValue("id")
	if err := op(r.Context(), runID); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrRunNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, orchestrator.ErrRunTerminal):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	status, err := s.orch.Status(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) log(format string, args ...interface{}) {
	if s.verbose {
		log.Printf("[transport] "+format, args...)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[transport] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
