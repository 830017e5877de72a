// Package api exposes the HTTP surface of the discovery engine: run
// lifecycle, status, health, and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/engine"
	"github.com/ddoubleg123/carrot-sub001/internal/metrics"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

// Server wires HTTP handlers to the engine and store.
type Server struct {
	router chi.Router
	store  store.Store
	engine *engine.Engine
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.Store, eng *engine.Engine) *Server {
	s := &Server{store: st, engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/stop", s.stopRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRunRequest struct {
	TopicID  string   `json:"topicId"`
	SeedURLs []string `json:"seedUrls,omitempty"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TopicID == "" {
		writeError(w, http.StatusBadRequest, "topicId is required")
		return
	}

	if len(req.SeedURLs) > 0 {
		if _, err := s.engine.Seed(r.Context(), req.TopicID, req.SeedURLs); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	run, err := s.engine.StartRun(r.Context(), req.TopicID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	zap.L().Info("api: run started",
		zap.String("run_id", run.ID),
		zap.String("topic_id", req.TopicID))
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	// Serve a fresh snapshot rather than the last persisted one.
	if snap, err := s.engine.Snapshot(r.Context(), run.TopicID); err == nil {
		run.Metrics = snap
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err := s.engine.StopRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
