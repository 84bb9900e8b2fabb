package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine *Engine
	server *http.Server
}

// NewServer builds the orchestrator HTTP server on addr.
func NewServer(engine *Engine, addr string) *Server {
	s := &Server{engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /shards", s.handleShards)
	mux.HandleFunc("GET /shards/available", s.handleAvailable)
	mux.HandleFunc("POST /reshard", s.handleReshard)
	mux.HandleFunc("GET /artifact/version", s.handleArtifactVersion)
	mux.HandleFunc("POST /artifact", s.handleArtifact)
	mux.HandleFunc("POST /upgrade", s.handleUpgrade)
	mux.HandleFunc("POST /events/query", s.handleQuery)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routing table, used by httptest in transport tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.BadRequest("MALFORMED_BODY", fmt.Sprintf("request body does not parse: %v", err))
	}
	return nil
}

func (s *Server) handleShards(w http.ResponseWriter, r *http.Request) {
	shards, err := s.engine.Shards(r.Context())
	if err != nil {
		cluster.WriteError(w, err, component, "Shards")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, shards)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	shard, err := s.engine.AvailableShard(r.Context(), cluster.Caller(r))
	if err != nil {
		cluster.WriteError(w, err, component, "AvailableShard")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, shard)
}

func (s *Server) handleReshard(w http.ResponseWriter, r *http.Request) {
	var req cluster.ReshardRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "Reshard")
		return
	}
	resp, err := s.engine.Reshard(r.Context(), cluster.Caller(r), req)
	if err != nil {
		cluster.WriteError(w, err, component, "Reshard")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifactVersion(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.ArtifactVersion(r.Context())
	if err != nil {
		cluster.WriteError(w, err, component, "ArtifactVersion")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	var req cluster.ArtifactRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "ReplaceArtifact")
		return
	}
	if err := s.engine.ReplaceArtifact(r.Context(), cluster.Caller(r), req); err != nil {
		cluster.WriteError(w, err, component, "ReplaceArtifact")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"replaced": true})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.UpgradeAll(r.Context(), cluster.Caller(r))
	if err != nil {
		cluster.WriteError(w, err, component, "UpgradeAll")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req cluster.EventQueryRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "QueryEvents")
		return
	}
	page, err := s.engine.QueryEvents(r.Context(), req)
	if err != nil {
		cluster.WriteError(w, err, component, "QueryEvents")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := cluster.HealthResponse{Status: "ok", Identity: s.engine.Identity(), Redis: "ok"}
	status := http.StatusOK
	if err := s.engine.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Redis = err.Error()
		status = http.StatusServiceUnavailable
	}
	cluster.WriteJSON(w, status, resp)
}
