package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
)

// Server exposes the engine over HTTP. Routing uses method-qualified
// patterns; every handler decodes, delegates to the engine, and writes
// either the success payload or the taxonomy error with its mapped
// status.
type Server struct {
	engine *Engine
	server *http.Server
}

// NewServer builds the shard HTTP server on addr.
func NewServer(engine *Engine, addr string) *Server {
	s := &Server{engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleAddEvent)
	mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /events/{id}/access", s.handleAccess)
	mux.HandleFunc("POST /events/query", s.handleQuery)
	mux.HandleFunc("POST /events/counts", s.handleCounts)
	mux.HandleFunc("POST /events/{id}/edit", s.handleEdit)
	mux.HandleFunc("POST /events/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /events/{id}/delete", s.handleDelete)
	mux.HandleFunc("POST /events/{id}/attendee-count", s.handleAttendeeCount)
	mux.HandleFunc("POST /chunks/query", s.handleChunkedData)
	mux.HandleFunc("POST /entries", s.handleAddEntry)
	mux.HandleFunc("GET /entries", s.handleEntries)
	mux.HandleFunc("POST /install", s.handleInstall)
	mux.HandleFunc("POST /backup/snapshot", s.handleBackupSnapshot)
	mux.HandleFunc("GET /backup/chunks", s.handleBackupTotal)
	mux.HandleFunc("GET /backup/chunks/{n}", s.handleBackupDownload)
	mux.HandleFunc("POST /backup/chunks", s.handleBackupUpload)
	mux.HandleFunc("POST /backup/finalize", s.handleBackupFinalize)
	mux.HandleFunc("POST /backup/restore", s.handleBackupRestore)
	mux.HandleFunc("POST /backup/clear", s.handleBackupClear)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
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

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req cluster.AddEventRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "AddEvent")
		return
	}
	entry, err := s.engine.AddEvent(r.Context(), cluster.Caller(r), req)
	if err != nil {
		cluster.WriteError(w, err, component, "AddEvent")
		return
	}
	cluster.WriteJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.GetEvent(r.Context(), r.PathValue("id"), r.URL.Query().Get("group"))
	if err != nil {
		cluster.WriteError(w, err, component, "GetEvent")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	access, err := s.engine.GetAccess(r.Context(), r.PathValue("id"))
	if err != nil {
		cluster.WriteError(w, err, component, "GetAccess")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, access)
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

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	var req cluster.CountRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "EventCounts")
		return
	}
	counts, err := s.engine.EventCounts(r.Context(), req.Groups)
	if err != nil {
		cluster.WriteError(w, err, component, "EventCounts")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, counts)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req cluster.EditEventRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "EditEvent")
		return
	}
	entry, err := s.engine.EditEvent(r.Context(), cluster.Caller(r), r.PathValue("id"), req)
	if err != nil {
		cluster.WriteError(w, err, component, "EditEvent")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cluster.CancelEventRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "CancelEvent")
		return
	}
	entry, err := s.engine.CancelEvent(r.Context(), cluster.Caller(r), r.PathValue("id"), req)
	if err != nil {
		cluster.WriteError(w, err, component, "CancelEvent")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req cluster.DeleteEventRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "DeleteEvent")
		return
	}
	if err := s.engine.DeleteEvent(r.Context(), cluster.Caller(r), r.PathValue("id"), req); err != nil {
		cluster.WriteError(w, err, component, "DeleteEvent")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleAttendeeCount(w http.ResponseWriter, r *http.Request) {
	var req cluster.AttendeeCountRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "UpdateAttendeeCount")
		return
	}
	if err := s.engine.UpdateAttendeeCount(r.Context(), cluster.Caller(r), r.PathValue("id"), req); err != nil {
		cluster.WriteError(w, err, component, "UpdateAttendeeCount")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleChunkedData(w http.ResponseWriter, r *http.Request) {
	var req cluster.ChunkQuery
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "ChunkedData")
		return
	}
	resp, err := s.engine.ChunkedData(r.Context(), cluster.Caller(r), req)
	if err != nil {
		cluster.WriteError(w, err, component, "ChunkedData")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req cluster.AddEntryRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "AddEntryByParent")
		return
	}
	identifier, err := s.engine.AddEntryByParent(r.Context(), cluster.Caller(r), req)
	if err != nil {
		cluster.WriteError(w, err, component, "AddEntryByParent")
		return
	}
	cluster.WriteJSON(w, http.StatusCreated, cluster.AddEntryResponse{Identifier: identifier})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Entries(r.Context(), cluster.Caller(r))
	if err != nil {
		cluster.WriteError(w, err, component, "Entries")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req cluster.InstallRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "Install")
		return
	}
	if err := s.engine.Install(r.Context(), cluster.Caller(r), req); err != nil {
		cluster.WriteError(w, err, component, "Install")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"installed": true})
}

func (s *Server) handleBackupSnapshot(w http.ResponseWriter, r *http.Request) {
	total, err := s.engine.BackupSnapshot(r.Context(), cluster.Caller(r))
	if err != nil {
		cluster.WriteError(w, err, component, "BackupSnapshot")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]int{"chunks": total})
}

func (s *Server) handleBackupTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.engine.BackupTotalChunks(r.Context(), cluster.Caller(r))
	if err != nil {
		cluster.WriteError(w, err, component, "BackupTotalChunks")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]int{"chunks": total})
}

func (s *Server) handleBackupDownload(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		cluster.WriteError(w, apierr.BadRequest("BAD_CHUNK_INDEX", "chunk index must be an integer"), component, "BackupDownloadChunk")
		return
	}
	data, err := s.engine.BackupDownloadChunk(r.Context(), cluster.Caller(r), n)
	if err != nil {
		cluster.WriteError(w, err, component, "BackupDownloadChunk")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string][]byte{"data": data})
}

type backupUploadRequest struct {
	Chunk int    `json:"chunk"`
	Data  []byte `json:"data"`
}

func (s *Server) handleBackupUpload(w http.ResponseWriter, r *http.Request) {
	var req backupUploadRequest
	if err := decode(r, &req); err != nil {
		cluster.WriteError(w, err, component, "BackupUploadChunk")
		return
	}
	if err := s.engine.BackupUploadChunk(r.Context(), cluster.Caller(r), req.Chunk, req.Data); err != nil {
		cluster.WriteError(w, err, component, "BackupUploadChunk")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"staged": true})
}

func (s *Server) handleBackupFinalize(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BackupFinalize(r.Context(), cluster.Caller(r)); err != nil {
		cluster.WriteError(w, err, component, "BackupFinalize")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BackupRestore(r.Context(), cluster.Caller(r)); err != nil {
		cluster.WriteError(w, err, component, "BackupRestore")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"restored": true})
}

func (s *Server) handleBackupClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BackupClear(r.Context(), cluster.Caller(r)); err != nil {
		cluster.WriteError(w, err, component, "BackupClear")
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := cluster.HealthResponse{Status: "ok", Identity: s.engine.Identity(), Redis: "ok"}
	status := http.StatusOK
	if err := s.engine.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Redis = err.Error()
		status = http.StatusServiceUnavailable
	}
	cluster.WriteJSON(w, status, resp)
}
