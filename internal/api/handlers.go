package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"review-collab/internal/logger"
	"review-collab/internal/middleware"
	"review-collab/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler serves the HTTP side of the collaboration server.
type Handler struct {
	sessions  SessionService
	snapshots SnapshotStore // nil without persistence
	wsHandler *collaboration.WebSocketHandler
	log       *slog.Logger
}

func NewHandler(
	sessions SessionService,
	snapshots SnapshotStore,
	wsHandler *collaboration.WebSocketHandler,
	log *slog.Logger,
) *Handler {
	return &Handler{
		sessions:  sessions,
		snapshots: snapshots,
		wsHandler: wsHandler,
		log:       log.With(slog.String("component", "api")),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    len(h.sessions.Sessions()),
		"persistence": h.snapshots != nil,
	})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": h.sessions.Sessions(),
	})
}

// GetSession returns the live state of a session, 404 if nobody is in it.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	state, ok := h.sessions.Snapshot(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not active")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":    id,
		"state": state,
	})
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	presence := h.sessions.Presence(id)
	if presence == nil {
		respondError(w, http.StatusNotFound, "session not active")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"presence": presence,
	})
}

func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	const op = "api.ListSnapshots"

	if h.snapshots == nil {
		respondError(w, http.StatusNotFound, "persistence disabled")
		return
	}

	ids, err := h.snapshots.ListSessionIDs(r.Context())
	if err != nil {
		h.log.Error("failed to list snapshots", slog.String("op", op), logger.Err(err))
		middleware.AddSpanError(r.Context(), err)
		respondError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// DeleteSnapshot drops the persisted state of a session. A live session keeps
// its in-memory state and persists again on its next change.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	const op = "api.DeleteSnapshot"

	if h.snapshots == nil {
		respondError(w, http.StatusNotFound, "persistence disabled")
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.snapshots.Delete(r.Context(), id); err != nil {
		h.log.Error("failed to delete snapshot", slog.String("op", op), slog.String("session_id", id), logger.Err(err))
		middleware.AddSpanError(r.Context(), err)
		respondError(w, http.StatusInternalServerError, "failed to delete snapshot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
