package api

import (
	"log/slog"

	"review-collab/internal/middleware"

	"github.com/gorilla/mux"
)

// SetupRoutes wires middleware and endpoints. Middleware runs in order:
// tracing, recovery, CORS.
func SetupRoutes(h *Handler, allowedOrigin string, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Tracing(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS(allowedOrigin))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.Health).Methods("GET")

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/presence", h.GetPresence).Methods("GET")

	api.HandleFunc("/snapshots", h.ListSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{id}", h.DeleteSnapshot).Methods("DELETE")

	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}
