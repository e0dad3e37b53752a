package collaboration

import (
	"context"
	"log/slog"
	"net/http"

	"review-collab/internal/logger"
	"review-collab/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// WebSocketHandler upgrades HTTP requests into collaboration connections.
type WebSocketHandler struct {
	sessionManager *SessionManager
	upgrader       websocket.Upgrader
	log            *slog.Logger
}

// NewWebSocketHandler creates a handler accepting upgrades from allowedOrigin
// ("*" or empty accepts any origin).
func NewWebSocketHandler(sessionManager *SessionManager, allowedOrigin string, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		log:            log.With(slog.String("component", "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigin, r)
			},
		},
	}
}

// HandleConnection serves GET /ws. The connection joins no session until it
// sends joinSession.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	const op = "collaboration.HandleConnection"
	log := h.log.With(slog.String("op", op))

	userID := r.URL.Query().Get("user_id")

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("failed to upgrade websocket", logger.Err(err))
		middleware.AddSpanError(ctx, err)
		return
	}

	// The request context ends with the handler; the connection outlives it.
	client := h.sessionManager.NewClient(context.WithoutCancel(ctx), conn)
	client.UserID = userID

	if !h.sessionManager.Register(client) {
		conn.Close()
		return
	}

	middleware.AddSpanEvent(ctx, "websocket.registered", attribute.String("conn.id", client.ID))

	go client.WritePump()
	go client.ReadPump()

	log.Info("websocket connection established",
		slog.String("conn_id", client.ID),
		slog.String("user_id", userID),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
}
