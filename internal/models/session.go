package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Connection describes one WebSocket connection to the collaboration server.
// A user may hold several connections; SessionID is empty until it joins.
type Connection struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// PresenceState is the ephemeral status of a session member.
// It is never part of CollaborationState beyond the user itself.
type PresenceState struct {
	User     CollaborationUser `json:"user"`
	Cursor   *CursorPosition   `json:"cursor,omitempty"`
	IsTyping bool              `json:"isTyping"`
	LastSeen time.Time         `json:"lastSeen"`
}

// SessionSummary is the listing view of an active session.
type SessionSummary struct {
	ID          string    `json:"id"`
	Members     int       `json:"members"`
	Comments    int       `json:"comments"`
	Annotations int       `json:"annotations"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewConnection() *Connection {
	return &Connection{
		ID:          ksuid.New().String(),
		ConnectedAt: time.Now(),
	}
}
