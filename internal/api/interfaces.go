package api

import (
	"context"

	"review-collab/internal/models"
)

// The api package consumes these; the implementations live in services.

// SessionService is the read-only view of live sessions.
// *collaboration.SessionManager implements it.
type SessionService interface {
	Sessions() []models.SessionSummary
	Snapshot(sessionID string) (models.CollaborationState, bool)
	Presence(sessionID string) []models.PresenceState
}

// SnapshotStore exposes persisted sessions. It is nil when persistence is off.
// *repository.SnapshotRepositoryImpl implements it.
type SnapshotStore interface {
	ListSessionIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}
