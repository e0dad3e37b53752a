package services

import (
	"context"

	"review-collab/internal/models"
)

// SnapshotRepository is what the snapshot service needs from storage.
// The GORM implementation lives in the repository package.
type SnapshotRepository interface {
	Save(ctx context.Context, sessionID string, version uint64, state models.CollaborationState) error
	Load(ctx context.Context, sessionID string) (models.CollaborationState, uint64, bool, error)
}
