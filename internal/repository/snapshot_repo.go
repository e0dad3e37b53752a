package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"review-collab/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
SESSION SNAPSHOT PERSISTENCE

Query patterns:
- Save: upsert the latest snapshot, ignoring writes older than the stored one
- Load: rehydrate a session that is being recreated
- Delete / List: housekeeping
*/

// SnapshotRepositoryImpl handles session snapshot storage
type SnapshotRepositoryImpl struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{db: db}
}

// Save stores state as version of sessionID. A write whose version is not
// newer than the stored one is dropped, so out-of-order workers cannot roll
// a session back.
func (r *SnapshotRepositoryImpl) Save(ctx context.Context, sessionID string, version uint64, state models.CollaborationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	snapshot := &models.SessionSnapshot{
		SessionID: sessionID,
		Version:   version,
		State:     data,
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "session_snapshots.version < excluded.version"},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "state", "updated_at"}),
	}).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return nil
}

// Load returns the stored state and version for sessionID.
// found is false when the session was never persisted.
func (r *SnapshotRepositoryImpl) Load(ctx context.Context, sessionID string) (state models.CollaborationState, version uint64, found bool, err error) {
	var snapshot models.SessionSnapshot

	err = r.db.WithContext(ctx).First(&snapshot, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewCollaborationState(), 0, false, nil
	}
	if err != nil {
		return state, 0, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	state = models.NewCollaborationState()
	if err := json.Unmarshal(snapshot.State, &state); err != nil {
		return state, 0, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return state, snapshot.Version, true, nil
}

// Delete removes the snapshot of sessionID
func (r *SnapshotRepositoryImpl) Delete(ctx context.Context, sessionID string) error {
	result := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.SessionSnapshot{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete snapshot: %w", result.Error)
	}

	return nil
}

// ListSessionIDs returns every persisted session id, most recently updated first
func (r *SnapshotRepositoryImpl) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string

	err := r.db.WithContext(ctx).
		Model(&models.SessionSnapshot{}).
		Order("updated_at DESC").
		Pluck("session_id", &ids).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return ids, nil
}
