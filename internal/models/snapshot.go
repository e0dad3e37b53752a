package models

import (
	"time"
)

/*
SESSION SNAPSHOTS

The coordinator keeps session state in memory. When a store is configured,
every mutation also produces a versioned snapshot of the CollaborationState:

  mutation → version++ → snapshot job → worker → upsert (only if newer)

A session that is recreated (last member left, or the server restarted)
starts from the stored snapshot instead of an empty state.
*/

// SessionSnapshot stores the latest serialised CollaborationState of a session.
type SessionSnapshot struct {
	SessionID string    `gorm:"type:varchar(255);primaryKey" json:"session_id"`
	Version   uint64    `gorm:"not null" json:"version"`
	State     []byte    `gorm:"not null" json:"-"` // JSON encoded CollaborationState
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName override
func (SessionSnapshot) TableName() string {
	return "session_snapshots"
}
