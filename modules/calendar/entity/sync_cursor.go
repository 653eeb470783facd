package entity

import (
	"time"

	"github.com/google/uuid"
)

// SyncCursor records polling progress. Cursor is the provider delta token or timestamp
// of the last completed run; PageToken is set while a run is between pages.
type SyncCursor struct {
	ConnectionID uuid.UUID `db:"connection_id" json:"connection_id"`
	Cursor       string    `db:"cursor" json:"cursor"`
	PageToken    string    `db:"page_token" json:"page_token"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}
