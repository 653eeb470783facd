package entity

import (
	"time"

	"calendar-sync-api/core/entity"

	"github.com/google/uuid"
)

type SyncMethod string

const (
	SyncMethodWebhook SyncMethod = "webhook"
	SyncMethodPolling SyncMethod = "polling"
)

type CalendarConnection struct {
	entity.BaseEntity
	UserID                  uuid.UUID       `db:"user_id" json:"user_id"`
	TenantID                uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Provider                entity.Provider `db:"provider" json:"provider"`
	AccessToken             string          `db:"access_token" json:"-"`
	RefreshToken            string          `db:"refresh_token" json:"-"`
	TokenExpiresAt          *time.Time      `db:"token_expires_at" json:"token_expires_at,omitempty"`
	ProviderAccountEmail    string          `db:"provider_account_email" json:"provider_account_email"`
	ProviderAccountURI      string          `db:"provider_account_uri" json:"-"`
	ProviderOrganizationURI string          `db:"provider_organization_uri" json:"-"`
	IsActive                bool            `db:"is_active" json:"is_active"`
	TranscriptionEnabled    bool            `db:"transcription_enabled" json:"transcription_enabled"`
	SyncMethod              SyncMethod      `db:"sync_method" json:"sync_method"`
	LastSyncAt              *time.Time      `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastError               *string         `db:"last_error" json:"last_error,omitempty"`
}

func (CalendarConnection) TableName() string {
	return "calendar_connections"
}

// State is the single connection signal shown to users: inactive, webhook or polling.
func (c *CalendarConnection) State() string {
	if !c.IsActive {
		return "inactive"
	}
	return string(c.SyncMethod)
}

func (c *CalendarConnection) Polls() bool {
	return c.IsActive && c.SyncMethod == SyncMethodPolling
}
