package dto

import (
	"time"

	"calendar-sync-api/modules/calendar/entity"
)

// ConnectRequest registers a connection from an OAuth exchange that already completed.
type ConnectRequest struct {
	Provider                string     `json:"provider"`
	AccessToken             string     `json:"access_token"`
	RefreshToken            string     `json:"refresh_token"`
	ExpiresAt               *time.Time `json:"expires_at,omitempty"`
	AccountEmail            string     `json:"account_email"`
	ProviderAccountURI      string     `json:"provider_account_uri,omitempty"`
	ProviderOrganizationURI string     `json:"provider_organization_uri,omitempty"`
	TranscriptionEnabled    *bool      `json:"transcription_enabled,omitempty"`
}

type TranscriptionRequest struct {
	Enabled *bool `json:"enabled"`
}

type ConnectionResponse struct {
	ID                   string     `json:"id"`
	Provider             string     `json:"provider"`
	AccountEmail         string     `json:"account_email"`
	IsActive             bool       `json:"is_active"`
	State                string     `json:"state"`
	SyncMethod           string     `json:"sync_method"`
	TranscriptionEnabled bool       `json:"transcription_enabled"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
	LastError            *string    `json:"last_error,omitempty"`
	ConnectedAt          time.Time  `json:"connected_at"`
}

type ConnectionListResponse struct {
	Connections []ConnectionResponse `json:"connections"`
}

type WebhookStatusResponse struct {
	ConnectionID   string     `json:"connection_id"`
	SyncMethod     string     `json:"sync_method"`
	Subscribed     bool       `json:"subscribed"`
	Active         bool       `json:"active"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type SyncResponse struct {
	ConnectionID string         `json:"connection_id"`
	Pages        int            `json:"pages"`
	Events       int            `json:"events"`
	Skipped      int            `json:"skipped"`
	Transitions  map[string]int `json:"transitions"`
	CursorReset  bool           `json:"cursor_reset"`
	CompletedAt  time.Time      `json:"completed_at"`
}

func ToConnectionResponse(c *entity.CalendarConnection) ConnectionResponse {
	return ConnectionResponse{
		ID:                   c.ID.String(),
		Provider:             c.Provider.String(),
		AccountEmail:         c.ProviderAccountEmail,
		IsActive:             c.IsActive,
		State:                c.State(),
		SyncMethod:           string(c.SyncMethod),
		TranscriptionEnabled: c.TranscriptionEnabled,
		LastSyncAt:           c.LastSyncAt,
		LastError:            c.LastError,
		ConnectedAt:          c.CreatedAt,
	}
}
