package dto

import (
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/modules/meeting/entity"

	"github.com/google/uuid"
)

// MeetingEvent is a full snapshot of a provider event in canonical form.
type MeetingEvent struct {
	ExternalID    string
	Title         string
	Start         time.Time
	End           time.Time
	Attendees     entity.Attendees
	MeetingURL    *string
	Location      *string
	Description   *string
	// OrganizerHint is taken from payload content. It is never used for routing.
	OrganizerHint string
}

type OperationKind string

const (
	OperationUpsert    OperationKind = "upsert"
	OperationTombstone OperationKind = "tombstone"
)

// Operation is either Upsert(Event) or Tombstone(ExternalID).
type Operation struct {
	Kind       OperationKind
	Event      *MeetingEvent
	ExternalID string
}

func Upsert(ev MeetingEvent) Operation {
	return Operation{Kind: OperationUpsert, Event: &ev, ExternalID: ev.ExternalID}
}

func Tombstone(externalID string) Operation {
	return Operation{Kind: OperationTombstone, ExternalID: externalID}
}

// Scope is the verified ownership context an operation is applied under. It is built
// from the connection matched by signature verification or by the polling task, never
// from payload content.
type Scope struct {
	UserID       uuid.UUID
	TenantID     uuid.UUID
	ConnectionID uuid.UUID
	Provider     coreEntity.Provider
}

type Transition string

const (
	TransitionCreated    Transition = "created"
	TransitionUpdated    Transition = "updated"
	TransitionTombstoned Transition = "tombstoned"
	// TransitionNoop covers a tombstone for an absent or already deleted key and
	// an upsert against a deleted key.
	TransitionNoop Transition = "noop"
)

type ApplyResult struct {
	Transition Transition
	Meeting    *entity.Meeting
}

// BotStatusUpdate is a bot lifecycle change keyed by the bot id.
type BotStatusUpdate struct {
	BotID      string
	Status     string
	Error      *string
	Transcript *string
}

type NotificationType string

const (
	NotificationMeetingCreated   NotificationType = "meeting.created"
	NotificationMeetingUpdated   NotificationType = "meeting.updated"
	NotificationMeetingCancelled NotificationType = "meeting.cancelled"
	NotificationUpgradeRequired  NotificationType = "meeting.upgrade_required"
	NotificationBotStatusChanged NotificationType = "bot.status_changed"
)

// MeetingNotification is the event tuple handed to downstream notification consumers.
type MeetingNotification struct {
	Type      NotificationType `json:"type"`
	MeetingID uuid.UUID        `json:"meeting_id"`
	UserID    uuid.UUID        `json:"user_id"`
	At        time.Time        `json:"at"`
}

type MeetingResponse struct {
	ID            uuid.UUID           `json:"id"`
	Provider      coreEntity.Provider `json:"provider"`
	ExternalID    string              `json:"external_id"`
	Title         string              `json:"title"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
	Attendees     entity.Attendees    `json:"attendees"`
	MeetingURL    *string             `json:"meeting_url,omitempty"`
	Location      *string             `json:"location,omitempty"`
	SyncStatus    entity.SyncStatus   `json:"sync_status"`
	RecallStatus  *string             `json:"recall_status,omitempty"`
	IsDeleted     bool                `json:"is_deleted"`
	HasTranscript bool                `json:"has_transcript"`
}

func ToMeetingResponse(m *entity.Meeting) MeetingResponse {
	return MeetingResponse{
		ID:            m.ID,
		Provider:      m.Provider,
		ExternalID:    m.ExternalID,
		Title:         m.Title,
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		Attendees:     m.Attendees,
		MeetingURL:    m.MeetingURL,
		Location:      m.Location,
		SyncStatus:    m.SyncStatus,
		RecallStatus:  m.RecallStatus,
		IsDeleted:     m.IsDeleted,
		HasTranscript: m.Transcript != nil && *m.Transcript != "",
	}
}
