package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	coreEntity "calendar-sync-api/core/entity"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncStatusActive          SyncStatus = "active"
	SyncStatusUpgradeRequired SyncStatus = "upgrade_required"
)

// Recording bot statuses as stored in recall_status.
const (
	RecallStatusScheduled   = "scheduled"
	RecallStatusJoining     = "joining"
	RecallStatusWaitingRoom = "in_waiting_room"
	RecallStatusRecording   = "recording"
	RecallStatusDone        = "done"
	RecallStatusCompleted   = "completed"
	RecallStatusFailed      = "failed"
)

// Meeting is the canonical, provider-independent meeting row. Rows are never
// deleted; cancellation sets IsDeleted.
type Meeting struct {
	ID               uuid.UUID           `db:"id" json:"id"`
	UserID           uuid.UUID           `db:"user_id" json:"user_id"`
	TenantID         uuid.UUID           `db:"tenant_id" json:"tenant_id"`
	ConnectionID     *uuid.UUID          `db:"connection_id" json:"connection_id,omitempty"`
	Provider         coreEntity.Provider `db:"provider" json:"provider"`
	ExternalID       string              `db:"external_id" json:"external_id"`
	Title            string              `db:"title" json:"title"`
	StartTime        time.Time           `db:"start_time" json:"start_time"`
	EndTime          time.Time           `db:"end_time" json:"end_time"`
	Attendees        Attendees           `db:"attendees" json:"attendees"`
	MeetingURL       *string             `db:"meeting_url" json:"meeting_url,omitempty"`
	Location         *string             `db:"location" json:"location,omitempty"`
	Description      *string             `db:"description" json:"description,omitempty"`
	IsDeleted        bool                `db:"is_deleted" json:"is_deleted"`
	DeletedAt        *time.Time          `db:"deleted_at" json:"deleted_at,omitempty"`
	SyncStatus       SyncStatus          `db:"sync_status" json:"sync_status"`
	LastCalendarSync time.Time           `db:"last_calendar_sync" json:"last_calendar_sync"`
	RecallBotID      *string             `db:"recall_bot_id" json:"recall_bot_id,omitempty"`
	RecallStatus     *string             `db:"recall_status" json:"recall_status,omitempty"`
	RecallError      *string             `db:"recall_error" json:"recall_error,omitempty"`
	Transcript       *string             `db:"transcript" json:"-"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// Key identifies a meeting for reconciliation.
type Key struct {
	UserID     uuid.UUID
	Provider   coreEntity.Provider
	ExternalID string
}

func (m *Meeting) Key() Key {
	return Key{UserID: m.UserID, Provider: m.Provider, ExternalID: m.ExternalID}
}

type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ResponseStatus string `json:"responseStatus"`
}

type Attendees []Attendee

func (a Attendees) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *Attendees) Scan(value interface{}) error {
	if value == nil {
		*a = Attendees{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, a)
}

// TranscriptTrimSet is stripped from both ends of a transcript before its length is
// compared with the quota threshold, in Go and in SQL alike.
const TranscriptTrimSet = " \t\n\r\v\f"

// Failure reasons that mean the bot never captured a real conversation.
var nonQualifyingRecallErrors = []string{"waiting_room", "no_participant", "empty_call"}

// NonQualifyingRecallErrors returns the substrings matched against recall_error
// when deciding whether a transcript counts toward the free quota.
func NonQualifyingRecallErrors() []string {
	return append([]string(nil), nonQualifyingRecallErrors...)
}

// CountsTowardQuota reports whether the meeting holds a meaningful completed transcript.
func (m *Meeting) CountsTowardQuota(minTranscriptLen int) bool {
	if m.RecallBotID == nil || *m.RecallBotID == "" || m.RecallStatus == nil {
		return false
	}
	if *m.RecallStatus != RecallStatusCompleted && *m.RecallStatus != RecallStatusDone {
		return false
	}
	if m.Transcript == nil || utf8.RuneCountInString(strings.Trim(*m.Transcript, TranscriptTrimSet)) < minTranscriptLen {
		return false
	}
	if m.RecallError != nil {
		e := strings.ToLower(*m.RecallError)
		for _, s := range nonQualifyingRecallErrors {
			if strings.Contains(e, s) {
				return false
			}
		}
	}
	return true
}

// recallRank orders bot statuses so late deliveries cannot move a bot backwards.
var recallRank = map[string]int{
	RecallStatusScheduled:   1,
	RecallStatusJoining:     2,
	RecallStatusWaitingRoom: 3,
	RecallStatusRecording:   4,
	RecallStatusDone:        5,
	RecallStatusFailed:      5,
	RecallStatusCompleted:   6,
}

// RecallTransitionAllowed reports whether a bot in status from may move to status to.
func RecallTransitionAllowed(from *string, to string) bool {
	if from == nil || *from == "" {
		return true
	}
	if *from == RecallStatusFailed && to == RecallStatusDone {
		return false
	}
	return recallRank[to] >= recallRank[*from]
}
