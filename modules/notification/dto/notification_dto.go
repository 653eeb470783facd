package dto

import (
	"time"

	"github.com/google/uuid"
)

type ConnectionNotificationType string

const (
	// NotificationPollingFallback is sent when a connection lost its webhook and now polls.
	NotificationPollingFallback ConnectionNotificationType = "connection.polling_fallback"
	// NotificationReconnectRequired is sent when the provider revoked the connection's grant.
	NotificationReconnectRequired ConnectionNotificationType = "connection.reconnect_required"
)

type ConnectionNotification struct {
	Type         ConnectionNotificationType `json:"type"`
	ConnectionID uuid.UUID                  `json:"connection_id"`
	UserID       uuid.UUID                  `json:"user_id"`
	Provider     string                     `json:"provider"`
	At           time.Time                  `json:"at"`
}
