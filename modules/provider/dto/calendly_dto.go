package dto

import (
	"strings"
	"time"
)

const (
	CalendlyInviteeCreated  = "invitee.created"
	CalendlyInviteeCanceled = "invitee.canceled"
	CalendlyInviteeUpdated  = "invitee.updated"

	CalendlyStatusActive   = "active"
	CalendlyStatusCanceled = "canceled"
)

// CalendlyWebhook is the envelope Calendly posts to the subscription callback.
type CalendlyWebhook struct {
	Event     string                 `json:"event"`
	CreatedAt time.Time              `json:"created_at"`
	CreatedBy string                 `json:"created_by"`
	Payload   CalendlyWebhookPayload `json:"payload"`
}

// CalendlyWebhookPayload is the invitee resource. ScheduledEvent is embedded by
// Calendly for invitee events; when absent it is fetched by URI.
type CalendlyWebhookPayload struct {
	URI            string                  `json:"uri"`
	Email          string                  `json:"email"`
	Name           string                  `json:"name"`
	Status         string                  `json:"status"`
	Event          string                  `json:"event"`
	ScheduledEvent *CalendlyScheduledEvent `json:"scheduled_event"`
	Rescheduled    bool                    `json:"rescheduled"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// EventURI returns the scheduled event URI regardless of which field carried it.
func (p CalendlyWebhookPayload) EventURI() string {
	if p.ScheduledEvent != nil && p.ScheduledEvent.URI != "" {
		return p.ScheduledEvent.URI
	}
	return p.Event
}

func (p CalendlyWebhookPayload) Invitee() CalendlyInvitee {
	return CalendlyInvitee{URI: p.URI, Email: p.Email, Name: p.Name, Status: p.Status}
}

type CalendlyScheduledEvent struct {
	URI              string                `json:"uri"`
	Name             string                `json:"name"`
	Status           string                `json:"status"`
	StartTime        time.Time             `json:"start_time"`
	EndTime          time.Time             `json:"end_time"`
	Location         *CalendlyLocation     `json:"location"`
	EventMemberships []CalendlyMembership  `json:"event_memberships"`
	Cancellation     *CalendlyCancellation `json:"cancellation"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// UUID is the last path segment of the scheduled event URI.
func (e CalendlyScheduledEvent) UUID() string {
	return CalendlyUUIDFromURI(e.URI)
}

func CalendlyUUIDFromURI(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

type CalendlyLocation struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	JoinURL  string `json:"join_url"`
	Status   string `json:"status"`
}

type CalendlyMembership struct {
	User      string `json:"user"`
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

type CalendlyCancellation struct {
	CanceledBy string `json:"canceled_by"`
	Reason     string `json:"reason"`
}

type CalendlyInvitee struct {
	URI    string `json:"uri"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type CalendlyPagination struct {
	Count         int    `json:"count"`
	NextPage      string `json:"next_page"`
	NextPageToken string `json:"next_page_token"`
}

type CalendlyEventList struct {
	Collection []CalendlyScheduledEvent `json:"collection"`
	Pagination CalendlyPagination       `json:"pagination"`
}

type CalendlyInviteeList struct {
	Collection []CalendlyInvitee  `json:"collection"`
	Pagination CalendlyPagination `json:"pagination"`
}

type CalendlyWebhookSubscription struct {
	URI          string    `json:"uri"`
	CallbackURL  string    `json:"callback_url"`
	State        string    `json:"state"`
	Events       []string  `json:"events"`
	Scope        string    `json:"scope"`
	Organization string    `json:"organization"`
	User         string    `json:"user"`
	CreatedAt    time.Time `json:"created_at"`
}

type CalendlySubscriptionList struct {
	Collection []CalendlyWebhookSubscription `json:"collection"`
	Pagination CalendlyPagination            `json:"pagination"`
}

type CalendlyCreateSubscriptionRequest struct {
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Organization string   `json:"organization"`
	User         string   `json:"user,omitempty"`
	Scope        string   `json:"scope"`
	SigningKey   string   `json:"signing_key,omitempty"`
}
