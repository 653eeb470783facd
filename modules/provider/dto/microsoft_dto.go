package dto

import "time"

const (
	GraphChangeCreated = "created"
	GraphChangeUpdated = "updated"
	GraphChangeDeleted = "deleted"
)

type GraphEvent struct {
	ID               string              `json:"id"`
	Subject          string              `json:"subject"`
	Body             *GraphBody          `json:"body"`
	BodyPreview      string              `json:"bodyPreview"`
	Start            *GraphDateTime      `json:"start"`
	End              *GraphDateTime      `json:"end"`
	Location         *GraphLocation      `json:"location"`
	Attendees        []GraphAttendee     `json:"attendees"`
	Organizer        *GraphRecipient     `json:"organizer"`
	IsCancelled      bool                `json:"isCancelled"`
	IsOnlineMeeting  bool                `json:"isOnlineMeeting"`
	OnlineMeeting    *GraphOnlineMeeting `json:"onlineMeeting"`
	OnlineMeetingURL string              `json:"onlineMeetingUrl"`
	Removed          *GraphRemoved       `json:"@removed,omitempty"`
}

type GraphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// GraphDateTime is Graph's dateTimeTimeZone; DateTime has no offset and is
// interpreted in TimeZone (UTC when the Prefer header asks for it).
type GraphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type GraphLocation struct {
	DisplayName string `json:"displayName"`
}

type GraphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type GraphRecipient struct {
	EmailAddress GraphEmailAddress `json:"emailAddress"`
}

type GraphAttendee struct {
	EmailAddress GraphEmailAddress `json:"emailAddress"`
	Status       *GraphResponse    `json:"status"`
	Type         string            `json:"type"`
}

type GraphResponse struct {
	Response string `json:"response"`
}

type GraphOnlineMeeting struct {
	JoinURL string `json:"joinUrl"`
}

type GraphRemoved struct {
	Reason string `json:"reason"`
}

type GraphEventPage struct {
	Value     []GraphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

type GraphSubscription struct {
	ID                 string    `json:"id,omitempty"`
	ChangeType         string    `json:"changeType,omitempty"`
	NotificationURL    string    `json:"notificationUrl,omitempty"`
	Resource           string    `json:"resource,omitempty"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

type GraphSubscriptionList struct {
	Value    []GraphSubscription `json:"value"`
	NextLink string              `json:"@odata.nextLink"`
}

// GraphNotificationBatch is the body Graph posts to a notificationUrl.
type GraphNotificationBatch struct {
	Value []GraphNotification `json:"value"`
}

type GraphNotification struct {
	SubscriptionID                 string             `json:"subscriptionId"`
	ClientState                    string             `json:"clientState"`
	ChangeType                     string             `json:"changeType"`
	Resource                       string             `json:"resource"`
	SubscriptionExpirationDateTime time.Time          `json:"subscriptionExpirationDateTime"`
	TenantID                       string             `json:"tenantId"`
	ResourceData                   *GraphResourceData `json:"resourceData"`
}

type GraphResourceData struct {
	ID string `json:"id"`
}
