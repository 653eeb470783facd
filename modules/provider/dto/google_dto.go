package dto

const (
	GoogleStatusCancelled = "cancelled"

	GoogleResourceStateSync   = "sync"
	GoogleResourceStateExists = "exists"
)

type GoogleCalendarEvent struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Summary        string           `json:"summary"`
	Description    string           `json:"description"`
	Location       string           `json:"location"`
	HangoutLink    string           `json:"hangoutLink"`
	Start          EventTime        `json:"start"`
	End            EventTime        `json:"end"`
	Attendees      []GoogleAttendee `json:"attendees"`
	Organizer      *GoogleAttendee  `json:"organizer"`
	ConferenceData *ConferenceData  `json:"conferenceData"`
	Updated        string           `json:"updated"`
}

type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type GoogleAttendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ResponseStatus string `json:"responseStatus"`
	Self           bool   `json:"self"`
}

type ConferenceData struct {
	EntryPoints []EntryPoint `json:"entryPoints"`
}

type EntryPoint struct {
	EntryPointType string `json:"entryPointType"`
	URI            string `json:"uri"`
}

type GoogleEventList struct {
	Items         []GoogleCalendarEvent `json:"items"`
	NextPageToken string                `json:"nextPageToken"`
	NextSyncToken string                `json:"nextSyncToken"`
}

type GoogleWatchRequest struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Address    string `json:"address"`
	Token      string `json:"token,omitempty"`
	Expiration int64  `json:"expiration,omitempty"`
}

type GoogleChannel struct {
	ID          string `json:"id"`
	ResourceID  string `json:"resourceId"`
	ResourceURI string `json:"resourceUri"`
	Token       string `json:"token"`
	Expiration  string `json:"expiration"`
}

type GoogleStopRequest struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
}
