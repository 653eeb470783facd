package translator

import (
	"fmt"
	"strings"
	"time"

	"calendar-sync-api/core/errors"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/entity"
	"calendar-sync-api/modules/provider/dto"
)

const (
	CalendlyExternalIDPrefix = "calendly_"

	defaultCalendlyTitle = "Calendly Meeting"
	defaultEventTitle    = "Untitled Meeting"
)

// Translate converts one provider event into a canonical operation. All provider
// shape handling lives here; the reconciliation layer only sees Upsert and Tombstone.
func Translate(ev dto.ProviderEvent) (meetingDto.Operation, error) {
	switch e := ev.(type) {
	case dto.CalendlyEvent:
		return translateCalendly(e)
	case dto.GoogleEvent:
		return translateGoogle(e)
	case dto.MicrosoftEvent:
		return translateMicrosoft(e)
	default:
		return meetingDto.Operation{}, errors.NewAppError(errors.ErrUnsupportedEventType, fmt.Sprintf("unsupported provider event %T", ev), nil)
	}
}

func invalid(format string, args ...any) error {
	return errors.NewAppError(errors.ErrInvalidRequestData, fmt.Sprintf(format, args...), nil)
}

// CalendlyExternalID derives the meeting key from a scheduled event URI.
func CalendlyExternalID(eventURI string) string {
	id := dto.CalendlyUUIDFromURI(eventURI)
	if id == "" {
		return ""
	}
	return CalendlyExternalIDPrefix + id
}

func translateCalendly(e dto.CalendlyEvent) (meetingDto.Operation, error) {
	externalID := CalendlyExternalID(e.Event.URI)
	if externalID == "" {
		return meetingDto.Operation{}, invalid("calendly event without uri")
	}

	switch e.Trigger {
	case dto.CalendlyInviteeCanceled:
		return meetingDto.Tombstone(externalID), nil
	case dto.CalendlyInviteeCreated, dto.CalendlyInviteeUpdated, "":
	default:
		return meetingDto.Operation{}, errors.NewAppError(errors.ErrUnsupportedEventType, "unsupported calendly event "+e.Trigger, nil)
	}

	// The scheduled event is a full snapshot; a canceled snapshot wins over the trigger.
	if e.Event.Status == dto.CalendlyStatusCanceled {
		return meetingDto.Tombstone(externalID), nil
	}
	if e.Event.StartTime.IsZero() || e.Event.EndTime.IsZero() {
		return meetingDto.Operation{}, invalid("calendly event %s without start/end", externalID)
	}

	ev := meetingDto.MeetingEvent{
		ExternalID: externalID,
		Title:      firstNonEmpty(e.Event.Name, defaultCalendlyTitle),
		Start:      e.Event.StartTime.UTC(),
		End:        e.Event.EndTime.UTC(),
		Attendees:  calendlyAttendees(e.Invitees),
	}

	var explicit, location string
	if loc := e.Event.Location; loc != nil {
		explicit = loc.JoinURL
		location = loc.Location
	}
	ev.Location = optional(location)
	ev.MeetingURL = ResolveJoinURL(explicit, location, "")
	if len(e.Event.EventMemberships) > 0 {
		ev.OrganizerHint = e.Event.EventMemberships[0].UserEmail
	}
	return meetingDto.Upsert(ev), nil
}

func calendlyAttendees(invitees []dto.CalendlyInvitee) entity.Attendees {
	out := make(entity.Attendees, 0, len(invitees))
	seen := make(map[string]bool, len(invitees))
	for _, inv := range invitees {
		email := strings.ToLower(strings.TrimSpace(inv.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		status := "accepted"
		if inv.Status == dto.CalendlyStatusCanceled {
			status = "declined"
		}
		out = append(out, entity.Attendee{Email: email, DisplayName: inv.Name, ResponseStatus: status})
	}
	return out
}

func translateGoogle(e dto.GoogleEvent) (meetingDto.Operation, error) {
	g := e.Event
	if g.ID == "" {
		return meetingDto.Operation{}, invalid("google event without id")
	}
	if g.Status == dto.GoogleStatusCancelled {
		return meetingDto.Tombstone(g.ID), nil
	}

	start, err := parseGoogleTime(g.Start)
	if err != nil {
		return meetingDto.Operation{}, invalid("google event %s start: %v", g.ID, err)
	}
	end, err := parseGoogleTime(g.End)
	if err != nil {
		return meetingDto.Operation{}, invalid("google event %s end: %v", g.ID, err)
	}

	var explicit string
	if g.ConferenceData != nil {
		for _, ep := range g.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.URI != "" {
				explicit = ep.URI
				break
			}
		}
	}
	if explicit == "" {
		explicit = g.HangoutLink
	}

	attendees := make(entity.Attendees, 0, len(g.Attendees))
	for _, a := range g.Attendees {
		if a.Email == "" {
			continue
		}
		attendees = append(attendees, entity.Attendee{
			Email:          strings.ToLower(a.Email),
			DisplayName:    a.DisplayName,
			ResponseStatus: firstNonEmpty(a.ResponseStatus, "needsAction"),
		})
	}

	ev := meetingDto.MeetingEvent{
		ExternalID:  g.ID,
		Title:       firstNonEmpty(g.Summary, defaultEventTitle),
		Start:       start,
		End:         end,
		Attendees:   attendees,
		Location:    optional(g.Location),
		Description: optional(g.Description),
		MeetingURL:  ResolveJoinURL(explicit, g.Location, g.Description),
	}
	if g.Organizer != nil {
		ev.OrganizerHint = g.Organizer.Email
	}
	return meetingDto.Upsert(ev), nil
}

func parseGoogleTime(t dto.EventTime) (time.Time, error) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return v.UTC(), nil
	}
	if t.Date != "" {
		loc := time.UTC
		if t.TimeZone != "" {
			if l, err := time.LoadLocation(t.TimeZone); err == nil {
				loc = l
			}
		}
		v, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		if err != nil {
			return time.Time{}, err
		}
		return v.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("missing dateTime and date")
}

func translateMicrosoft(e dto.MicrosoftEvent) (meetingDto.Operation, error) {
	m := e.Event
	if m.ID == "" {
		return meetingDto.Operation{}, invalid("graph event without id")
	}
	if e.Removed || m.Removed != nil || m.IsCancelled {
		return meetingDto.Tombstone(m.ID), nil
	}

	start, err := parseGraphTime(m.Start)
	if err != nil {
		return meetingDto.Operation{}, invalid("graph event %s start: %v", m.ID, err)
	}
	end, err := parseGraphTime(m.End)
	if err != nil {
		return meetingDto.Operation{}, invalid("graph event %s end: %v", m.ID, err)
	}

	var explicit, location, body string
	if m.OnlineMeeting != nil {
		explicit = m.OnlineMeeting.JoinURL
	}
	if explicit == "" {
		explicit = m.OnlineMeetingURL
	}
	if m.Location != nil {
		location = m.Location.DisplayName
	}
	if m.Body != nil {
		body = m.Body.Content
	}

	attendees := make(entity.Attendees, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		if a.EmailAddress.Address == "" {
			continue
		}
		var response string
		if a.Status != nil {
			response = a.Status.Response
		}
		attendees = append(attendees, entity.Attendee{
			Email:          strings.ToLower(a.EmailAddress.Address),
			DisplayName:    a.EmailAddress.Name,
			ResponseStatus: graphResponseStatus(response),
		})
	}

	ev := meetingDto.MeetingEvent{
		ExternalID:  m.ID,
		Title:       firstNonEmpty(m.Subject, defaultEventTitle),
		Start:       start,
		End:         end,
		Attendees:   attendees,
		Location:    optional(location),
		Description: optional(firstNonEmpty(m.BodyPreview, body)),
		MeetingURL:  ResolveJoinURL(explicit, location, firstNonEmpty(body, m.BodyPreview)),
	}
	if m.Organizer != nil {
		ev.OrganizerHint = m.Organizer.EmailAddress.Address
	}
	return meetingDto.Upsert(ev), nil
}

const graphDateTimeLayout = "2006-01-02T15:04:05.9999999"

func parseGraphTime(t *dto.GraphDateTime) (time.Time, error) {
	if t == nil || t.DateTime == "" {
		return time.Time{}, fmt.Errorf("missing dateTime")
	}
	loc := time.UTC
	if t.TimeZone != "" && !strings.EqualFold(t.TimeZone, "UTC") {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}
	v, err := time.ParseInLocation(graphDateTimeLayout, t.DateTime, loc)
	if err != nil {
		if v2, err2 := time.Parse(time.RFC3339, t.DateTime); err2 == nil {
			return v2.UTC(), nil
		}
		return time.Time{}, err
	}
	return v.UTC(), nil
}

func graphResponseStatus(r string) string {
	switch r {
	case "accepted", "organizer":
		return "accepted"
	case "tentativelyAccepted":
		return "tentative"
	case "declined":
		return "declined"
	default:
		return "needsAction"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
