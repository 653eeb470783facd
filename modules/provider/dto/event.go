package dto

import "calendar-sync-api/core/entity"

// ProviderEvent is the closed set of provider payload shapes. Only the types in this
// package implement it.
type ProviderEvent interface {
	Provider() entity.Provider
	isProviderEvent()
}

// CalendlyEvent is one scheduled event, either from a webhook (Trigger set) or a poll
// (Trigger empty, state taken from Event.Status).
type CalendlyEvent struct {
	Trigger  string
	Event    CalendlyScheduledEvent
	Invitees []CalendlyInvitee
}

type GoogleEvent struct {
	Event GoogleCalendarEvent
}

// MicrosoftEvent is a Graph event. Removed is set for delta "@removed" entries and
// "deleted" change notifications, where only the id is known.
type MicrosoftEvent struct {
	Event   GraphEvent
	Removed bool
}

func (CalendlyEvent) Provider() entity.Provider  { return entity.ProviderCalendly }
func (GoogleEvent) Provider() entity.Provider    { return entity.ProviderGoogle }
func (MicrosoftEvent) Provider() entity.Provider { return entity.ProviderMicrosoft }

func (CalendlyEvent) isProviderEvent()  {}
func (GoogleEvent) isProviderEvent()    {}
func (MicrosoftEvent) isProviderEvent() {}
