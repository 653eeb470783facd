package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/modules/calendar/calendartest"
	"calendar-sync-api/modules/calendar/entity"
	meetingDto "calendar-sync-api/modules/meeting/dto"
	"calendar-sync-api/modules/meeting/meetingtest"
	meetingService "calendar-sync-api/modules/meeting/service"
	notificationDto "calendar-sync-api/modules/notification/dto"
	"calendar-sync-api/modules/provider/client"
	providerDto "calendar-sync-api/modules/provider/dto"
	"calendar-sync-api/modules/provider/providertest"
	subscriptionService "calendar-sync-api/modules/subscription/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connectionNotes struct {
	sent []notificationDto.ConnectionNotification
}

func (n *connectionNotes) NotifyConnection(_ context.Context, msg notificationDto.ConnectionNotification) {
	n.sent = append(n.sent, msg)
}

type world struct {
	calendars *calendartest.Store
	meetings  *meetingtest.Store
	calendly  *providertest.Client
	tokens    *providertest.Tokens
	notes     *connectionNotes
	registry  *client.Registry
	poller    *Poller
}

func newWorld() *world {
	w := &world{
		calendars: calendartest.NewStore(),
		meetings:  meetingtest.NewStore(),
		calendly:  providertest.NewClient(coreEntity.ProviderCalendly),
		tokens:    providertest.NewTokens(),
		notes:     &connectionNotes{},
	}
	w.registry = client.NewRegistry(w.calendly)
	ingestor := meetingService.NewIngestor(meetingService.NewReconciler(w.meetings, nil), nil)
	w.poller = NewPoller(w.registry, w.tokens, w.calendars, w.calendars, ingestor, w.notes)
	return w
}

func (w *world) connection() *entity.CalendarConnection {
	return w.calendars.AddConnection(&entity.CalendarConnection{
		UserID: uuid.New(), TenantID: uuid.New(), Provider: coreEntity.ProviderCalendly,
		IsActive: true, TranscriptionEnabled: true, SyncMethod: entity.SyncMethodPolling,
	})
}

func calendlyEvent(id, status string) providerDto.ProviderEvent {
	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	return providerDto.CalendlyEvent{
		Event: providerDto.CalendlyScheduledEvent{
			URI:       "https://api.calendly.com/scheduled_events/" + id,
			Name:      "Review " + id,
			Status:    status,
			StartTime: start,
			EndTime:   start.Add(30 * time.Minute),
			Location:  &providerDto.CalendlyLocation{Type: "zoom", JoinURL: "https://zoom.us/j/" + id},
		},
		Invitees: []providerDto.CalendlyInvitee{{Email: "client-" + id + "@example.com", Status: "active"}},
	}
}

func TestCalendlyWithoutWebhooksPollsToConsistentState(t *testing.T) {
	w := newWorld()
	w.calendly.CreateFunc = func(*entity.CalendarConnection, client.SubscriptionRequest) (*client.RemoteSubscription, error) {
		return nil, errors.NewAppError(errors.ErrWebhookUnsupported, "free plan", nil)
	}
	conn := w.connection()
	conn.SyncMethod = entity.SyncMethodWebhook

	manager := subscriptionService.NewManager(w.registry, w.tokens, w.calendars, w.calendars, nil, nil, "https://crm.example.com", 0)
	res, err := manager.Create(t.Context(), conn)
	require.NoError(t, err)
	require.False(t, res.Subscribed)
	assert.Equal(t, entity.SyncMethodPolling, w.calendars.Connection(conn.ID).SyncMethod)

	cancelled := false
	w.calendly.PageFunc = func(cursor, pageToken string) (*client.EventPage, error) {
		status := func(id string) string {
			if cancelled && id == "B" {
				return providerDto.CalendlyStatusCanceled
			}
			return providerDto.CalendlyStatusActive
		}
		if pageToken == "" {
			return &client.EventPage{Events: []providerDto.ProviderEvent{calendlyEvent("A", status("A")), calendlyEvent("B", status("B"))}, NextPageToken: "p2"}, nil
		}
		return &client.EventPage{Events: []providerDto.ProviderEvent{calendlyEvent("C", status("C"))}, NextCursor: "2026-01-01T00:00:00Z"}, nil
	}

	run, err := w.poller.Poll(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, 3, run.Transitions[meetingDto.TransitionCreated])

	rows := w.meetings.All()
	require.Len(t, rows, 3)
	for _, m := range rows {
		assert.False(t, m.IsDeleted)
		assert.Equal(t, conn.UserID, m.UserID)
	}

	saves := w.calendars.CursorSaves()
	require.Len(t, saves, 2)
	assert.Equal(t, entity.SyncCursor{ConnectionID: conn.ID, PageToken: "p2"}, withoutTime(saves[0]))
	assert.Equal(t, entity.SyncCursor{ConnectionID: conn.ID, Cursor: "2026-01-01T00:00:00Z"}, withoutTime(saves[1]))

	cancelled = true
	run, err = w.poller.Poll(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Transitions[meetingDto.TransitionTombstoned])
	assert.Equal(t, 2, run.Transitions[meetingDto.TransitionUpdated])

	rows = w.meetings.All()
	require.Len(t, rows, 3)
	deleted := 0
	for _, m := range rows {
		if m.IsDeleted {
			deleted++
			assert.Equal(t, "calendly_B", m.ExternalID)
		}
	}
	assert.Equal(t, 1, deleted)
	assert.NotNil(t, w.calendars.Connection(conn.ID).LastSyncAt)
}

func withoutTime(c entity.SyncCursor) entity.SyncCursor {
	c.UpdatedAt = time.Time{}
	return c
}

func TestPollResumesFromFailedPage(t *testing.T) {
	w := newWorld()
	conn := w.connection()

	failSecond := true
	w.calendly.PageFunc = func(cursor, pageToken string) (*client.EventPage, error) {
		switch pageToken {
		case "":
			return &client.EventPage{Events: []providerDto.ProviderEvent{calendlyEvent("A", "active")}, NextPageToken: "p2"}, nil
		default:
			if failSecond {
				return nil, errors.NewAppError(errors.ErrProviderRateLimited, "429", nil)
			}
			return &client.EventPage{Events: []providerDto.ProviderEvent{calendlyEvent("B", "active")}, NextCursor: "c1"}, nil
		}
	}

	_, err := w.poller.Poll(t.Context(), conn)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	cur, err := w.calendars.GetCursor(t.Context(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "p2", cur.PageToken)
	assert.Empty(t, cur.Cursor)

	failSecond = false
	_, err = w.poller.Poll(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch:|", "fetch:|p2", "fetch:|p2"}, w.calendly.Calls())
	assert.Len(t, w.meetings.All(), 2)
}

func TestPollSkipsUntranslatableEvents(t *testing.T) {
	w := newWorld()
	conn := w.connection()
	w.calendly.PageFunc = func(string, string) (*client.EventPage, error) {
		bad := providerDto.CalendlyEvent{Event: providerDto.CalendlyScheduledEvent{URI: "https://api.calendly.com/scheduled_events/X", Status: "active"}}
		return &client.EventPage{Events: []providerDto.ProviderEvent{bad, calendlyEvent("A", "active")}, NextCursor: "c1"}, nil
	}

	run, err := w.poller.Poll(t.Context(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Skipped)
	assert.Len(t, w.meetings.All(), 1)
}

func TestPollResetsExpiredCursor(t *testing.T) {
	w := newWorld()
	conn := w.connection()
	require.NoError(t, w.calendars.SaveCursor(t.Context(), &entity.SyncCursor{ConnectionID: conn.ID, Cursor: "stale"}))

	w.calendly.PageFunc = func(cursor, _ string) (*client.EventPage, error) {
		if cursor == "stale" {
			return nil, errors.NewAppError(errors.ErrCursorExpired, "410", nil)
		}
		return &client.EventPage{NextCursor: "fresh"}, nil
	}

	run, err := w.poller.Poll(t.Context(), conn)
	require.NoError(t, err)
	assert.True(t, run.CursorReset)
	assert.Equal(t, "fresh", run.Cursor)
}

func TestPollAuthExpiredDeactivatesConnection(t *testing.T) {
	w := newWorld()
	conn := w.connection()
	w.tokens.Fail(conn.ID, errors.NewAppError(errors.ErrAuthExpired, "invalid_grant", nil))

	_, err := w.poller.Poll(t.Context(), conn)
	assert.True(t, errors.IsCode(err, errors.ErrAuthExpired))

	stored := w.calendars.Connection(conn.ID)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, string(errors.ErrAuthExpired), *stored.LastError)
	require.Len(t, w.notes.sent, 1)
	assert.Equal(t, notificationDto.NotificationReconnectRequired, w.notes.sent[0].Type)
}

func TestPollScopesMeetingsToConnectionOwner(t *testing.T) {
	w := newWorld()
	a, b := w.connection(), w.connection()
	w.calendly.PageFunc = func(string, string) (*client.EventPage, error) {
		return &client.EventPage{Events: []providerDto.ProviderEvent{calendlyEvent("SHARED", "active")}, NextCursor: "c"}, nil
	}

	for _, conn := range []*entity.CalendarConnection{a, b} {
		_, err := w.poller.Poll(t.Context(), conn)
		require.NoError(t, err, fmt.Sprint(conn.ID))
	}

	rows := w.meetings.All()
	require.Len(t, rows, 2)
	owners := map[uuid.UUID]bool{rows[0].UserID: true, rows[1].UserID: true}
	assert.True(t, owners[a.UserID])
	assert.True(t, owners[b.UserID])
}

func TestPollSerializesPerConnectionAndReleasesLocks(t *testing.T) {
	w := newWorld()
	a, b := w.connection(), w.connection()
	var inFlight, maxInFlight atomic.Int32
	w.calendly.PageFunc = func(string, string) (*client.EventPage, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return &client.EventPage{NextCursor: "c"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.poller.Poll(t.Context(), a)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())

	_, err := w.poller.Poll(t.Context(), b)
	require.NoError(t, err)

	w.poller.locksMu.Lock()
	defer w.poller.locksMu.Unlock()
	assert.Empty(t, w.poller.locks)
}
