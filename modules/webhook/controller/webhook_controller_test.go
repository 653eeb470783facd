package controller_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"calendar-sync-api/core/cache"
	"calendar-sync-api/core/constants"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/modules/calendar/calendartest"
	calendarEntity "calendar-sync-api/modules/calendar/entity"
	meetingEntity "calendar-sync-api/modules/meeting/entity"
	"calendar-sync-api/modules/meeting/meetingtest"
	meetingService "calendar-sync-api/modules/meeting/service"
	"calendar-sync-api/modules/provider/client"
	"calendar-sync-api/modules/provider/providertest"
	"calendar-sync-api/modules/webhook/controller"
	"calendar-sync-api/modules/webhook/router"
	"calendar-sync-api/modules/webhook/service"
	"calendar-sync-api/modules/webhook/verifier"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*echo.Echo, *calendartest.Store, *meetingtest.Store) {
	t.Helper()
	calendars := calendartest.NewStore()
	meetings := meetingtest.NewStore()
	reconciler := meetingService.NewReconciler(meetings, nil)
	svc := service.NewWebhookService(
		verifier.NewVerifier(calendars, calendars, "", time.Minute),
		client.NewRegistry(providertest.NewClient(coreEntity.ProviderMicrosoft)),
		providertest.NewTokens(),
		meetingService.NewIngestor(reconciler, nil),
		nil, reconciler, nil, cache.NewNoopCache(),
	)
	e := echo.New()
	router.NewWebhookRouter(controller.NewWebhookController(svc)).Setup(e)
	return e, calendars, meetings
}

func TestMicrosoftValidationTokenIsEchoed(t *testing.T) {
	e, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, constants.WebhookPathMicrosoft+"?validationToken=abc%20123", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc 123", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
}

func TestUnverifiedDeliveriesAreRejected(t *testing.T) {
	e, _, meetings := newServer(t)
	for _, path := range []string{
		constants.WebhookPathCalendly, constants.WebhookPathGoogle,
		constants.WebhookPathMicrosoft, constants.WebhookPathRecall,
	} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"value":[{"subscriptionId":"s","clientState":"x"}]}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "SIGNATURE_INVALID", path)
	}
	assert.Empty(t, meetings.All())
}

func TestMicrosoftBatchIsAcceptedWhenAnyNotificationVerifies(t *testing.T) {
	e, calendars, meetings := newServer(t)
	conn := calendars.AddConnection(&calendarEntity.CalendarConnection{
		UserID: uuid.New(), Provider: coreEntity.ProviderMicrosoft, IsActive: true, SyncMethod: calendarEntity.SyncMethodWebhook,
	})
	_, err := calendars.Save(t.Context(), &calendarEntity.WebhookSubscription{
		ConnectionID: conn.ID, UserID: conn.UserID, Provider: coreEntity.ProviderMicrosoft,
		ExternalSubscriptionID: "sub-live", SigningKey: "state-live",
	})
	require.NoError(t, err)
	meetings.Put(&meetingEntity.Meeting{UserID: conn.UserID, Provider: coreEntity.ProviderMicrosoft, ExternalID: "e1"})

	body := `{"value":[
		{"subscriptionId":"sub-stale","clientState":"state-stale","changeType":"deleted","resourceData":{"id":"e9"}},
		{"subscriptionId":"sub-live","clientState":"state-live","changeType":"deleted","resourceData":{"id":"e1"}}]}`
	req := httptest.NewRequest(http.MethodPost, constants.WebhookPathMicrosoft, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	all := meetings.All()
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted)
}
