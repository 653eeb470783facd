package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawBodyPreservesBytes(t *testing.T) {
	e := echo.New()
	payload := `{"event":"invitee.created",  "payload":{}}`

	var captured []byte
	var rebound string
	h := RawBody()(func(c echo.Context) error {
		captured = RawBodyFrom(c)
		b, _ := io.ReadAll(c.Request().Body)
		rebound = string(b)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/calendly", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))

	assert.Equal(t, payload, string(captured))
	assert.Equal(t, payload, rebound)
}

func TestRawBodyTooLarge(t *testing.T) {
	e := echo.New()
	h := RawBody()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	big := strings.Repeat("a", constants.MaxWebhookBody+1)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	err := h(e.NewContext(req, httptest.NewRecorder()))

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusRequestEntityTooLarge, he.Code)
}

func TestAuthMiddleware(t *testing.T) {
	e := echo.New()
	mw := NewMiddleware("secret")
	userID := uuid.New()

	var gotUser uuid.UUID
	h := mw.AuthMiddleware()(func(c echo.Context) error {
		claims, ok := TokenClaimsFrom(c)
		require.True(t, ok)
		gotUser = claims.UserID
		return c.NoContent(http.StatusOK)
	})

	tok, err := utils.GenerateToken(userID, uuid.New(), "secret", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	require.NoError(t, h(e.NewContext(req, httptest.NewRecorder())))
	assert.Equal(t, userID, gotUser)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	err = h(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}
