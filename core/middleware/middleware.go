package middleware

import (
	"bytes"
	"io"
	"net/http"

	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/controller"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/utils"

	"github.com/labstack/echo/v4"
)

type Middleware struct {
	jwtSecret string
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: jwtSecret}
}

// AuthMiddleware validates the bearer token and stores its claims under constants.ContextTokenData.
func (m *Middleware) AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := utils.GetTokenFromHeader(c)
			if err != nil {
				return controller.NewErrorResponse(http.StatusUnauthorized, errors.ErrMissingAuthorizationHeader, err.Error())
			}
			claims, err := utils.ValidateAndParseToken(token, m.jwtSecret)
			if err != nil {
				return controller.NewErrorResponse(http.StatusUnauthorized, errors.ErrUnauthorized, "invalid or expired token")
			}
			c.Set(constants.ContextTokenData, claims)
			return next(c)
		}
	}
}

// RawBody reads the request body once, bounded by constants.MaxWebhookBody, and keeps the
// exact bytes in the context. The body is restored so later binders still work. Webhook
// signatures are computed over these bytes, so this must run before anything parses the body.
func RawBody() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, constants.MaxWebhookBody))
			if err != nil {
				logger.Warn("Middleware:RawBody:ReadFailed", "path", req.URL.Path, "error", err)
				return controller.NewErrorResponse(http.StatusRequestEntityTooLarge, errors.ErrInvalidRequestData, "request body too large or unreadable")
			}
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(body))
			c.Set(constants.ContextRawBody, body)
			return next(c)
		}
	}
}

func RawBodyFrom(c echo.Context) []byte {
	b, _ := c.Get(constants.ContextRawBody).([]byte)
	return b
}

func TokenClaimsFrom(c echo.Context) (*utils.TokenClaims, bool) {
	claims, ok := c.Get(constants.ContextTokenData).(*utils.TokenClaims)
	return claims, ok && claims != nil
}
