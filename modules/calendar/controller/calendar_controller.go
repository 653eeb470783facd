package controller

import (
	"calendar-sync-api/core/controller"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/core/utils"
	"calendar-sync-api/modules/calendar/dto"
	"calendar-sync-api/modules/calendar/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type CalendarController struct {
	controller.BaseController
	CalendarService service.CalendarService
}

func NewCalendarController(svc service.CalendarService) *CalendarController {
	return &CalendarController{
		BaseController:  controller.NewBaseController(),
		CalendarService: svc,
	}
}

func (c *CalendarController) caller(ctx echo.Context) (*utils.TokenClaims, error) {
	claims, ok := middleware.TokenClaimsFrom(ctx)
	if !ok {
		return nil, c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}
	return claims, nil
}

func (c *CalendarController) target(ctx echo.Context) (*utils.TokenClaims, uuid.UUID, error) {
	claims, err := c.caller(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return nil, uuid.Nil, c.BadRequest(errors.ErrInvalidInput, "Invalid connection ID")
	}
	return claims, id, nil
}

// GetConnections handles GET /calendar/connections
// @Summary List calendar connections
// @Description Returns the caller's connections with their active flag and sync method
// @Tags Calendar
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.ConnectionListResponse
// @Failure 401 {object} errors.AppError
// @Router /private/calendar/connections [get]
func (c *CalendarController) GetConnections(ctx echo.Context) error {
	claims, err := c.caller(ctx)
	if err != nil {
		return err
	}
	conns, err := c.CalendarService.GetConnections(ctx.Request().Context(), claims.UserID)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, dto.ConnectionListResponse{Connections: conns}, "Connections retrieved successfully")
}

// Connect handles POST /calendar/connections
// @Summary Register a calendar connection
// @Description Stores tokens from a completed OAuth grant and makes the connection the active feed
// @Tags Calendar
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.ConnectRequest true "Provider and tokens"
// @Success 200 {object} dto.ConnectionResponse
// @Failure 400 {object} errors.AppError
// @Failure 401 {object} errors.AppError
// @Router /private/calendar/connections [post]
func (c *CalendarController) Connect(ctx echo.Context) error {
	claims, err := c.caller(ctx)
	if err != nil {
		return err
	}
	var req dto.ConnectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request data")
	}
	conn, err := c.CalendarService.Connect(ctx.Request().Context(), claims.UserID, claims.TenantID, &req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, conn, "Calendar connected successfully")
}

// Activate handles PATCH /calendar/connections/:id/activate
// @Summary Activate a connection
// @Description Deactivates every other connection of the caller and starts a webhook or polling feed
// @Tags Calendar
// @Security BearerAuth
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} dto.ConnectionResponse
// @Failure 404 {object} errors.AppError
// @Router /private/calendar/connections/{id}/activate [patch]
func (c *CalendarController) Activate(ctx echo.Context) error {
	claims, id, err := c.target(ctx)
	if err != nil {
		return err
	}
	conn, err := c.CalendarService.Activate(ctx.Request().Context(), claims.UserID, id)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, conn, "Connection activated")
}

// Deactivate handles PATCH /calendar/connections/:id/deactivate
// @Summary Deactivate a connection
// @Tags Calendar
// @Security BearerAuth
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} dto.ConnectionResponse
// @Failure 404 {object} errors.AppError
// @Router /private/calendar/connections/{id}/deactivate [patch]
func (c *CalendarController) Deactivate(ctx echo.Context) error {
	claims, id, err := c.target(ctx)
	if err != nil {
		return err
	}
	conn, err := c.CalendarService.Deactivate(ctx.Request().Context(), claims.UserID, id)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, conn, "Connection deactivated")
}

// SetTranscription handles PATCH /calendar/connections/:id/transcription
// @Summary Toggle transcription
// @Tags Calendar
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Connection ID"
// @Param request body dto.TranscriptionRequest true "Enabled flag"
// @Success 200 {object} dto.ConnectionResponse
// @Failure 400 {object} errors.AppError
// @Router /private/calendar/connections/{id}/transcription [patch]
func (c *CalendarController) SetTranscription(ctx echo.Context) error {
	claims, id, err := c.target(ctx)
	if err != nil {
		return err
	}
	var req dto.TranscriptionRequest
	if err := ctx.Bind(&req); err != nil || req.Enabled == nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "enabled is required")
	}
	conn, err := c.CalendarService.SetTranscription(ctx.Request().Context(), claims.UserID, id, *req.Enabled)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, conn, "Transcription setting updated")
}

// WebhookStatus handles GET /calendar/connections/:id/webhook-status
// @Summary Webhook subscription status
// @Description Reports the stored subscription and whether the provider still lists it
// @Tags Calendar
// @Security BearerAuth
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} dto.WebhookStatusResponse
// @Failure 404 {object} errors.AppError
// @Router /private/calendar/connections/{id}/webhook-status [get]
func (c *CalendarController) WebhookStatus(ctx echo.Context) error {
	claims, id, err := c.target(ctx)
	if err != nil {
		return err
	}
	status, err := c.CalendarService.WebhookStatus(ctx.Request().Context(), claims.UserID, id)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, status, "Webhook status retrieved")
}

// SyncNow handles POST /calendar/connections/:id/sync
// @Summary Poll a connection now
// @Tags Calendar
// @Security BearerAuth
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} dto.SyncResponse
// @Failure 400 {object} errors.AppError
// @Failure 503 {object} errors.AppError
// @Router /private/calendar/connections/{id}/sync [post]
func (c *CalendarController) SyncNow(ctx echo.Context) error {
	claims, id, err := c.target(ctx)
	if err != nil {
		return err
	}
	res, err := c.CalendarService.SyncNow(ctx.Request().Context(), claims.UserID, id)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, res, "Sync completed")
}

// Disconnect handles DELETE /calendar/connections/:id
// @Summary Disconnect a calendar
// @Description Deletes the remote subscription, stops polling and removes the connection
// @Tags Calendar
// @Security BearerAuth
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} errors.AppError
// @Failure 502 {object} errors.AppError
// @Router /private/calendar/connections/{id} [delete]
func (c *CalendarController) Disconnect(ctx echo.Context) error {
	claims, id, err := c.target(ctx)
	if err != nil {
		return err
	}
	if err := c.CalendarService.Disconnect(ctx.Request().Context(), claims.UserID, id); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "Disconnected successfully")
}
