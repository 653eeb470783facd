package controller

import (
	"net/http"

	"calendar-sync-api/core/controller"
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/modules/webhook/service"

	"github.com/labstack/echo/v4"
)

type WebhookController struct {
	controller.BaseController
	WebhookService *service.WebhookService
}

func NewWebhookController(svc *service.WebhookService) *WebhookController {
	return &WebhookController{
		BaseController: controller.NewBaseController(),
		WebhookService: svc,
	}
}

type receipt struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

func (c *WebhookController) respond(ctx echo.Context, status int, res *service.Result, err error) error {
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return ctx.JSON(status, receipt{Received: true, Outcome: res.Outcome})
}

// Calendly handles POST /webhooks/calendly
// @Summary Calendly webhook
// @Tags Webhook
// @Accept json
// @Produce json
// @Param Calendly-Webhook-Signature header string true "t=<ts>,v1=<hex>"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errors.AppError
// @Router /webhooks/calendly [post]
func (c *WebhookController) Calendly(ctx echo.Context) error {
	res, err := c.WebhookService.HandleCalendly(ctx.Request().Context(), middleware.RawBodyFrom(ctx), ctx.Request().Header)
	return c.respond(ctx, http.StatusOK, res, err)
}

// Google handles POST /webhooks/google
// @Summary Google Calendar push notification
// @Tags Webhook
// @Produce json
// @Param X-Goog-Channel-Id header string true "Channel ID"
// @Param X-Goog-Resource-Id header string true "Resource ID"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errors.AppError
// @Router /webhooks/google [post]
func (c *WebhookController) Google(ctx echo.Context) error {
	res, err := c.WebhookService.HandleGoogle(ctx.Request().Context(), ctx.Request().Header)
	return c.respond(ctx, http.StatusOK, res, err)
}

// Microsoft handles POST /webhooks/microsoft. Graph validates a new notificationUrl by
// posting a validationToken that must be echoed back as plain text.
// @Summary Microsoft Graph change notification
// @Tags Webhook
// @Accept json
// @Produce json
// @Param validationToken query string false "Subscription validation handshake"
// @Success 202 {object} map[string]interface{}
// @Failure 401 {object} errors.AppError
// @Router /webhooks/microsoft [post]
func (c *WebhookController) Microsoft(ctx echo.Context) error {
	if token := ctx.QueryParam("validationToken"); token != "" {
		return ctx.String(http.StatusOK, token)
	}
	res, err := c.WebhookService.HandleMicrosoft(ctx.Request().Context(), middleware.RawBodyFrom(ctx))
	return c.respond(ctx, http.StatusAccepted, res, err)
}

// Recall handles POST /webhooks/recall
// @Summary Recording bot webhook
// @Tags Webhook
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} errors.AppError
// @Router /webhooks/recall [post]
func (c *WebhookController) Recall(ctx echo.Context) error {
	res, err := c.WebhookService.HandleRecall(ctx.Request().Context(), middleware.RawBodyFrom(ctx), ctx.Request().Header)
	return c.respond(ctx, http.StatusOK, res, err)
}
