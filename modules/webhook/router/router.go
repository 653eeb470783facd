package router

import (
	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/modules/webhook/controller"

	"github.com/labstack/echo/v4"
)

type WebhookRouter struct {
	WebhookController *controller.WebhookController
}

func NewWebhookRouter(webhookController *controller.WebhookController) *WebhookRouter {
	return &WebhookRouter{
		WebhookController: webhookController,
	}
}

// Setup registers the public provider callbacks. RawBody runs first on every route so
// signatures are checked against the bytes the provider signed.
func (r *WebhookRouter) Setup(e *echo.Echo) {
	raw := middleware.RawBody()
	e.POST(constants.WebhookPathCalendly, r.WebhookController.Calendly, raw)
	e.POST(constants.WebhookPathGoogle, r.WebhookController.Google, raw)
	e.POST(constants.WebhookPathMicrosoft, r.WebhookController.Microsoft, raw)
	e.POST(constants.WebhookPathRecall, r.WebhookController.Recall, raw)
}
