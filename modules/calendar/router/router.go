package router

import (
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/modules/calendar/controller"

	"github.com/labstack/echo/v4"
)

type CalendarRouter struct {
	controller *controller.CalendarController
}

func NewCalendarRouter(controller *controller.CalendarController) *CalendarRouter {
	return &CalendarRouter{
		controller: controller,
	}
}

func (r *CalendarRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")

	// Private routes (require authentication)
	calendarRoutes := v1.Group("/private/calendar")
	calendarRoutes.Use(mw.AuthMiddleware())

	connections := calendarRoutes.Group("/connections")
	connections.GET("", r.controller.GetConnections)
	connections.POST("", r.controller.Connect)
	connections.PATCH("/:id/activate", r.controller.Activate)
	connections.PATCH("/:id/deactivate", r.controller.Deactivate)
	connections.PATCH("/:id/transcription", r.controller.SetTranscription)
	connections.GET("/:id/webhook-status", r.controller.WebhookStatus)
	connections.POST("/:id/sync", r.controller.SyncNow)
	connections.DELETE("/:id", r.controller.Disconnect)
}
