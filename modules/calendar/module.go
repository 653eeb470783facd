package calendar

import (
	"calendar-sync-api/core/database"
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/modules/calendar/controller"
	"calendar-sync-api/modules/calendar/repository"
	"calendar-sync-api/modules/calendar/router"
	"calendar-sync-api/modules/calendar/service"

	"github.com/labstack/echo/v4"
)

// Module owns the connection, subscription and cursor tables. The connection API is
// attached once the subscription manager and poller exist.
type Module struct {
	Repo          repository.CalendarRepository
	Subscriptions repository.SubscriptionRepository
	Cursors       repository.CursorRepository
	Service       service.CalendarService
}

func NewModule(db database.IDatabase) *Module {
	return &Module{
		Repo:          repository.NewCalendarRepository(db),
		Subscriptions: repository.NewSubscriptionRepository(db),
		Cursors:       repository.NewCursorRepository(db),
	}
}

func (m *Module) Init(
	e *echo.Echo,
	mw *middleware.Middleware,
	tokens service.TokenSealer,
	manager service.SubscriptionManager,
	scheduler service.PollScheduler,
	poller service.Poller,
) {
	m.Service = service.NewCalendarService(m.Repo, m.Subscriptions, tokens, manager, scheduler, poller)
	calendarController := controller.NewCalendarController(m.Service)
	router.NewCalendarRouter(calendarController).Setup(e, mw)
}
