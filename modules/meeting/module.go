package meeting

import (
	"calendar-sync-api/core/database"
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/modules/meeting/controller"
	"calendar-sync-api/modules/meeting/repository"
	"calendar-sync-api/modules/meeting/router"
	"calendar-sync-api/modules/meeting/service"

	"github.com/labstack/echo/v4"
)

// Module holds the meeting store and the reconciliation path other modules write through.
type Module struct {
	Repo       repository.MeetingRepository
	Reconciler service.Reconciler
	Ingestor   *service.Ingestor
	Service    service.MeetingServiceInterface
}

func NewModule(db database.IDatabase, notifier service.Notifier) *Module {
	repo := repository.NewMeetingRepository(db)
	reconciler := service.NewReconciler(repo, notifier)
	return &Module{
		Repo:       repo,
		Reconciler: reconciler,
		Ingestor:   service.NewIngestor(reconciler, nil),
		Service:    service.NewMeetingService(repo),
	}
}

func (m *Module) Init(e *echo.Echo, mw *middleware.Middleware) {
	meetingController := controller.NewMeetingController(m.Service)
	router.NewMeetingRouter(meetingController).Setup(e, mw)
}
