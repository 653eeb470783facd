package webhook

import (
	"time"

	"calendar-sync-api/core/cache"
	"calendar-sync-api/modules/calendar/repository"
	"calendar-sync-api/modules/provider/client"
	tokenService "calendar-sync-api/modules/token/service"
	"calendar-sync-api/modules/webhook/controller"
	"calendar-sync-api/modules/webhook/router"
	"calendar-sync-api/modules/webhook/service"
	"calendar-sync-api/modules/webhook/verifier"

	"github.com/labstack/echo/v4"
)

type Module struct {
	Verifier *verifier.Verifier
	Service  *service.WebhookService
}

type Deps struct {
	Connections   repository.CalendarRepository
	Subscriptions repository.SubscriptionRepository
	Clients       *client.Registry
	Tokens        tokenService.TokenStore
	Ingestor      service.Ingestor
	Poller        service.Poller
	Bots          service.BotReconciler
	Transcripts   service.Transcripts
	Cache         cache.Cache
	RecallSecret  string
	Tolerance     time.Duration
}

func NewModule(d Deps) *Module {
	v := verifier.NewVerifier(d.Subscriptions, d.Connections, d.RecallSecret, d.Tolerance)
	return &Module{
		Verifier: v,
		Service:  service.NewWebhookService(v, d.Clients, d.Tokens, d.Ingestor, d.Poller, d.Bots, d.Transcripts, d.Cache),
	}
}

func (m *Module) Init(e *echo.Echo) {
	webhookController := controller.NewWebhookController(m.Service)
	router.NewWebhookRouter(webhookController).Setup(e)
}
