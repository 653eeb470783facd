package server

import (
	"context"
	"fmt"

	"calendar-sync-api/core/cache"
	"calendar-sync-api/core/config"
	"calendar-sync-api/core/database"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/utils"
	billingRepository "calendar-sync-api/modules/billing/repository"
	billingService "calendar-sync-api/modules/billing/service"
	"calendar-sync-api/modules/bot"
	botClient "calendar-sync-api/modules/bot/client"
	botService "calendar-sync-api/modules/bot/service"
	"calendar-sync-api/modules/calendar"
	"calendar-sync-api/modules/meeting"
	notificationService "calendar-sync-api/modules/notification/service"
	pollingService "calendar-sync-api/modules/polling/service"
	"calendar-sync-api/modules/provider/client"
	subscriptionService "calendar-sync-api/modules/subscription/service"
	tokenService "calendar-sync-api/modules/token/service"
	"calendar-sync-api/modules/webhook"

	"github.com/hibiken/asynq"
)

// App is the assembled object graph. Every component receives its dependencies
// through its constructor; nothing here is package-global.
type App struct {
	Config    *config.Config
	DB        *database.Database
	Cache     cache.Cache
	Queue     *asynq.Client
	Tokens    tokenService.TokenStore
	Clients   *client.Registry
	Calendar  *calendar.Module
	Meeting   *meeting.Module
	Bot       *bot.Module
	Webhook   *webhook.Module
	Poller    *pollingService.Poller
	Scheduler *pollingService.Scheduler
	Manager   *subscriptionService.Manager
	Jobs      *subscriptionService.Jobs
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// Build connects to the database and redis and wires every module.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.InitDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &App{Config: cfg, DB: db, Cache: cache.NewNoopCache()}
	if cfg.Redis.Addr != "" {
		c, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.Cache = c
		app.Queue = asynq.NewClient(redisOpt(cfg.Redis))
	} else {
		logger.Warn("Server:Build:NoRedis", "detail", "delivery dedup disabled, bots dispatched inline")
	}

	notifier := notificationService.NewNotificationService(app.Cache)

	app.Calendar = calendar.NewModule(db)
	app.Tokens = tokenService.NewTokenStore(app.Calendar.Repo,
		utils.NewTokenCipher(cfg.Security.TokenEncryptionKey), tokenService.OAuthConfigs(cfg))
	app.Clients = client.NewRegistry(
		client.NewCalendlyClient(cfg.CalendlyAPI.BaseURL),
		client.NewGoogleClient(cfg.GoogleAPI.BaseURL),
		client.NewMicrosoftClient(cfg.MicrosoftAPI.BaseURL),
	)

	app.Meeting = meeting.NewModule(db, notifier)
	app.Poller = pollingService.NewPoller(app.Clients, app.Tokens, app.Calendar.Repo, app.Calendar.Cursors, app.Meeting.Ingestor, notifier)
	app.Scheduler = pollingService.NewScheduler(app.Poller, app.Calendar.Repo, cfg.Sync.PollInterval, cfg.Sync.MaxBackoff)
	app.Manager = subscriptionService.NewManager(app.Clients, app.Tokens, app.Calendar.Repo, app.Calendar.Subscriptions,
		app.Scheduler, notifier, cfg.App.PublicBaseURL, cfg.Sync.RenewalWindow)
	app.Jobs, err = subscriptionService.NewJobs(app.Manager, cfg.Sync.RenewalCron, cfg.Sync.HealthCron)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("cron schedule: %w", err)
	}

	recall := botClient.NewRecallClient(cfg.Recall)
	billing := billingService.NewBillingService(billingRepository.NewBillingRepository(db))
	app.Bot = bot.NewModule(app.Meeting.Repo, app.Calendar.Repo, billing, recall, notifier, botService.Config{
		FreeMeetingLimit:    cfg.Sync.FreeMeetingLimit,
		TranscriptMinLength: cfg.Sync.TranscriptMinLength,
	}, app.Queue)
	app.Meeting.Ingestor.SetBotEnqueuer(app.Bot.Queue)

	app.Webhook = webhook.NewModule(webhook.Deps{
		Connections:   app.Calendar.Repo,
		Subscriptions: app.Calendar.Subscriptions,
		Clients:       app.Clients,
		Tokens:        app.Tokens,
		Ingestor:      app.Meeting.Ingestor,
		Poller:        app.Poller,
		Bots:          app.Meeting.Reconciler,
		Transcripts:   recall,
		Cache:         app.Cache,
		RecallSecret:  cfg.Recall.WebhookSecret,
		Tolerance:     cfg.Sync.SignatureTolerance,
	})
	return app, nil
}

func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			logger.Warn("Server:Close:Queue", "error", err)
		}
	}
	if err := a.Cache.Close(); err != nil {
		logger.Warn("Server:Close:Cache", "error", err)
	}
	if err := a.DB.Close(); err != nil {
		logger.Warn("Server:Close:Database", "error", err)
	}
}
