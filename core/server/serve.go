package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"calendar-sync-api/core/config"
	"calendar-sync-api/core/constants"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/middleware"
	"calendar-sync-api/modules/bot/task"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { logger.Debug("Queue:" + fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{})  { logger.Info("Queue:" + fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{})  { logger.Warn("Queue:" + fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { logger.Error("Queue:" + fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...interface{}) { logger.Error("Queue:Fatal:" + fmt.Sprint(args...)) }

// NewEcho builds the HTTP surface. No global middleware may read the request body:
// webhook routes verify signatures over the exact bytes received.
func (a *App) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestID())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			logger.Info("HTTP:Request", "method", v.Method, "uri", v.URI, "status", v.Status,
				"latency_ms", v.Latency.Milliseconds(), "request_id", v.RequestID)
			return nil
		},
	}))

	e.GET("/health", a.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	mw := middleware.NewMiddleware(a.Config.JWT.Secret)
	a.Calendar.Init(e, mw, a.Tokens, a.Manager, a.Scheduler, a.Poller)
	a.Meeting.Init(e, mw)
	a.Webhook.Init(e)
	return e
}

func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := a.DB.SQLx().PingContext(ctx); err != nil {
		logger.Error("Server:Health:Database", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs the HTTP server, the polling scheduler, the maintenance cron and the bot
// queue worker until ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	e := a.NewEcho()
	g, ctx := errgroup.WithContext(ctx)

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start polling scheduler: %w", err)
	}
	a.Jobs.Start(ctx)

	var worker *asynq.Server
	if a.Queue != nil {
		worker = asynq.NewServer(redisOpt(a.Config.Redis), asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{task.QueueBots: 1},
			Logger:      asynqLogger{},
		})
		mux := asynq.NewServeMux()
		a.Bot.Handler.Register(mux)
		if err := worker.Start(mux); err != nil {
			a.Jobs.Stop()
			a.Scheduler.Stop()
			return fmt.Errorf("start bot worker: %w", err)
		}
	}

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", a.Config.App.Port)
		logger.Info("Server:Listen", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Server:Shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if worker != nil {
			worker.Shutdown()
		}
		a.Jobs.Stop()
		a.Scheduler.Stop()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func setup(fn func(ctx context.Context, app *App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// Run loads configuration, builds the application and serves until SIGINT or SIGTERM.
func Run() error {
	return setup(func(ctx context.Context, app *App) error {
		return app.Serve(ctx)
	})
}

// RunOnce builds the application and runs fn without starting any background worker.
func RunOnce(fn func(ctx context.Context, app *App) error) error {
	return setup(fn)
}
