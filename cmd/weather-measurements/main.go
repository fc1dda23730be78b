package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-measurements/internal/api/http"
	"github.com/i474232898/weather-measurements/internal/config"
	"github.com/i474232898/weather-measurements/internal/db"
	"github.com/i474232898/weather-measurements/internal/logging"
	"github.com/i474232898/weather-measurements/internal/scheduler"
	"github.com/i474232898/weather-measurements/internal/store"
	"github.com/i474232898/weather-measurements/internal/weather"
	"github.com/i474232898/weather-measurements/internal/weather/providers"
)

const appName = "weather-measurements"

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	log := logging.New(cfg, version, appName)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// Shared HTTP client for upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	fetcher := providers.NewTecdottirClient(httpClient, cfg.UpstreamBaseURL, log.With("component", "fetcher"))
	processor := weather.NewProcessor(st, cfg.Stations, log.With("component", "processor"))
	service := weather.NewService(st, log.With("component", "query"))

	sched := scheduler.New(fetcher, processor, scheduler.Options{
		Stations:      cfg.Stations,
		Interval:      cfg.IngestInterval,
		LookbackDays:  cfg.LookbackDays,
		LookaheadDays: cfg.LookaheadDays,
		Sort:          cfg.FetchSort,
		Limit:         cfg.FetchLimit,
	}, log.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		log.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterSystemRoutes(app, appName, st)
	httpapi.RegisterRoutes(app, service, log.With("component", "http"))

	go func() {
		log.Info("http server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "err", err)
	}
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (weather.Store, func(), error) {
	storeLog := log.With("component", "store")
	if cfg.DB.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(storeLog), func() {}, nil
	}

	conn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(conn); err != nil {
			log.Error("close db", "err", err)
		}
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.Migrate(migrateCtx, conn, cfg.DB.Driver); err != nil {
		closeFn()
		return nil, nil, err
	}

	return store.NewSQLStore(conn, cfg.DB.Driver, storeLog), closeFn, nil
}
