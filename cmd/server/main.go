package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"idx-validator/internal/api"
	"idx-validator/internal/auth"
	"idx-validator/internal/catalog"
	"idx-validator/internal/config"
	"idx-validator/internal/engine"
	"idx-validator/internal/notify"
	"idx-validator/internal/results"
	"idx-validator/internal/rules"
	"idx-validator/internal/scheduler"
	"idx-validator/internal/store"
	"idx-validator/internal/valconfig"
	"idx-validator/internal/validator"
	"idx-validator/internal/warehouse"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()
	zlog.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("db", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)))

	// 2. Connect to the system database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		zlog.Fatal("bootstrap failed", zap.Error(err))
	}
	zlog.Info("system tables ready")

	// 4. Connect to the IDX warehouse
	warehouseDB, err := store.New(ctx, cfg.Warehouse)
	if err != nil {
		zlog.Fatal("warehouse connection failed", zap.Error(err))
	}
	defer warehouseDB.Close()
	wh := warehouse.New(warehouseDB, zlog)

	// 5. Registries and stores
	cat := catalog.NewRegistry()
	ruleRegistry := rules.NewRegistry()
	configs := valconfig.NewStore(db, cat)
	resultStore, err := results.New(db, zlog)
	if err != nil {
		zlog.Fatal("result store init failed", zap.Error(err))
	}
	defer resultStore.Close()

	// 6. Notifications
	var bus *notify.Publisher
	if cfg.NATS.URL != "" {
		bus, err = notify.NewPublisher(cfg.NATS.URL)
		if err != nil {
			zlog.Warn("NATS unavailable, events disabled", zap.Error(err))
		} else {
			defer bus.Close()
		}
	}
	notifier := notify.New(cfg.Email, bus, zlog)

	// 7. Validation engine
	eng := engine.New(cat, configs, wh, validator.New(ruleRegistry),
		resultStore, notifier, cfg.Scheduler.TableTimeout, zlog)

	// 8. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(zlog),
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 9. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 10. Auth routes (before middleware, no auth required)
	auth.RegisterRoutes(app, auth.NewHandler(db, cfg.JWTSecret))
	authMW := auth.Middleware(cfg.JWTSecret)

	// 11. Validation and dashboard routes
	handler := api.NewHandler(cat, configs, eng, resultStore, wh, cfg.Scheduler.BatchTimeout)
	api.RegisterRoutes(app, handler, authMW)

	// 12. Nightly batch scheduler
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(eng, cfg.Scheduler.CronSpec, cfg.Scheduler.BatchTimeout, zlog)
		if err := sched.Start(); err != nil {
			zlog.Fatal("scheduler start failed", zap.Error(err))
		}
		defer sched.Stop()
	}

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zlog.Info("starting server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func errorHandler(zlog *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		var appErr *engine.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
		}

		zlog.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(code).JSON(engine.ErrorResponse{
			Error: &engine.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
