package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	httpapi "github.com/windatlas/gfscache/internal/api/http"
	"github.com/windatlas/gfscache/internal/cache"
	"github.com/windatlas/gfscache/internal/config"
	"github.com/windatlas/gfscache/internal/convert"
	"github.com/windatlas/gfscache/internal/provider"
	"github.com/windatlas/gfscache/internal/scheduler"
	"github.com/windatlas/gfscache/internal/snapshot"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Filesystem cache and its collaborators.
	store := cache.NewStore(cfg.CacheDir)
	if err := store.EnsureDataDir(); err != nil {
		log.Fatalf("failed to prepare cache: %v", err)
	}

	fetcher := provider.NewFetcher(httpClient, cfg.GFSBaseURL, cfg.GFSProduct, store)
	converter := convert.NewGribConverter(cfg.ConverterPath)

	// Core service resolving snapshot requests.
	service := snapshot.NewService(store, fetcher, converter)

	// Background maintenance: orphan reconciliation + freshness expiry.
	sched := scheduler.New(store, service, cfg.MaintenanceInterval, cfg.CacheMaxAge)
	sched.RunOnce()
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "gfscache",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "gfscache",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	// Start server with graceful shutdown
	port := cfg.Port

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
