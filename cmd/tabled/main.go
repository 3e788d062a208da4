package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"table-status-backend/config"
	"table-status-backend/internal/admission"
	"table-status-backend/internal/api"
	"table-status-backend/internal/auth"
	"table-status-backend/internal/db"
	"table-status-backend/internal/events"
	"table-status-backend/internal/geo"
	"table-status-backend/internal/logging"
	"table-status-backend/internal/notification"
	"table-status-backend/internal/ratelimit"
	"table-status-backend/internal/registry"
	"table-status-backend/internal/settings"
	"table-status-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger := logging.New(cfg.Log)
	logger.WithField("path", configPath).Info("configuration loaded")

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("auth.jwt_secret (or JWT_SECRET) must be set")
	}

	zone, err := time.LoadLocation(cfg.Server.Timezone)
	if err != nil {
		logger.WithError(err).Warnf("unknown timezone %q, using UTC", cfg.Server.Timezone)
		zone = time.UTC
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := registry.NewHub(appStore, cfg.Registry.PollInterval, cfg.Registry.SnapshotCacheTTL, logger.WithField("component", "registry"))
	reg := registry.New(appStore, hub, logger.WithField("component", "registry"))
	if err := reg.Seed(ctx, cfg.Registry.SeedTables); err != nil {
		logger.WithError(err).Fatal("failed to seed tables")
	}
	go hub.Run(ctx)

	demo := settings.NewDemoMode(appStore, cfg.Admission.DemoMode, logger)
	if err := demo.Load(ctx); err != nil {
		logger.WithError(err).Warn("using configured demo mode")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, logger.WithField("component", "events"))
		if err != nil {
			logger.WithError(err).Warn("event broker unavailable, domain events are disabled")
		} else {
			publisher = amqpPub
		}
	}
	defer publisher.Close()

	fence := geo.NewFence(cfg.Admission.Sites, cfg.Admission.GeofenceKm, demo)
	limiter := ratelimit.New(appStore, cfg.Admission.RateLimitWindow, cfg.Admission.MaxAttempts)
	controller := admission.New(reg, limiter, fence, publisher, cfg.Admission.LocationTimeout,
		logger.WithField("component", "admission"), admission.WithTimezone(zone))
	authSvc := auth.NewService(appStore, cfg.Auth)

	// Web push is optional; without VAPID keys staff only get in-page notifications.
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger.WithField("component", "push"))
		pool.Start(ctx)
		go notification.NewObserver().Run(ctx, reg.Subscribe(), pool.Dispatch)
	} else {
		logger.Warn("VAPID keys are not configured, web push alerts are disabled")
	}

	// Initialize router
	router := api.NewRouter(api.Deps{
		Store:     appStore,
		Registry:  reg,
		Admission: controller,
		Auth:      authSvc,
		Demo:      demo,
		Webpush:   webpushOptions,
		Log:       logger,
		CacheTTL:  time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
		RateLimit: rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst: cfg.Server.RateLimitBurst,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Info("shutdown signal received, stopping services")

	// Closing the hub ends the websocket streams before the server waits for requests.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server Shutdown")
	}

	logger.Info("server gracefully stopped")
}
