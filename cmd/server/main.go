package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/foliodesk/be-folio-core/internal/client"
	"github.com/foliodesk/be-folio-core/internal/config"
	"github.com/foliodesk/be-folio-core/internal/database"
	"github.com/foliodesk/be-folio-core/internal/handler"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/middleware"
	"github.com/foliodesk/be-folio-core/internal/repository"
	"github.com/foliodesk/be-folio-core/internal/service"
	"github.com/foliodesk/be-folio-core/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting folio workflow service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if err := db.ApplyMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// Initialize repositories
	actorRepo := repository.NewActorRepository(db)
	folioRepo := repository.NewFolioRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationLogRepo := repository.NewNotificationLogRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	// Session store: redis when configured, in-process otherwise
	var sessions session.Store
	if cfg.Redis.URL != "" {
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Info().Msg("Redis session store initialized")
	} else {
		sessions = session.NewMemoryStore()
		log.Info().Msg("In-memory session store initialized")
	}

	// Event bus: optional
	var publisher service.EventPublisher
	if cfg.NATS.URL != "" {
		eventPublisher, err := client.NewEventPublisher(cfg.NATS.URL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer eventPublisher.Close()
		publisher = eventPublisher
		log.Info().Msg("NATS event publisher initialized")
	}

	// Attachment object store
	objectStore, err := client.NewObjectStoreClient(ctx, client.ObjectStoreConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to object store")
	}

	// Outbound messaging gateway
	gateway := client.NewGatewayClient(
		cfg.Gateway.BaseURL, cfg.Gateway.AuthToken, cfg.Gateway.From, cfg.Gateway.Timeout, log.Logger)

	// Escalation email channel
	email := client.NewEmailClient(client.EmailConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})

	// Initialize services
	notifier := service.NewNotificationService(
		actorRepo, notificationLogRepo, gateway, publisher, email,
		service.NotificationConfig{
			ChunkSize:        cfg.Notify.ChunkSize,
			ChunkDelay:       cfg.Notify.ChunkDelay,
			QueueSize:        cfg.Notify.QueueSize,
			ExcludeActor:     cfg.Notify.ExcludeActor,
			EscalationEmails: cfg.Notify.EscalationEmails,
		}, log)
	notifier.Start(ctx)

	identityService := service.NewIdentityService(actorRepo, log)
	folioService := service.NewFolioService(folioRepo, auditRepo, notifier, log)
	projectService := service.NewProjectService(projectRepo, folioRepo, auditRepo, notifier, log)

	// Setup HTTP routes
	webhookHandler := handler.NewWebhookHandler(
		identityService, folioService, projectService,
		idempotencyRepo, sessions, gateway, objectStore, log)
	queryHandler := handler.NewQueryHandler(folioService, projectService, notificationLogRepo, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", queryHandler.Health)
	mux.HandleFunc("/webhook/inbound", webhookHandler.HandleInbound)
	mux.HandleFunc("/api/v1/folios", queryHandler.ListFolios)
	mux.HandleFunc("/api/v1/folios/get", queryHandler.GetFolio)
	mux.HandleFunc("/api/v1/folios/history", queryHandler.FolioHistory)
	mux.HandleFunc("/api/v1/projects", queryHandler.ListProjects)
	mux.HandleFunc("/api/v1/notifications", queryHandler.Notifications)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Drain queued notification chunks before exit.
	cancel()
	notifier.Stop()

	log.Info().Msg("Server stopped")
}
