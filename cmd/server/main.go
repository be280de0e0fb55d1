package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"buildtrack/internal/events"
	"buildtrack/internal/handler"
	"buildtrack/internal/httpserver"
	"buildtrack/internal/mqhandler"
	"buildtrack/internal/repository"
	"buildtrack/internal/service/alerts"
	"buildtrack/internal/service/roles"
	"buildtrack/internal/service/workflow"
	"buildtrack/pkg/config"
	"buildtrack/pkg/db"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/mq"
	"buildtrack/pkg/outbox"
	"buildtrack/pkg/redis"
	"buildtrack/pkg/sweepguard"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting workflow-alert-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.Duration("sweep_interval", cfg.Sweep.Interval),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Redis (sweep re-entrancy guard)
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()
	guard := sweepguard.NewGuard(rdb, 10*time.Minute)

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	templateRepo := repository.NewTemplateRepository(dbConn, log)
	teamRepo := repository.NewTeamRepository(dbConn, log)
	workflowStore := repository.NewWorkflowStore(dbConn, outboxRepo, log)
	alertStore := repository.NewAlertStore(dbConn, outboxRepo, log)

	// Workflow template is immutable at runtime; load it once at startup.
	log.Info("Loading workflow template...")
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	tmpl, err := templateRepo.LoadTemplateStore(loadCtx)
	loadCancel()
	if err != nil {
		log.Fatal("Failed to load workflow template", zap.Error(err))
	}
	log.Info("Workflow template loaded", zap.Int("line_items", tmpl.Len()))

	// Services
	resolver := roles.NewResolver(teamRepo, log)
	workflowEngine := workflow.NewEngine(workflowStore, tmpl, log)
	alertEngine := alerts.NewEngine(alertStore, tmpl, resolver, guard, log, cfg.Sweep)

	// Outbox Dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(context.Background())

	// MQ Consumer for alert.created
	log.Info("Initializing MQ consumer for alert.created...",
		zap.String("queue", "alert.created.q"),
		zap.String("routing_key", events.RoutingKeyAlertCreated),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, "alert.created.q", events.RoutingKeyAlertCreated, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()

	alertCreatedHandler := mqhandler.NewAlertCreatedHandler(alertEngine, publisher, log)
	consumer.SetHandler(alertCreatedHandler.Handle)

	go func() {
		log.Info("Starting alert.created consumer...")
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Alert consumer failed", zap.Error(err))
		}
	}()

	// Sweep scheduler
	log.Info("Starting alert sweep scheduler...", zap.Duration("interval", cfg.Sweep.Interval))
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go func() {
		runSweep := func() {
			report, err := alertEngine.RunSweep(context.Background(), nil)
			if err != nil {
				log.Error("Scheduled sweep failed", zap.Error(err))
				return
			}
			log.Info("Scheduled sweep completed",
				zap.Int("created", len(report.Created)),
				zap.Int("updated", len(report.Updated)),
				zap.Int("skipped", len(report.Skipped)),
			)
		}

		// Run immediately on startup
		runSweep()

		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				log.Info("Sweep scheduler stopped")
				return
			case <-ticker.C:
				runSweep()
			}
		}
	}()

	// HTTP Server
	log.Info("Initializing HTTP server...", zap.String("port", cfg.Server.Port))
	workflowHandler := handler.NewWorkflowHandler(workflowEngine, log)
	alertHandler := handler.NewAlertHandler(alertEngine, log)
	router := httpserver.NewRouter(workflowHandler, alertHandler, log, dbConn, consumer, cfg.JWT.Secret)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("workflow-alert-service is fully initialized and running",
		zap.String("http_port", cfg.Server.Port),
		zap.String("mq_queue", "alert.created.q"),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down workflow-alert-service gracefully...")

	sweepCancel()

	log.Info("Stopping MQ consumer...")
	consumer.Close()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	publisher.Close()
	dbConn.Close()

	log.Info("workflow-alert-service shutdown complete")
}
