package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/safetyguard/alertcore/internal/config"
	"github.com/safetyguard/alertcore/internal/dispatch"
	"github.com/safetyguard/alertcore/internal/ingest"
	"github.com/safetyguard/alertcore/internal/maintenance"
	"github.com/safetyguard/alertcore/internal/monitor"
	"github.com/safetyguard/alertcore/internal/notify"
	"github.com/safetyguard/alertcore/internal/storage"
	"github.com/safetyguard/alertcore/internal/tracker"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to NATS with retry
	opts := []nats.Option{
		nats.Name(cfg.AppName),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Stores
	logStore := storage.NewLogStore(logger, cfg.Storage.AlertsFile)
	db, err := storage.NewDatabase(logger, cfg.Storage.DatabaseFile)
	if err != nil {
		logger.Fatal("Failed to open alert database", zap.Error(err))
	}
	defer db.Close()

	// Alert notification fan-out
	publisher, err := notify.NewPublisher(logger, js)
	if err != nil {
		logger.Fatal("Failed to create alert publisher", zap.Error(err))
	}

	// Dispatch and tracking
	dispatcher := dispatch.NewDispatcher(logger, logStore, db, publisher)
	violationTracker := tracker.NewTracker(logger, dispatcher,
		tracker.WithThreshold(cfg.Tracker.Threshold),
		tracker.WithWindow(time.Duration(cfg.Tracker.WindowSeconds)*time.Second),
		tracker.WithCooldown(time.Duration(cfg.Tracker.CooldownSeconds)*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detection event ingest
	consumer := ingest.NewConsumer(logger, js, violationTracker)
	if err := consumer.Start(); err != nil {
		logger.Fatal("Failed to start detection consumer", zap.Error(err))
	}
	defer consumer.Stop()

	// System stats collection
	collector := monitor.NewStatsCollector(logger, db, cfg.Monitor.Interval, logStore.Len)
	collector.Start(ctx)
	defer collector.Stop()

	// Maintenance jobs
	scheduler, err := maintenance.NewScheduler(logger, violationTracker, logStore, db, maintenance.Config{
		TrackerCleanupSpec: cfg.Maintenance.TrackerCleanupSpec,
		RetentionSpec:      cfg.Maintenance.RetentionSpec,
		VacuumSpec:         cfg.Maintenance.VacuumSpec,
		DaysToKeep:         cfg.Maintenance.DaysToKeep,
	})
	if err != nil {
		logger.Fatal("Failed to create maintenance scheduler", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("Alert pipeline started",
		zap.String("app", cfg.AppName),
		zap.String("alerts_file", cfg.Storage.AlertsFile),
		zap.String("database_file", cfg.Storage.DatabaseFile))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("Shutting down", zap.String("signal", sig.String()))
}
