package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casino/internal/adapters/config"
	errnoop "casino/internal/adapters/errors/noop"
	errsentry "casino/internal/adapters/errors/sentry"
	"casino/internal/adapters/kafka"
	"casino/internal/adapters/postgres"
	"casino/internal/adapters/redis"
	"casino/internal/domain/gamesession"
	"casino/internal/domain/ledger"
	"casino/internal/events"
	"casino/internal/metrics"
	pgrepo "casino/internal/repository/postgres"
	redisrepo "casino/internal/repository/redis"
	sessionsvc "casino/internal/services/gamesession"
	"casino/internal/workers"
	"casino/pkg/errors"
	"casino/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()
	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Port)
		log.Infow("Metrics server started", "port", cfg.Metrics.Port)
	}

	ledgerClient, closeLedger, err := initLedger(cfg, log)
	if err != nil {
		log.Fatalf("Failed to init ledger backend: %v", err)
	}
	defer closeLedger()

	sink := initEventSink(cfg, log)

	store := gamesession.NewStore()
	sessions := sessionsvc.NewService(store, ledgerClient, sink, sessionConfig(cfg), log)
	defer sessions.Close()

	scheduler := workers.NewScheduler()
	scheduler.RegisterWorker(workers.NewSessionCleanupWorker(sessions, cfg.Session.CleanupInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Info("System initialized successfully")

	waitForShutdown(cancel, scheduler, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := errsentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initLedger picks the balance ledger backend from config
func initLedger(cfg *config.Config, log *logger.Logger) (ledger.Client, func(), error) {
	switch cfg.Ledger.Backend {
	case "redis":
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("Ledger backend initialized", "backend", "redis", "addr", cfg.Redis.Addr())
		return redisrepo.NewLedgerRepository(client.Client()), func() { client.Close() }, nil

	default:
		client, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("Ledger backend initialized", "backend", "postgres", "db", cfg.Postgres.Database)
		return pgrepo.NewLedgerRepository(client.DB()), func() { client.Close() }, nil
	}
}

// initEventSink wires the lifecycle event sink (Kafka when enabled)
func initEventSink(cfg *config.Config, log *logger.Logger) events.Sink {
	if !cfg.Kafka.Enabled {
		log.Info("Kafka disabled, lifecycle events stay in-process")
		return events.NewChannelSink(1024)
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	log.Infow("Kafka event sink initialized", "brokers", cfg.Kafka.Brokers)
	return events.NewKafkaSink(producer)
}

func sessionConfig(cfg *config.Config) sessionsvc.Config {
	return sessionsvc.Config{
		RateLimitWindow:   cfg.Session.RateLimitWindow,
		LockStaleness:     cfg.Session.LockStaleness,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		GraceWindow:       cfg.Session.GraceWindow,
		DefaultTimeout:    cfg.Session.DefaultTimeout,
		MaxPerUser:        cfg.Session.MaxPerUser,
		RefundRatePerSec:  cfg.Session.RefundRatePerSec,
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM and tears everything down
func waitForShutdown(cancel context.CancelFunc, scheduler *workers.Scheduler, tracker errors.Tracker, log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Infow("Shutdown signal received", "signal", sig)

	cancel()
	if err := scheduler.Stop(); err != nil {
		log.Warnf("Scheduler shutdown: %v", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	tracker.Flush(flushCtx)

	log.Info("Shutdown complete")
}
