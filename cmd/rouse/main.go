package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/alert"
	"github.com/sofianedjerbi/rouse/internal/config"
	"github.com/sofianedjerbi/rouse/internal/dispatch"
	"github.com/sofianedjerbi/rouse/internal/escalation"
	"github.com/sofianedjerbi/rouse/internal/events"
	"github.com/sofianedjerbi/rouse/internal/ingest"
	"github.com/sofianedjerbi/rouse/internal/notify"
	"github.com/sofianedjerbi/rouse/internal/storage"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Open the database backing both repositories and work queues
	store, err := storage.NewStore(logger, cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	// Connect to NATS with retry
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URLs[0], opts...)
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

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	publisher, err := events.NewJetStreamPublisher(logger, js)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}

	// Alert lifecycle service
	router := alert.NewRouter(cfg.Routing.Rules, cfg.Routing.DefaultPolicyID)
	alertService := alert.NewService(logger, store, router, publisher, cfg.Grouping.Window)

	// Escalation engine and dispatch workers
	engine := escalation.NewEngine(logger, store, store, store, store)

	registry := dispatch.NewRegistry()
	registry.Register(notify.NewWebhookNotifier(logger, cfg.Webhook.Timeout))

	backoff := &dispatch.ExponentialBackoff{
		InitialDelay: cfg.Dispatch.Backoff.InitialDelay,
		MaxDelay:     cfg.Dispatch.Backoff.MaxDelay,
		Multiplier:   cfg.Dispatch.Backoff.Multiplier,
	}

	escalationWorker := dispatch.NewEscalationWorker(logger, store, store, engine,
		publisher, cfg.Dispatch.EscalationInterval, cfg.Dispatch.ClaimVisibility)
	notificationWorker := dispatch.NewNotificationWorker(logger, store, registry,
		backoff, publisher, cfg.Dispatch.MaxRetries,
		cfg.Dispatch.NotificationInterval, cfg.Dispatch.ClaimVisibility)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Ingestion surface: commands arrive over NATS
	consumer := ingest.NewConsumer(logger, js, alertService)
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start ingest consumer", zap.Error(err))
	}

	escalationWorker.Start(ctx)
	notificationWorker.Start(ctx)

	// Retention sweep for finished queue rows
	retention := cron.New(cron.WithChain(cron.Recover(&cronLogger{logger: logger.Named("cron")})))
	_, err = retention.AddFunc(cfg.Retention.Schedule, func() {
		cutoff := time.Now().Add(-cfg.Retention.Window)
		if err := store.DeleteFinishedBefore(context.Background(), cutoff); err != nil {
			logger.Error("Retention sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("Failed to schedule retention sweep", zap.Error(err))
	}
	retention.Start()

	logger.Info("Rouse is running",
		zap.String("database", cfg.Database.Path),
		zap.Duration("grouping_window", cfg.Grouping.Window))

	<-ctx.Done()

	retention.Stop()
	escalationWorker.Stop()
	notificationWorker.Stop()
	logger.Info("Shutdown complete")
}
