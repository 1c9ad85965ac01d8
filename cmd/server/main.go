package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/config"
	"github.com/t77yq/clinical-alerts/internal/events"
	"github.com/t77yq/clinical-alerts/internal/job"
	"github.com/t77yq/clinical-alerts/internal/model"
	"github.com/t77yq/clinical-alerts/internal/monitor"
	"github.com/t77yq/clinical-alerts/internal/notify"
	"github.com/t77yq/clinical-alerts/internal/rules"
	"github.com/t77yq/clinical-alerts/internal/scheduler"
	"github.com/t77yq/clinical-alerts/internal/storage"
	"github.com/t77yq/clinical-alerts/internal/webhook"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.App.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

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
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
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

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Open the store
	storeOpts := storage.Options{
		Path: cfg.Storage.Path,
		SLA: storage.SLAPolicy{
			model.AlertPriorityEmergency: cfg.SLA.Emergency,
			model.AlertPriorityUrgent:    cfg.SLA.Urgent,
			model.AlertPriorityHigh:      cfg.SLA.High,
			model.AlertPriorityMedium:    cfg.SLA.Medium,
		},
	}
	if cfg.Storage.SecretKey != "" {
		key, err := hex.DecodeString(cfg.Storage.SecretKey)
		if err != nil {
			logger.Fatal("Invalid storage secret key", zap.Error(err))
		}
		storeOpts.SecretKey = key
	}
	store, err := storage.Open(logger, storeOpts)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	publisher, err := events.NewJetStreamPublisher(logger, js)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}

	dispatcher := notify.NewDispatcher(logger, store,
		map[model.AlertPriority][]string{
			model.AlertPriorityEmergency: cfg.Notification.EmergencyRoles,
			model.AlertPriorityUrgent:    cfg.Notification.UrgentRoles,
		},
		notify.NewEmailSink(logger, notify.EmailConfig{
			Host:     cfg.Notification.Email.Host,
			Port:     cfg.Notification.Email.Port,
			Username: cfg.Notification.Email.Username,
			Password: cfg.Notification.Email.Password,
			From:     cfg.Notification.Email.From,
		}),
		notify.NewInAppSink(logger, nc),
	)

	deliveries := webhook.NewService(logger, store, publisher, webhook.Config{
		Timeout:     cfg.Webhook.Timeout,
		Backoff:     cfg.Webhook.Backoff,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		Workers:     cfg.Webhook.Workers,
		QueueSize:   cfg.Webhook.QueueSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries.Start(ctx)
	defer deliveries.Stop()

	var observer job.TickObserver
	if cfg.Metrics.Enabled {
		collector := monitor.NewMetricsCollector(js, cfg.Metrics.Interval, logger)
		collector.Start(ctx)
		defer collector.Stop()
		observer = collector
	}

	evaluation := job.NewEvaluation(
		logger,
		job.Config{
			BatchSize:     cfg.Evaluation.BatchSize,
			MaxRetries:    cfg.Evaluation.MaxRetries,
			Timeout:       cfg.Evaluation.Timeout,
			TrendLookback: cfg.Evaluation.TrendLookback,
		},
		store,
		rules.NewEngine(logger),
		rules.NewTrendDetector(logger),
		monitor.NewFollowUpMonitor(logger, store),
		monitor.NewSLATracker(logger, store, publisher),
		dispatcher,
		deliveries,
		publisher,
		observer,
	)

	sched := scheduler.New(logger)
	if err := sched.Schedule(ctx, cfg.Evaluation.CronExpression, "risk-evaluation", evaluation); err != nil {
		logger.Fatal("Failed to schedule evaluation job", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("Clinical alert service started",
		zap.String("environment", cfg.App.Environment),
		zap.String("cron", cfg.Evaluation.CronExpression))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}
