package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mulu-store/checkout/pkg/config"
	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/utils"
	"github.com/mulu-store/checkout/services/notification/internal/infrastructure/email"
	"github.com/mulu-store/checkout/services/notification/internal/service"
	"github.com/mulu-store/checkout/services/notification/transport/kafka"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "notification-service", cfg.Env)
	if err != nil {
		log.Fatalf("Error starting telemetry: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level:   cfg.LogLevel,
		Env:     cfg.Env,
		Service: "notification",
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.SendGrid.APIKey == "" {
		log.Fatalf("sendgrid api key is not set")
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL, cfg.Postgres.SimpleProtocol)
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}
	defer pool.Close()

	emailSender := email.NewSendGridSender(email.SenderConfig{
		APIKey:    cfg.SendGrid.APIKey,
		FromEmail: cfg.SendGrid.FromEmail,
		FromName:  cfg.SendGrid.FromName,
	}, logger)
	notificationService := service.NewNotificationService(emailSender, pool, logger)

	consumer := kafka.NewConsumer(notificationService, logger)

	if err := consumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.OrderTopic); err != nil {
		mylogger.Error(ctx, logger, "Consumer stopped", zap.Error(err))
	}

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error closing telemetry", zap.Error(err))
	}
}
