package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/mulu-store/checkout/pkg/config"
	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/kafka"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/pkg/utils"
	"github.com/mulu-store/checkout/services/checkout/internal/infrastructure/payment"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http/handler"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "checkout-service", cfg.Env)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level:   cfg.LogLevel,
		Env:     cfg.Env,
		Service: "checkout",
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresDB(cfg.Postgres.URL, cfg.Postgres.SimpleProtocol)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	var dedup repository.EventDeduplicator
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		mylogger.Warn(ctx, logger, "Redis unavailable, webhook dedup disabled", zap.Error(err))
		dedup = repository.NewNoopDeduplicator()
	} else {
		dedup = repository.NewRedisDeduplicator(rdb, cfg.Redis.DedupTTL)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v\n", err)
		}
	}()

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			log.Printf("error closing kafka producer: %v\n", err)
		}
	}()

	productRepo := repository.NewProductRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	outboxRepo := outbox.NewRepository(logger)

	uow, err := service.NewReservationUnitOfWork(ctx, cfg.Checkout.ReservationMode, service.ReservationDeps{
		Store:                   pool,
		Products:                productRepo,
		Orders:                  orderRepo,
		Outbox:                  outboxRepo,
		Topic:                   cfg.Kafka.OrderTopic,
		CompensationConcurrency: cfg.Checkout.CompensationConcurrency,
		Logger:                  logger,
	})
	if err != nil {
		log.Fatalf("failed to set up reservations: %v", err)
	}

	mylogger.Info(ctx, logger, "Reservation mode selected", zap.String("mode", uow.Mode()))

	provider := payment.NewStripeProvider(payment.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, logger)

	if err := provider.Configured(); err != nil {
		mylogger.Warn(ctx, logger, "Stripe is not configured, checkout will fail", zap.Error(err))
	}

	checkoutService := service.NewCheckoutService(
		pool,
		productRepo,
		orderRepo,
		outboxRepo,
		uow,
		provider,
		service.CheckoutConfig{
			Currency:                cfg.Checkout.Currency,
			Topic:                   cfg.Kafka.OrderTopic,
			ProviderTimeout:         cfg.Stripe.Timeout,
			CompensationConcurrency: cfg.Checkout.CompensationConcurrency,
		},
		logger,
	)
	orderService := service.NewOrderService(orderRepo, logger)
	webhookService := service.NewWebhookService(provider, orderRepo, uow, dedup, outboxRepo, cfg.Kafka.OrderTopic, logger)

	outboxProcessor := outbox.NewProcessor(pool, outboxRepo, producer, logger)
	go outboxProcessor.Start(ctx)

	app := fiber.New()

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/webhooks/stripe"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	app.Use(middleware.NewTimeoutMiddleware(cfg.HTTP.Timeout))

	handlers := &http.Handlers{
		Checkout: handler.NewCheckoutHandler(checkoutService, cfg.Checkout.BaseURL, logger),
		Order:    handler.NewOrderHandler(orderService, logger),
		Webhook:  handler.NewWebhookHandler(webhookService, logger),
		Health:   handler.NewHealthHandler(pool, logger),
	}

	http.RegisterRoutes(app, handlers, cfg.Auth.AccessSecret, logger)

	go func() {
		mylogger.Info(ctx, logger, "HTTP service listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP port %v: %v\n", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	mylogger.Info(ctx, logger, "Shutting down checkout service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error shutting down HTTP app", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}
}
