package service

import (
	"context"

	"github.com/mulu-store/checkout/pkg/db"
	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type WebhookOutcome string

const (
	OutcomeIgnored       WebhookOutcome = "ignored"
	OutcomeNoCorrelation WebhookOutcome = "no_correlation"
	OutcomeDuplicate     WebhookOutcome = "duplicate"
	OutcomePaid          WebhookOutcome = "paid"
	OutcomeAlreadyPaid   WebhookOutcome = "already_paid"
	OutcomeFailed        WebhookOutcome = "failed"
)

type WebhookService interface {
	// Handle returns an error only when the event cannot be authenticated.
	// Everything after verification is reported through the outcome and
	// logs so the provider always gets an acknowledgement.
	Handle(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
}

type webhookService struct {
	provider PaymentProvider
	orders   repository.OrderRepository
	uow      ReservationUnitOfWork
	dedup    repository.EventDeduplicator
	emitter  *eventEmitter
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewWebhookService(
	provider PaymentProvider,
	orders repository.OrderRepository,
	uow ReservationUnitOfWork,
	dedup repository.EventDeduplicator,
	outboxRepo outbox.Repository,
	topic string,
	logger *zap.Logger,
) WebhookService {
	if dedup == nil {
		dedup = repository.NewNoopDeduplicator()
	}

	return &webhookService{
		provider: provider,
		orders:   orders,
		uow:      uow,
		dedup:    dedup,
		emitter:  &eventEmitter{repo: outboxRepo, topic: topic},
		logger:   logger,
		tracer:   otel.Tracer("checkout/webhook_service"),
	}
}

func (s *webhookService) Handle(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "WebhookService.Handle")
	defer span.End()

	event, err := s.provider.VerifyWebhook(payload, signature)
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Rejected webhook", zap.Error(err))

		return "", err
	}

	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", event.Type),
	)

	if event.Type != EventCheckoutCompleted {
		mylogger.Debug(ctx, s.logger, "Ignoring webhook event", zap.String("type", event.Type))
		return OutcomeIgnored, nil
	}

	if event.OrderID == "" {
		mylogger.Warn(
			ctx,
			s.logger,
			"Checkout completed without order id",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.SessionID),
		)
		return OutcomeNoCorrelation, nil
	}

	span.SetAttributes(attribute.String("order_id", event.OrderID))

	seen, err := s.dedup.Seen(ctx, event.ID)
	if err != nil {
		// the paid transition is idempotent on its own
		mylogger.Warn(ctx, s.logger, "Webhook dedup unavailable", zap.Error(err))
		seen = false
	}
	if seen {
		mylogger.Info(ctx, s.logger, "Duplicate webhook delivery", zap.String("event_id", event.ID))
		return OutcomeDuplicate, nil
	}

	outcome, err := s.markPaid(ctx, event)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to reconcile payment",
			zap.String("event_id", event.ID),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)

		return OutcomeFailed, nil
	}

	if err := s.dedup.Remember(context.WithoutCancel(ctx), event.ID); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to remember webhook event", zap.String("event_id", event.ID), zap.Error(err))
	}

	return outcome, nil
}

// markPaid moves the order to paid and makes sure exactly one OrderPaid
// event exists for it. The event write runs on every delivery, so an
// attempt that paid the order but lost the event is repaired by the next.
func (s *webhookService) markPaid(ctx context.Context, event *WebhookEvent) (WebhookOutcome, error) {
	order, err := s.orders.GetByID(ctx, event.OrderID)
	if err != nil {
		return OutcomeFailed, err
	}

	var changed bool
	err = s.uow.Atomic(ctx, func(q db.DBTX) error {
		var err error
		changed, err = s.orders.MarkPaid(ctx, q, event.OrderID, event.SessionID, event.PaymentIntentID)
		if err != nil {
			return err
		}

		return s.emitter.emitOnce(ctx, q, pkgdomain.EventOrderPaid, order.ID, pkgdomain.OrderPaidEvent{
			OrderID:         order.ID,
			Email:           order.Shipping.Email,
			FullName:        order.Shipping.FullName,
			Currency:        order.Currency,
			TotalAmount:     order.TotalAmount,
			PaymentIntentID: event.PaymentIntentID,
		})
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if !changed {
		mylogger.Info(ctx, s.logger, "Order already paid", zap.String("order_id", order.ID))
		return OutcomeAlreadyPaid, nil
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order paid",
		zap.String("order_id", order.ID),
		zap.String("payment_intent_id", event.PaymentIntentID),
	)

	return OutcomePaid, nil
}
