package service

import (
	"context"
	"errors"

	"github.com/mulu-store/checkout/pkg/db"
	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/notification/internal/infrastructure/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const consumerName = "notification"

var ErrNoRecipient = errors.New("event has no recipient email")

type NotificationService struct {
	emailSender email.Sender
	beginner    db.TxBeginner
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewNotificationService(emailSender email.Sender, beginner db.TxBeginner, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		emailSender: emailSender,
		beginner:    beginner,
		logger:      logger,
		tracer:      otel.Tracer("notification-service"),
	}
}

func (s *NotificationService) HandleOrderPaid(ctx context.Context, eventID int64, event pkgdomain.OrderPaidEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderPaid")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("order_id", event.OrderID),
	)

	if event.Email == "" {
		mylogger.Warn(ctx, s.logger, "Paid order without email", zap.String("order_id", event.OrderID))
		return ErrNoRecipient
	}

	return outbox.ProcessOnce(ctx, s.beginner, s.logger, consumerName, eventID, func(ctx context.Context) error {
		return s.emailSender.SendOrderConfirmation(ctx, event)
	})
}

func (s *NotificationService) HandleOrderCancelled(ctx context.Context, eventID int64, event pkgdomain.OrderCancelledEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderCancelled")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("order_id", event.OrderID),
	)

	if event.Email == "" {
		mylogger.Warn(ctx, s.logger, "Cancelled order without email", zap.String("order_id", event.OrderID))
		return ErrNoRecipient
	}

	return outbox.ProcessOnce(ctx, s.beginner, s.logger, consumerName, eventID, func(ctx context.Context) error {
		return s.emailSender.SendOrderCancelled(ctx, event)
	})
}
