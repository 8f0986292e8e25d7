package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/kafka"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/notification/internal/service"
	"go.uber.org/zap"
)

type OrderEventHandler interface {
	HandleOrderPaid(ctx context.Context, eventID int64, event pkgdomain.OrderPaidEvent) error
	HandleOrderCancelled(ctx context.Context, eventID int64, event pkgdomain.OrderCancelledEvent) error
}

type Consumer struct {
	handler OrderEventHandler
	logger  *zap.Logger
}

func NewConsumer(handler OrderEventHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		handler: handler,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string, groupID, topic string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{topic},
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// processMessage returns an error only for failures worth redelivering.
// Malformed messages are logged and skipped.
func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var envelope outbox.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling envelope", zap.Error(err))
		return nil
	}

	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
		zap.String("event", envelope.Event),
		zap.Int64("event_id", envelope.EventID),
	)

	var err error
	switch envelope.Event {
	case pkgdomain.EventOrderPaid:
		var event pkgdomain.OrderPaidEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing event", zap.String("event", envelope.Event), zap.Error(err))
			return nil
		}
		err = c.handler.HandleOrderPaid(ctx, envelope.EventID, event)
	case pkgdomain.EventOrderCancelled:
		var event pkgdomain.OrderCancelledEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing event", zap.String("event", envelope.Event), zap.Error(err))
			return nil
		}
		err = c.handler.HandleOrderCancelled(ctx, envelope.EventID, event)
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event", envelope.Event))
		return nil
	}

	if errors.Is(err, service.ErrNoRecipient) {
		return nil
	}

	return err
}
