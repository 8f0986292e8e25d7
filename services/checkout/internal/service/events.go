package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mulu-store/checkout/pkg/db"
	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
)

type eventEmitter struct {
	repo  outbox.Repository
	topic string
}

func (e *eventEmitter) emit(ctx context.Context, q db.DBTX, eventType, orderID string, payload any) error {
	event, err := outbox.NewEvent(e.topic, pkgdomain.AggregateOrder, orderID, eventType, payload)
	if err != nil {
		return err
	}

	if err := e.repo.Save(ctx, q, event); err != nil {
		return fmt.Errorf("failed to emit %s: %w", eventType, err)
	}

	return nil
}

// emitOnce records an event an order carries at most once. A row left by an
// earlier attempt counts as success.
func (e *eventEmitter) emitOnce(ctx context.Context, q db.DBTX, eventType, orderID string, payload any) error {
	err := e.emit(ctx, q, eventType, orderID, payload)
	if errors.Is(err, outbox.ErrDuplicateEvent) {
		return nil
	}
	return err
}

func eventItems(lines []domain.OrderLine) []pkgdomain.OrderItem {
	items := make([]pkgdomain.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, pkgdomain.OrderItem{
			ProductID: l.ProductID,
			Title:     l.Title,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}
	return items
}

func orderCreatedEvent(o *domain.Order) pkgdomain.OrderCreatedEvent {
	return pkgdomain.OrderCreatedEvent{
		OrderID:     o.ID,
		UserID:      o.Owner.UserID,
		Email:       o.Shipping.Email,
		Currency:    o.Currency,
		TotalAmount: o.TotalAmount,
		Items:       eventItems(o.Lines),
	}
}
