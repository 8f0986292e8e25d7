package service

import (
	"context"

	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderService interface {
	GetForOwner(ctx context.Context, id string, owner domain.Owner) (*domain.Order, error)
	ListForOwner(ctx context.Context, owner domain.Owner) ([]*domain.Order, error)
}

type orderService struct {
	orders repository.OrderRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderService(orders repository.OrderRepository, logger *zap.Logger) OrderService {
	return &orderService{
		orders: orders,
		logger: logger,
		tracer: otel.Tracer("checkout/order_service"),
	}
}

// GetForOwner hides orders of other owners behind ErrOrderNotFound.
func (s *orderService) GetForOwner(ctx context.Context, id string, owner domain.Owner) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetForOwner")
	defer span.End()

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !order.OwnedBy(owner) {
		return nil, ErrOrderNotFound
	}

	return order, nil
}

func (s *orderService) ListForOwner(ctx context.Context, owner domain.Owner) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListForOwner")
	defer span.End()

	return s.orders.ListByOwner(ctx, owner, repository.DefaultListLimit)
}
