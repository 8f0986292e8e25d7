package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/mulu-store/checkout/pkg/db"
	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	cancelAttempts      = 3
	cancelRetryInterval = 50 * time.Millisecond
)

type CheckoutRequest struct {
	Owner    domain.Owner
	Shipping domain.ShippingAddress
	Items    []json.RawMessage
	// BaseURL is where the payment page sends the customer back to.
	BaseURL string
}

type CheckoutResult struct {
	OrderID     string
	SessionID   string
	RedirectURL string
}

type CheckoutService interface {
	// Checkout reserves stock, records a pending order and opens a payment
	// session. Any failure after the reservation rolls everything back.
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	// PlaceOrder reserves stock and records a pending order without
	// starting a payment.
	PlaceOrder(ctx context.Context, req CheckoutRequest) (*domain.Order, error)
}

type CheckoutConfig struct {
	Currency                string
	Topic                   string
	ProviderTimeout         time.Duration
	CompensationConcurrency int
}

type checkoutService struct {
	store       db.Store
	products    repository.ProductRepository
	orders      repository.OrderRepository
	uow         ReservationUnitOfWork
	provider    PaymentProvider
	emitter     *eventEmitter
	compensator *stockCompensator
	cfg         CheckoutConfig
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewCheckoutService(
	store db.Store,
	products repository.ProductRepository,
	orders repository.OrderRepository,
	outboxRepo outbox.Repository,
	uow ReservationUnitOfWork,
	provider PaymentProvider,
	cfg CheckoutConfig,
	logger *zap.Logger,
) CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}

	return &checkoutService{
		store:       store,
		products:    products,
		orders:      orders,
		uow:         uow,
		provider:    provider,
		emitter:     &eventEmitter{repo: outboxRepo, topic: cfg.Topic},
		compensator: newStockCompensator(products, store, cfg.CompensationConcurrency, logger),
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("checkout/checkout_service"),
	}
}

func (s *checkoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.Checkout")
	defer span.End()

	if err := s.provider.Configured(); err != nil {
		mylogger.Error(ctx, s.logger, "Payment provider misconfigured", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderNotConfigured, err)
	}

	order, err := s.reserve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order_id", order.ID))

	session, err := s.openSession(ctx, order, req.BaseURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment session failed")

		mylogger.Error(
			ctx,
			s.logger,
			"Payment session failed, rolling back order",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)

		s.rollback(ctx, order, "payment session failed")

		return nil, &PaymentError{OrderID: order.ID, Cause: err}
	}

	if err := s.orders.SetPaymentSession(ctx, order.ID, session.ID); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to store payment session id",
			zap.String("order_id", order.ID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Checkout session created",
		zap.String("order_id", order.ID),
		zap.Int64("total_amount", order.TotalAmount),
	)

	return &CheckoutResult{
		OrderID:     order.ID,
		SessionID:   session.ID,
		RedirectURL: session.URL,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	order, err := s.reserve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mylogger.Info(ctx, s.logger, "Order placed", zap.String("order_id", order.ID))

	return order, nil
}

// reserve runs normalization, pricing, the stock pre-check and the
// reservation unit of work. Nothing is mutated before the pre-check passes.
func (s *checkoutService) reserve(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	if err := req.Owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	cart, err := domain.NormalizeCart(req.Items)
	if err != nil {
		return nil, err
	}

	order, err := s.priceOrder(ctx, req, cart)
	if err != nil {
		return nil, err
	}

	if err := s.uow.Reserve(ctx, order); err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			mylogger.Info(
				ctx,
				s.logger,
				"Reservation lost stock race",
				zap.String("product_id", stockErr.ProductID),
				zap.String("mode", s.uow.Mode()),
			)
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "Reservation failed", zap.String("mode", s.uow.Mode()), zap.Error(err))
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}

	return order, nil
}

// priceOrder builds the order from catalogue data. Client titles and
// prices are ignored.
func (s *checkoutService) priceOrder(ctx context.Context, req CheckoutRequest, cart *domain.NormalizedCart) (*domain.Order, error) {
	products, err := s.products.FindEligible(ctx, cart.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	lines := make([]domain.OrderLine, 0, len(cart.Lines))
	for _, item := range cart.Lines {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, &InvalidProductError{ProductID: item.ProductID}
		}

		title := p.Title
		if title == "" {
			title = item.Title
		}
		if title == "" {
			title = "Item"
		}

		if p.StockQuantity < item.Quantity {
			return nil, &InsufficientStockError{ProductID: item.ProductID, Title: title}
		}

		lines = append(lines, domain.OrderLine{
			ProductID: item.ProductID,
			Title:     title,
			UnitPrice: p.Price,
			Quantity:  item.Quantity,
		})
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate order id: %w", err)
	}

	order := &domain.Order{
		ID:       id.String(),
		Owner:    req.Owner,
		Status:   domain.OrderStatusPending,
		Currency: s.cfg.Currency,
		Lines:    lines,
		Shipping: req.Shipping,
	}
	order.CalculateTotal()

	return order, nil
}

func (s *checkoutService) openSession(ctx context.Context, order *domain.Order, baseURL string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	session, err := s.provider.CreateSession(ctx, SessionRequest{
		OrderID:       order.ID,
		Owner:         order.Owner,
		Currency:      order.Currency,
		Lines:         order.Lines,
		CustomerEmail: order.Shipping.Email,
		BaseURL:       baseURL,
	})
	if err != nil {
		return nil, err
	}

	if session == nil || session.URL == "" {
		return nil, errors.New("payment session has no redirect url")
	}

	return session, nil
}

// rollback cancels a pending order and puts its stock back. It runs
// detached from the request context so a disconnecting client cannot
// leave stock stranded.
func (s *checkoutService) rollback(ctx context.Context, order *domain.Order, reason string) {
	ctx = context.WithoutCancel(ctx)

	cancelled, err := s.cancel(ctx, order, reason)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		mylogger.Error(ctx, s.logger, "Order moved on during rollback, stock left as is", zap.String("order_id", order.ID), zap.Error(err))
		return
	case err != nil:
		// no payment can follow a failed session, so the stock goes back
		mylogger.Error(
			ctx,
			s.logger,
			"Order left pending after rollback, stock restored",
			zap.String("order_id", order.ID),
			zap.Bool("inconsistent", true),
			zap.Error(err),
		)
	case !cancelled:
		mylogger.Warn(ctx, s.logger, "Order already cancelled, stock left as is", zap.String("order_id", order.ID))
		return
	}

	s.compensator.Restore(ctx, order.Quantities())
}

// cancel moves the order from pending to cancelled and records
// OrderCancelled, retrying a few times. It reports whether this call made
// the transition. Without transactions the status write lands on its own,
// so a later attempt that finds the order cancelled still counts it.
func (s *checkoutService) cancel(ctx context.Context, order *domain.Order, reason string) (bool, error) {
	payload := pkgdomain.OrderCancelledEvent{
		OrderID: order.ID,
		Email:   order.Shipping.Email,
		Reason:  reason,
		Items:   eventItems(order.Lines),
	}

	var cancelled bool

	attempt := func() (struct{}, error) {
		err := s.uow.Atomic(ctx, func(q db.DBTX) error {
			changed, err := s.orders.UpdateStatus(ctx, q, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
			if err != nil {
				return err
			}
			if changed {
				cancelled = true
			}
			if !cancelled {
				return nil
			}

			return s.emitter.emitOnce(ctx, q, pkgdomain.EventOrderCancelled, order.ID, payload)
		})
		if errors.Is(err, domain.ErrInvalidTransition) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cancelRetryInterval

	_, err := backoff.Retry(
		ctx,
		attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cancelAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Cancelling order failed, retrying",
				zap.String("order_id", order.ID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return cancelled, nil
	}

	mylogger.Error(
		ctx,
		s.logger,
		"Failed to record order cancellation, cancelling without event",
		zap.String("order_id", order.ID),
		zap.Error(err),
	)

	changed, err := s.orders.UpdateStatus(ctx, s.store, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	if err != nil {
		return cancelled, err
	}

	return cancelled || changed, nil
}
