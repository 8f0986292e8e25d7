package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/mulu-store/checkout/pkg/db"
	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ReservationModeAuto          = "auto"
	ReservationModeTransactional = "transactional"
	ReservationModeSequential    = "sequential"
)

// ReservationUnitOfWork takes stock for every order line and records the
// order as pending. Either all of it lands or none of it does.
type ReservationUnitOfWork interface {
	Reserve(ctx context.Context, order *domain.Order) error
	// Atomic runs fn with the strongest atomicity the store offers:
	// a transaction when supported, the bare pool otherwise.
	Atomic(ctx context.Context, fn func(q db.DBTX) error) error
	Mode() string
}

type ReservationDeps struct {
	Store                   db.Store
	Products                repository.ProductRepository
	Orders                  repository.OrderRepository
	Outbox                  outbox.Repository
	Topic                   string
	CompensationConcurrency int
	Logger                  *zap.Logger
}

// reservationCore is shared by both commit strategies.
type reservationCore struct {
	store       db.Store
	products    repository.ProductRepository
	orders      repository.OrderRepository
	emitter     *eventEmitter
	compensator *stockCompensator
	logger      *zap.Logger
}

func newReservationCore(deps ReservationDeps) reservationCore {
	return reservationCore{
		store:       deps.Store,
		products:    deps.Products,
		orders:      deps.Orders,
		emitter:     &eventEmitter{repo: deps.Outbox, topic: deps.Topic},
		compensator: newStockCompensator(deps.Products, deps.Store, deps.CompensationConcurrency, deps.Logger),
		logger:      deps.Logger,
	}
}

// NewReservationUnitOfWork picks the commit strategy. In auto mode the
// store is probed once; a store that accepts transactions still gets a
// runtime fallback in case a pooler rejects them later.
func NewReservationUnitOfWork(ctx context.Context, mode string, deps ReservationDeps) (ReservationUnitOfWork, error) {
	core := newReservationCore(deps)
	tx := &txUnitOfWork{reservationCore: core, tracer: otel.Tracer("checkout/reservation_tx")}
	seq := &sequentialUnitOfWork{reservationCore: core, tracer: otel.Tracer("checkout/reservation_sequential")}

	switch mode {
	case ReservationModeTransactional:
		return tx, nil
	case ReservationModeSequential:
		return seq, nil
	case ReservationModeAuto, "":
	default:
		return nil, fmt.Errorf("unknown reservation mode %q", mode)
	}

	supported, err := db.ProbeTransactions(ctx, deps.Store)
	if err != nil {
		mylogger.Warn(ctx, deps.Logger, "Transaction probe failed, assuming support", zap.Error(err))
		supported = true
	}

	if !supported {
		mylogger.Warn(ctx, deps.Logger, "Store does not support transactions, using sequential reservations")
		return seq, nil
	}

	return &adaptiveUnitOfWork{primary: tx, fallback: seq, logger: deps.Logger}, nil
}

func insufficientStock(line domain.OrderLine) error {
	return &InsufficientStockError{ProductID: line.ProductID, Title: line.Title}
}

type txUnitOfWork struct {
	reservationCore
	tracer trace.Tracer
}

func (u *txUnitOfWork) Mode() string { return ReservationModeTransactional }

func (u *txUnitOfWork) Reserve(ctx context.Context, order *domain.Order) error {
	ctx, span := u.tracer.Start(ctx, "ReservationUnitOfWork.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("mode", u.Mode()),
	)

	err := db.WithTx(ctx, u.store, u.logger, func(tx pgx.Tx) error {
		for _, line := range order.Lines {
			if err := u.products.DecreaseStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) {
					return insufficientStock(line)
				}
				return err
			}
		}

		if err := u.orders.Create(ctx, tx, order); err != nil {
			return err
		}

		return u.emitter.emit(ctx, tx, pkgdomain.EventOrderCreated, order.ID, orderCreatedEvent(order))
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

func (u *txUnitOfWork) Atomic(ctx context.Context, fn func(q db.DBTX) error) error {
	return db.WithTx(ctx, u.store, u.logger, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// sequentialUnitOfWork is for stores without transactions. Each decrement
// is still conditional; partial progress is undone with compensating
// increments before the fault is returned.
type sequentialUnitOfWork struct {
	reservationCore
	tracer trace.Tracer
}

func (u *sequentialUnitOfWork) Mode() string { return ReservationModeSequential }

func (u *sequentialUnitOfWork) Reserve(ctx context.Context, order *domain.Order) error {
	ctx, span := u.tracer.Start(ctx, "ReservationUnitOfWork.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("mode", u.Mode()),
	)

	decremented := make(map[string]int64, len(order.Lines))

	for _, line := range order.Lines {
		if err := u.products.DecreaseStock(ctx, u.store, line.ProductID, line.Quantity); err != nil {
			span.RecordError(err)
			u.compensator.Restore(ctx, decremented)

			if errors.Is(err, repository.ErrInsufficientStock) {
				return insufficientStock(line)
			}
			return err
		}

		decremented[line.ProductID] += line.Quantity
	}

	if err := u.orders.Create(ctx, u.store, order); err != nil {
		span.RecordError(err)
		u.compensator.Restore(ctx, decremented)

		return err
	}

	if err := u.emitter.emit(ctx, u.store, pkgdomain.EventOrderCreated, order.ID, orderCreatedEvent(order)); err != nil {
		mylogger.Warn(ctx, u.logger, "Failed to record order created event", zap.String("order_id", order.ID), zap.Error(err))
	}

	return nil
}

func (u *sequentialUnitOfWork) Atomic(_ context.Context, fn func(q db.DBTX) error) error {
	return fn(u.store)
}

// adaptiveUnitOfWork prefers transactions and switches to the sequential
// path for good the first time the store reports it cannot run them.
type adaptiveUnitOfWork struct {
	primary     ReservationUnitOfWork
	fallback    ReservationUnitOfWork
	useFallback atomic.Bool
	logger      *zap.Logger
}

func (u *adaptiveUnitOfWork) Mode() string {
	if u.useFallback.Load() {
		return u.fallback.Mode()
	}
	return u.primary.Mode()
}

func (u *adaptiveUnitOfWork) Reserve(ctx context.Context, order *domain.Order) error {
	if u.useFallback.Load() {
		return u.fallback.Reserve(ctx, order)
	}

	err := u.primary.Reserve(ctx, order)
	if !u.switchOnUnsupported(ctx, err) {
		return err
	}

	return u.fallback.Reserve(ctx, order)
}

func (u *adaptiveUnitOfWork) Atomic(ctx context.Context, fn func(q db.DBTX) error) error {
	if u.useFallback.Load() {
		return u.fallback.Atomic(ctx, fn)
	}

	err := u.primary.Atomic(ctx, fn)
	if !u.switchOnUnsupported(ctx, err) {
		return err
	}

	return u.fallback.Atomic(ctx, fn)
}

func (u *adaptiveUnitOfWork) switchOnUnsupported(ctx context.Context, err error) bool {
	if !errors.Is(err, db.ErrTransactionsUnsupported) {
		return false
	}

	if u.useFallback.CompareAndSwap(false, true) {
		mylogger.Warn(
			ctx,
			u.logger,
			"Transactions rejected by store, switching to sequential reservations",
			zap.Error(err),
		)
	}

	return true
}
