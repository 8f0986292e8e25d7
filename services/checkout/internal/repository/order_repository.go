package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultListLimit = 50

type OrderRepository interface {
	// Create writes the order row and its line snapshots in one statement.
	Create(ctx context.Context, q db.DBTX, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByOwner(ctx context.Context, owner domain.Owner, limit int) ([]*domain.Order, error)
	// UpdateStatus moves id from one status to another. changed is false
	// when the order already had the target status.
	UpdateStatus(ctx context.Context, q db.DBTX, id string, from, to domain.OrderStatus) (changed bool, err error)
	SetPaymentSession(ctx context.Context, id string, sessionID string) error
	// MarkPaid records the payment and moves pending to paid. Replays on an
	// already paid order report changed=false without error.
	MarkPaid(ctx context.Context, q db.DBTX, id string, sessionID, paymentIntentID string) (changed bool, err error)
}

type orderRepo struct {
	pool   db.DBTX
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool db.DBTX, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("checkout/order_repo"),
	}
}

func (r *orderRepo) Create(ctx context.Context, q db.DBTX, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Int("lines", len(order.Lines)),
		attribute.Int64("total_amount", order.TotalAmount),
	)

	if err := order.Owner.Validate(); err != nil {
		return err
	}

	orderID, err := uuid.Parse(order.ID)
	if err != nil {
		return ErrInvalidID
	}

	positions := make([]int32, len(order.Lines))
	productIDs := make([]uuid.UUID, len(order.Lines))
	titles := make([]string, len(order.Lines))
	prices := make([]int64, len(order.Lines))
	quantities := make([]int64, len(order.Lines))

	for i, line := range order.Lines {
		pid, err := uuid.Parse(line.ProductID)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidID, line.ProductID)
		}

		positions[i] = int32(i)
		productIDs[i] = pid
		titles[i] = line.Title
		prices[i] = line.UnitPrice
		quantities[i] = line.Quantity
	}

	var guestEmail *string
	if order.Owner.GuestEmail != "" {
		guestEmail = &order.Owner.GuestEmail
	}

	query := `
		WITH new_order AS (
			INSERT INTO orders (id, user_id, guest_email, status, currency, total_amount, shipping_address)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		), new_items AS (
			INSERT INTO order_items (order_id, position, product_id, title, unit_price, quantity)
			SELECT new_order.id, l.position, l.product_id, l.title, l.unit_price, l.quantity
			FROM new_order
			CROSS JOIN unnest($8::int[], $9::uuid[], $10::text[], $11::bigint[], $12::bigint[])
				AS l(position, product_id, title, unit_price, quantity)
		)
		SELECT created_at, updated_at FROM new_order
	`

	err = q.QueryRow(
		ctx,
		query,
		orderID,
		order.Owner.UserID,
		guestEmail,
		string(order.Status),
		order.Currency,
		order.TotalAmount,
		order.Shipping,
		positions,
		productIDs,
		titles,
		prices,
		quantities,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to create order",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

const orderColumns = `id::text, user_id, guest_email, status, currency, total_amount, shipping_address,
	payment_session_id, payment_intent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		guestEmail *string
		status     string
	)

	if err := row.Scan(
		&o.ID,
		&o.Owner.UserID,
		&guestEmail,
		&status,
		&o.Currency,
		&o.TotalAmount,
		&o.Shipping,
		&o.PaymentSessionID,
		&o.PaymentIntentID,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if guestEmail != nil {
		o.Owner.GuestEmail = *guestEmail
	}
	o.Status = domain.OrderStatus(status)

	return &o, nil
}

func (r *orderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	lines, err := r.loadLines(ctx, []uuid.UUID{orderID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	order.Lines = lines[order.ID]

	return order, nil
}

func (r *orderRepo) ListByOwner(ctx context.Context, owner domain.Owner, limit int) ([]*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByOwner")
	defer span.End()

	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	var arg any = owner.UserID
	if owner.IsGuest() {
		query = `SELECT ` + orderColumns + ` FROM orders WHERE guest_email = $1 ORDER BY created_at DESC LIMIT $2`
		arg = owner.GuestEmail
	}

	rows, err := r.pool.Query(ctx, query, arg, limit)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to list orders", zap.Error(err))

		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []*domain.Order
		ids    []uuid.UUID
	)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, order)
		ids = append(ids, uuid.MustParse(order.ID))
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, order := range orders {
		order.Lines = lines[order.ID]
	}

	span.SetAttributes(attribute.Int("result_count", len(orders)))

	return orders, nil
}

func (r *orderRepo) loadLines(ctx context.Context, orderIDs []uuid.UUID) (map[string][]domain.OrderLine, error) {
	query := `
		SELECT order_id::text, product_id::text, title, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`

	rows, err := r.pool.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.Title, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		result[orderID] = append(result[orderID], line)
	}

	return result, rows.Err()
}

func (r *orderRepo) UpdateStatus(ctx context.Context, q db.DBTX, id string, from, to domain.OrderStatus) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", id),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	if !domain.CanTransition(from, to) {
		return false, domain.ErrInvalidTransition
	}

	orderID, err := uuid.Parse(id)
	if err != nil {
		return false, ErrInvalidID
	}

	query := `
		UPDATE orders
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	commandTag, err := q.Exec(ctx, query, orderID, string(from), string(to))
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update order status", zap.String("order_id", id), zap.Error(err))

		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	if commandTag.RowsAffected() == 1 {
		return true, nil
	}

	return false, r.explainMiss(ctx, q, orderID, to)
}

// explainMiss classifies an update that matched no row: the order is
// missing, already in the target status (nil), or in a conflicting one.
func (r *orderRepo) explainMiss(ctx context.Context, q db.DBTX, id uuid.UUID, target domain.OrderStatus) error {
	var current string
	err := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to read order status: %w", err)
	}

	if domain.OrderStatus(current) == target {
		return nil
	}

	return fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, current)
}

func (r *orderRepo) SetPaymentSession(ctx context.Context, id string, sessionID string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.SetPaymentSession")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	orderID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	query := `
		UPDATE orders
		SET payment_session_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	commandTag, err := r.pool.Exec(ctx, query, orderID, sessionID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set payment session: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *orderRepo) MarkPaid(ctx context.Context, q db.DBTX, id string, sessionID, paymentIntentID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.MarkPaid")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", id))

	orderID, err := uuid.Parse(id)
	if err != nil {
		return false, ErrInvalidID
	}

	query := `
		UPDATE orders
		SET status = 'paid',
			payment_session_id = COALESCE(NULLIF($2, ''), payment_session_id),
			payment_intent_id = COALESCE(NULLIF($3, ''), payment_intent_id),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	commandTag, err := q.Exec(ctx, query, orderID, sessionID, paymentIntentID)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to mark order paid", zap.String("order_id", id), zap.Error(err))

		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	if commandTag.RowsAffected() == 1 {
		return true, nil
	}

	err = r.explainMiss(ctx, q, orderID, domain.OrderStatusPaid)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		span.RecordError(err)
	}

	return false, err
}
