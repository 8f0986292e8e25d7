package repository

import (
	"context"
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

type ProductRepository interface {
	// FindEligible loads active, non-deleted products in one query.
	// Ids without an eligible product are absent from the result.
	FindEligible(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	DecreaseStock(ctx context.Context, q db.DBTX, id string, quantity int64) error
	IncreaseStock(ctx context.Context, q db.DBTX, id string, quantity int64) error
}

type productRepo struct {
	pool   db.DBTX
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool db.DBTX, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("checkout/product_repo"),
	}
}

func parseIDs(ids []string) ([]uuid.UUID, error) {
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidID, id)
		}
		result = append(result, parsed)
	}
	return result, nil
}

func (r *productRepo) FindEligible(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.FindEligible")
	defer span.End()

	span.SetAttributes(attribute.Int("ids_count", len(ids)))

	uuids, err := parseIDs(ids)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id::text, title, price, stock_quantity, is_active, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
			AND is_active
			AND deleted_at IS NULL
	`

	rows, err := r.pool.Query(ctx, query, uuids)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query products", zap.Error(err))

		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID,
			&p.Title,
			&p.Price,
			&p.StockQuantity,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}

		result[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(result)))

	return result, nil
}

func (r *productRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", id))

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	query := `
		SELECT id::text, title, price, stock_quantity, is_active, created_at, updated_at, deleted_at
		FROM products
		WHERE id = $1
	`

	var p domain.Product
	err = r.pool.QueryRow(ctx, query, parsed).Scan(
		&p.ID,
		&p.Title,
		&p.Price,
		&p.StockQuantity,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &p, nil
}

// DecreaseStock is the conditional decrement: it applies only while enough
// stock remains and the product is sellable. A no-match is reported as
// ErrInsufficientStock.
func (r *productRepo) DecreaseStock(ctx context.Context, q db.DBTX, id string, quantity int64) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.DecreaseStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", id),
		attribute.Int64("quantity", quantity),
	)

	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1
			AND stock_quantity >= $2
			AND is_active
			AND deleted_at IS NULL
	`

	commandTag, err := q.Exec(ctx, query, parsed, quantity)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Error decreasing stock",
			zap.String("product_id", id),
			zap.Int64("quantity", quantity),
			zap.Error(err),
		)

		return err
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(
			ctx,
			r.logger,
			"Not enough stock",
			zap.String("product_id", id),
			zap.Int64("quantity", quantity),
		)

		return ErrInsufficientStock
	}

	return nil
}

// IncreaseStock restores stock during compensation. It ignores the active
// flag so a product deactivated mid-checkout still gets its units back.
func (r *productRepo) IncreaseStock(ctx context.Context, q db.DBTX, id string, quantity int64) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.IncreaseStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", id),
		attribute.Int64("quantity", quantity),
	)

	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
	`

	commandTag, err := q.Exec(ctx, query, parsed, quantity)
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to update stock_quantity", zap.Error(err))

		return err
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(ctx, r.logger, "Product not found", zap.String("product_id", id))
		return ErrProductNotFound
	}

	return nil
}
