package service

import (
	"context"
	"sort"

	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/utils"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type stockAdjustment struct {
	productID string
	quantity  int64
}

// stockCompensator puts reserved units back. Every increment is attempted
// regardless of sibling failures; failures are logged, never returned.
type stockCompensator struct {
	products    repository.ProductRepository
	pool        db.DBTX
	concurrency int
	logger      *zap.Logger
}

func newStockCompensator(products repository.ProductRepository, pool db.DBTX, concurrency int, logger *zap.Logger) *stockCompensator {
	if concurrency <= 0 {
		concurrency = 8
	}

	return &stockCompensator{
		products:    products,
		pool:        pool,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Restore returns the number of products whose increment failed.
func (c *stockCompensator) Restore(ctx context.Context, quantities map[string]int64) int {
	if len(quantities) == 0 {
		return 0
	}

	ctx = context.WithoutCancel(ctx)

	adjustments := make([]stockAdjustment, 0, len(quantities))
	for id, qty := range quantities {
		if qty > 0 {
			adjustments = append(adjustments, stockAdjustment{productID: id, quantity: qty})
		}
	}
	sort.Slice(adjustments, func(i, j int) bool { return adjustments[i].productID < adjustments[j].productID })

	err := utils.SettleAll(ctx, c.concurrency, adjustments, func(ctx context.Context, adj stockAdjustment) error {
		if err := c.products.IncreaseStock(ctx, c.pool, adj.productID, adj.quantity); err != nil {
			mylogger.Error(
				ctx,
				c.logger,
				"Stock compensation failed",
				zap.String("product_id", adj.productID),
				zap.Int64("quantity", adj.quantity),
				zap.Error(err),
			)
			return err
		}
		return nil
	})

	failed := len(multierr.Errors(err))
	if failed > 0 {
		mylogger.Error(
			ctx,
			c.logger,
			"Stock compensation incomplete",
			zap.Int("failed", failed),
			zap.Int("total", len(adjustments)),
		)
	}

	return failed
}
