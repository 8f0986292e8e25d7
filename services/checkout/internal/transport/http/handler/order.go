package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orders service.OrderService
	logger *zap.Logger
}

func NewOrderHandler(orders service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type orderSummary struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Currency    string    `json:"currency"`
	TotalAmount int64     `json:"total_amount"`
	ItemCount   int64     `json:"item_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type orderLine struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

type orderDetail struct {
	orderSummary
	Items    []orderLine            `json:"items"`
	Shipping domain.ShippingAddress `json:"shipping"`
}

func toSummary(o *domain.Order) orderSummary {
	var count int64
	for _, line := range o.Lines {
		count += line.Quantity
	}

	return orderSummary{
		ID:          o.ID,
		Status:      string(o.Status),
		Currency:    o.Currency,
		TotalAmount: o.TotalAmount,
		ItemCount:   count,
		CreatedAt:   o.CreatedAt,
	}
}

func (h *OrderHandler) ListMine(c *fiber.Ctx) error {
	userID, _ := middleware.UserID(c)

	orders, err := h.orders.ListForOwner(c.UserContext(), domain.UserOwner(userID))
	if err != nil {
		return writeError(c, h.logger, "list orders", err)
	}

	result := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		result = append(result, toSummary(o))
	}

	return c.JSON(fiber.Map{"orders": result})
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "invalid order id", zap.String("id", id))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Id is invalid"})
	}

	userID, _ := middleware.UserID(c)

	order, err := h.orders.GetForOwner(c.UserContext(), id, domain.UserOwner(userID))
	if err != nil {
		return writeError(c, h.logger, "find order", err)
	}

	lines := make([]orderLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, orderLine{
			ProductID: l.ProductID,
			Title:     l.Title,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}

	return c.JSON(orderDetail{
		orderSummary: toSummary(order),
		Items:        lines,
		Shipping:     order.Shipping,
	})
}
