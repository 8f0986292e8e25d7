package handler

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/utils"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http/middleware"
	"go.uber.org/zap"
)

const defaultBaseURL = "http://localhost:3000"

type CheckoutHandler struct {
	checkout service.CheckoutService
	validate *validator.Validate
	baseURL  string
	logger   *zap.Logger
}

func NewCheckoutHandler(checkout service.CheckoutService, baseURL string, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		validate: utils.NewValidator(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

type CheckoutInput struct {
	Email      string            `json:"email" validate:"required,email,max=254"`
	FullName   string            `json:"fullName" validate:"required,max=200"`
	Phone      string            `json:"phone" validate:"omitempty,max=40"`
	Street     string            `json:"street" validate:"required,max=200"`
	City       string            `json:"city" validate:"required,max=100"`
	PostalCode string            `json:"postalCode" validate:"required,max=20"`
	Country    string            `json:"country" validate:"required,max=60"`
	Items      []json.RawMessage `json:"items" validate:"required,min=1"`
}

func (in *CheckoutInput) trim() {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Street = strings.TrimSpace(in.Street)
	in.City = strings.TrimSpace(in.City)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	in.Country = strings.TrimSpace(in.Country)
}

func (h *CheckoutHandler) Checkout(c *fiber.Ctx) error {
	req, ok, err := h.parse(c)
	if !ok {
		return err
	}

	res, err := h.checkout.Checkout(c.UserContext(), *req)
	if err != nil {
		return writeError(c, h.logger, "checkout", err)
	}

	return c.JSON(fiber.Map{
		"url":      res.RedirectURL,
		"order_id": res.OrderID,
	})
}

// PlaceOrder records a pending order without opening a payment session.
func (h *CheckoutHandler) PlaceOrder(c *fiber.Ctx) error {
	req, ok, err := h.parse(c)
	if !ok {
		return err
	}

	order, err := h.checkout.PlaceOrder(c.UserContext(), *req)
	if err != nil {
		return writeError(c, h.logger, "place order", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"order_id": order.ID})
}

// parse reports ok=false once it has written an error response.
func (h *CheckoutHandler) parse(c *fiber.Ctx) (*service.CheckoutRequest, bool, error) {
	input := new(CheckoutInput)

	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse checkout body", zap.Error(err))

		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	input.trim()

	if err := h.validate.Struct(input); err != nil {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": utils.FormatValidationError(err),
		})
	}

	owner := domain.GuestOwner(input.Email)
	if userID, ok := middleware.UserID(c); ok {
		owner = domain.UserOwner(userID)
	}

	return &service.CheckoutRequest{
		Owner: owner,
		Shipping: domain.ShippingAddress{
			FullName:   input.FullName,
			Email:      strings.ToLower(input.Email),
			Phone:      input.Phone,
			Street:     input.Street,
			City:       input.City,
			PostalCode: input.PostalCode,
			Country:    input.Country,
		},
		Items:   input.Items,
		BaseURL: h.resolveBaseURL(c),
	}, true, nil
}

// resolveBaseURL prefers the configured storefront url, then the request
// Origin, then the local default.
func (h *CheckoutHandler) resolveBaseURL(c *fiber.Ctx) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	if origin := strings.TrimRight(c.Get(fiber.HeaderOrigin), "/"); origin != "" {
		return origin
	}
	return defaultBaseURL
}
