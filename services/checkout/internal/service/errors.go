package service

import (
	"errors"
	"fmt"

	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
)

var (
	ErrValidation            = domain.ErrValidation
	ErrInsufficientStock     = repository.ErrInsufficientStock
	ErrOrderNotFound         = repository.ErrOrderNotFound
	ErrInvalidProduct        = errors.New("invalid product")
	ErrProviderNotConfigured = errors.New("payment provider is not configured")
	ErrPaymentUnavailable    = errors.New("could not start payment")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrWebhookMisconfigured  = errors.New("webhook secret is not configured")
)

type InvalidProductError struct {
	ProductID string
}

func (e *InvalidProductError) Error() string {
	return fmt.Sprintf("invalid product %s", e.ProductID)
}

func (e *InvalidProductError) Is(target error) bool {
	return target == ErrInvalidProduct
}

type InsufficientStockError struct {
	ProductID string
	Title     string
}

func (e *InsufficientStockError) Error() string {
	return "Insufficient stock for " + e.Title
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PaymentError carries the provider failure behind ErrPaymentUnavailable.
// Its message is safe to return to clients; Cause is for logs only.
type PaymentError struct {
	OrderID string
	Cause   error
}

func (e *PaymentError) Error() string {
	return ErrPaymentUnavailable.Error()
}

func (e *PaymentError) Is(target error) bool {
	return target == ErrPaymentUnavailable
}

func (e *PaymentError) Unwrap() error {
	return e.Cause
}
