package service

import (
	"context"

	"github.com/mulu-store/checkout/services/checkout/internal/domain"
)

type SessionRequest struct {
	OrderID       string
	Owner         domain.Owner
	Currency      string
	Lines         []domain.OrderLine
	CustomerEmail string
	BaseURL       string
}

type Session struct {
	ID  string
	URL string
}

const EventCheckoutCompleted = "checkout.session.completed"

type WebhookEvent struct {
	ID              string
	Type            string
	OrderID         string
	SessionID       string
	PaymentIntentID string
}

// PaymentProvider is the hosted payment page collaborator.
type PaymentProvider interface {
	// Configured fails when credentials are missing or placeholders.
	Configured() error
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// VerifyWebhook authenticates payload against the signature header and
	// returns ErrInvalidSignature or ErrWebhookMisconfigured on rejection.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
