package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/utils"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errPlaceholderKey = errors.New("secret key looks like a placeholder")

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BackendURL overrides the API host, used against local fakes.
	BackendURL string
}

type stripeProvider struct {
	cfg    StripeConfig
	api    *client.API
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	tracer trace.Tracer
}

func NewStripeProvider(cfg StripeConfig, logger *zap.Logger) service.PaymentProvider {
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(cfg.BackendURL),
				MaxNetworkRetries: stripe.Int64(0),
			}),
		}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &stripeProvider{
		cfg:    cfg,
		api:    api,
		cb:     utils.NewBreaker("stripe-checkout", logger),
		logger: logger,
		tracer: otel.Tracer("checkout/stripe_provider"),
	}
}

func (p *stripeProvider) Configured() error {
	key := strings.TrimSpace(p.cfg.SecretKey)
	if key == "" {
		return errors.New("secret key is not set")
	}
	if strings.Contains(key, "...") {
		return errPlaceholderKey
	}
	return nil
}

func (p *stripeProvider) CreateSession(ctx context.Context, req service.SessionRequest) (*service.Session, error) {
	ctx, span := p.tracer.Start(ctx, "StripeProvider.CreateSession")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", req.OrderID))

	if err := p.Configured(); err != nil {
		return nil, err
	}

	params := sessionParams(req)
	params.Context = ctx

	session, err := utils.ExecuteWithBreaker(p.cb, func() (*stripe.CheckoutSession, error) {
		return p.api.CheckoutSessions.New(params)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, p.logger, "Stripe session creation failed", describeError(err)...)

		return nil, fmt.Errorf("create checkout session: %w", sanitize(err))
	}

	span.SetAttributes(attribute.String("session_id", session.ID))

	return &service.Session{ID: session.ID, URL: session.URL}, nil
}

func sessionParams(req service.SessionRequest) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(req.Currency)

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, line := range req.Lines {
		name := line.Title
		if name == "" {
			name = "Item"
		}

		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(line.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(line.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		})
	}

	baseURL := strings.TrimRight(req.BaseURL, "/")

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(baseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(baseURL + "/checkout/cancel"),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	userID := "guest"
	if req.Owner.UserID != nil {
		userID = fmt.Sprintf("%d", *req.Owner.UserID)
	}

	params.AddMetadata("orderId", req.OrderID)
	params.AddMetadata("userId", userID)

	return params
}

func (p *stripeProvider) VerifyWebhook(payload []byte, signature string) (*service.WebhookEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, service.ErrWebhookMisconfigured
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature header", service.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrInvalidSignature, err)
	}

	result := &service.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	if result.Type != service.EventCheckoutCompleted || event.Data == nil {
		return result, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		// authentic but unreadable; treated as carrying no correlation id
		return result, nil
	}

	result.SessionID = session.ID
	result.OrderID = session.Metadata["orderId"]
	if result.OrderID == "" {
		result.OrderID = session.ClientReferenceID
	}
	if session.PaymentIntent != nil {
		result.PaymentIntentID = session.PaymentIntent.ID
	}

	return result, nil
}

// sanitize drops provider messages that may echo credentials.
func sanitize(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 401 {
		return errors.New("provider authentication failed")
	}
	return err
}

func describeError(err error) []zap.Field {
	fields := []zap.Field{zap.Error(sanitize(err))}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		fields = append(fields, zap.Bool("breaker_open", true))
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		fields = append(fields,
			zap.Int("http_status", stripeErr.HTTPStatusCode),
			zap.String("stripe_type", string(stripeErr.Type)),
			zap.String("request_id", stripeErr.RequestID),
		)
	}

	return fields
}
