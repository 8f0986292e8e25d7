package tests

import (
	"time"

	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
)

func (s *CheckoutIntegrationSuite) TestWebhook_MarksPaidOnce() {
	p1 := s.seedProduct("Mug", 500, 10)

	res, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 2))
	s.Require().NoError(err)

	s.provider.event = service.WebhookEvent{
		ID:              "evt_paid_1",
		Type:            service.EventCheckoutCompleted,
		OrderID:         res.OrderID,
		SessionID:       res.SessionID,
		PaymentIntentID: "pi_123",
	}

	outcome, err := s.webhooks.Handle(s.Ctx, []byte(`{}`), "valid")
	s.Require().NoError(err)
	s.Equal(service.OutcomePaid, outcome)

	outcome, err = s.webhooks.Handle(s.Ctx, []byte(`{}`), "valid")
	s.Require().NoError(err)
	s.Equal(service.OutcomeDuplicate, outcome)

	s.provider.event.ID = "evt_paid_2"
	outcome, err = s.webhooks.Handle(s.Ctx, []byte(`{}`), "valid")
	s.Require().NoError(err)
	s.Equal(service.OutcomeAlreadyPaid, outcome)

	order, err := s.orders.GetByID(s.Ctx, res.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, order.Status)
	s.Require().NotNil(order.PaymentIntentID)
	s.Equal("pi_123", *order.PaymentIntentID)
	s.Equal(int64(8), s.stock(p1))

	s.Equal(1, s.outboxCount(pkgdomain.EventOrderPaid))
}

func (s *CheckoutIntegrationSuite) TestWebhook_RejectsBadSignature() {
	_, err := s.webhooks.Handle(s.Ctx, []byte(`{}`), "forged")
	s.Require().ErrorIs(err, service.ErrInvalidSignature)
}

func (s *CheckoutIntegrationSuite) TestWebhook_CancelledOrderStaysCancelled() {
	p1 := s.seedProduct("Cap", 900, 5)
	order, err := s.checkout.PlaceOrder(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().NoError(err)

	changed, err := s.orders.UpdateStatus(s.Ctx, s.DbPool, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	s.Require().NoError(err)
	s.True(changed)

	s.provider.event = service.WebhookEvent{ID: "evt_late", Type: service.EventCheckoutCompleted, OrderID: order.ID}

	outcome, err := s.webhooks.Handle(s.Ctx, []byte(`{}`), "valid")
	s.Require().NoError(err)
	s.Equal(service.OutcomeFailed, outcome)

	stored, err := s.orders.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, stored.Status)
}

func (s *CheckoutIntegrationSuite) TestWebhook_RedeliveryRecordsMissingPaidEvent() {
	p1 := s.seedProduct("Mug", 500, 10)

	res, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().NoError(err)

	// paid without its event, as left by an attempt that died after the status write
	changed, err := s.orders.MarkPaid(s.Ctx, s.DbPool, res.OrderID, res.SessionID, "pi_lost")
	s.Require().NoError(err)
	s.True(changed)
	s.Zero(s.outboxCount(pkgdomain.EventOrderPaid))

	s.provider.event = service.WebhookEvent{
		ID:              "evt_retry",
		Type:            service.EventCheckoutCompleted,
		OrderID:         res.OrderID,
		SessionID:       res.SessionID,
		PaymentIntentID: "pi_lost",
	}

	outcome, err := s.webhooks.Handle(s.Ctx, []byte(`{}`), "valid")
	s.Require().NoError(err)
	s.Equal(service.OutcomeAlreadyPaid, outcome)
	s.Equal(1, s.outboxCount(pkgdomain.EventOrderPaid))

	s.provider.event.ID = "evt_retry_2"
	_, err = s.webhooks.Handle(s.Ctx, []byte(`{}`), "valid")
	s.Require().NoError(err)
	s.Equal(1, s.outboxCount(pkgdomain.EventOrderPaid))
}

func (s *CheckoutIntegrationSuite) TestOutbox_OneEventPerOrderAndType() {
	p1 := s.seedProduct("Mug", 500, 10)

	res, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().NoError(err)

	event, err := outbox.NewEvent("order_events", pkgdomain.AggregateOrder, res.OrderID, pkgdomain.EventOrderCreated, map[string]string{})
	s.Require().NoError(err)

	err = s.outboxRepo.Save(s.Ctx, s.DbPool, event)
	s.Require().ErrorIs(err, outbox.ErrDuplicateEvent)
	s.Equal(1, s.outboxCount(pkgdomain.EventOrderCreated))
}

func (s *CheckoutIntegrationSuite) TestRedisDeduplicator() {
	dedup := repository.NewRedisDeduplicator(s.Redis, time.Minute)

	seen, err := dedup.Seen(s.Ctx, "evt_x")
	s.Require().NoError(err)
	s.False(seen)

	s.Require().NoError(dedup.Remember(s.Ctx, "evt_x"))

	seen, err = dedup.Seen(s.Ctx, "evt_x")
	s.Require().NoError(err)
	s.True(seen)

	ttl, err := s.Redis.TTL(s.Ctx, "dedup:webhook:evt_x").Result()
	s.Require().NoError(err)
	s.Positive(ttl)
	s.LessOrEqual(ttl, time.Minute)
}
