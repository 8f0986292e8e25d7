package tests

import (
	"errors"

	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/pkg/outbox"
)

func (s *CheckoutIntegrationSuite) TestOutboxProcessor_PublishesAndMarks() {
	p1 := s.seedProduct("Mug", 500, 10)

	res, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().NoError(err)

	publisher := &recordingPublisher{}
	processor := outbox.NewProcessor(s.DbPool, s.outboxRepo, publisher, s.logger)

	published, err := processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, published)

	s.Require().Len(publisher.messages, 1)
	s.Equal(pkgdomain.EventOrderCreated, publisher.messages[0].Event)
	s.Equal(res.OrderID, publisher.messages[0].AggregateID)
	s.Positive(publisher.messages[0].EventID)

	s.Equal(0, s.count(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))

	published, err = processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Zero(published)
}

func (s *CheckoutIntegrationSuite) TestOutboxProcessor_FailedPublishStaysQueued() {
	p1 := s.seedProduct("Mug", 500, 10)

	_, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().NoError(err)

	publisher := &recordingPublisher{err: errors.New("broker down")}
	processor := outbox.NewProcessor(s.DbPool, s.outboxRepo, publisher, s.logger)

	published, err := processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Zero(published)

	s.Equal(1, s.count(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL AND attempts = 1 AND last_error IS NOT NULL`))
}
