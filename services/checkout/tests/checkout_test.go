package tests

import (
	"errors"
	"sync"

	pkgdomain "github.com/mulu-store/checkout/pkg/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
)

func (s *CheckoutIntegrationSuite) TestCheckout_HappyPath() {
	p1 := s.seedProduct("Mug", 500, 10)

	res, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 2))
	s.Require().NoError(err)

	s.Equal(int64(8), s.stock(p1))

	order, err := s.orders.GetByID(s.Ctx, res.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPending, order.Status)
	s.Equal(int64(1000), order.TotalAmount)
	s.Equal("buyer@example.com", order.Owner.GuestEmail)
	s.Require().Len(order.Lines, 1)
	s.Equal(domain.OrderLine{ProductID: p1, Title: "Mug", UnitPrice: 500, Quantity: 2}, order.Lines[0])
	s.Require().NotNil(order.PaymentSessionID)
	s.Equal("cs_"+res.OrderID, *order.PaymentSessionID)

	s.Equal(1, s.outboxCount(pkgdomain.EventOrderCreated))
}

func (s *CheckoutIntegrationSuite) TestCheckout_ExhaustionUnderConcurrency() {
	p1 := s.seedProduct("Last one", 900, 1)

	const buyers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		stockErrs int
	)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, service.ErrInsufficientStock) {
				stockErrs++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(buyers-1, stockErrs)
	s.Equal(int64(0), s.stock(p1))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM orders`))
}

func (s *CheckoutIntegrationSuite) TestCheckout_ProviderFailureRestoresStock() {
	p1 := s.seedProduct("Cap", 900, 5)
	s.provider.createErr = errors.New("stripe unreachable")

	_, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 3))
	s.Require().ErrorIs(err, service.ErrPaymentUnavailable)

	var payErr *service.PaymentError
	s.Require().ErrorAs(err, &payErr)

	s.Equal(int64(5), s.stock(p1))

	order, err := s.orders.GetByID(s.Ctx, payErr.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, order.Status)
	s.Equal(1, s.outboxCount(pkgdomain.EventOrderCancelled))
}

func (s *CheckoutIntegrationSuite) TestCheckout_MultiLineShortfallTouchesNothing() {
	p1 := s.seedProduct("Mug", 500, 10)
	p2 := s.seedProduct("Tee", 1500, 1)

	_, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 2, p2, 2))

	var stockErr *service.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(p2, stockErr.ProductID)
	s.Equal("Insufficient stock for Tee", stockErr.Error())

	s.Equal(int64(10), s.stock(p1))
	s.Equal(int64(1), s.stock(p2))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM orders`))
	s.Zero(s.provider.sessions)
}

func (s *CheckoutIntegrationSuite) TestCheckout_InactiveProductRejected() {
	p1 := s.seedProduct("Retired", 500, 10)
	_, err := s.DbPool.Exec(s.Ctx, `UPDATE products SET is_active = FALSE WHERE id = $1`, p1)
	s.Require().NoError(err)

	_, err = s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().ErrorIs(err, service.ErrInvalidProduct)
	s.Equal(int64(10), s.stock(p1))
}

func (s *CheckoutIntegrationSuite) TestCheckout_SnapshotIgnoresLaterPriceChanges() {
	p1 := s.seedProduct("Mug", 500, 10)

	res, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 2))
	s.Require().NoError(err)

	_, err = s.DbPool.Exec(s.Ctx, `UPDATE products SET price = 9999, title = 'Renamed' WHERE id = $1`, p1)
	s.Require().NoError(err)

	order, err := s.orders.GetByID(s.Ctx, res.OrderID)
	s.Require().NoError(err)
	s.Equal(int64(1000), order.TotalAmount)
	s.Equal("Mug", order.Lines[0].Title)
	s.Equal(int64(500), order.Lines[0].UnitPrice)
}

func (s *CheckoutIntegrationSuite) TestSequentialMode() {
	s.build(service.ReservationModeSequential)

	p1 := s.seedProduct("Mug", 500, 3)
	p2 := s.seedProduct("Tee", 1500, 1)

	_, err := s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 2, p2, 1))
	s.Require().NoError(err)
	s.Equal(int64(1), s.stock(p1))
	s.Equal(int64(0), s.stock(p2))

	s.provider.createErr = errors.New("stripe unreachable")
	_, err = s.checkout.Checkout(s.Ctx, s.request("buyer@example.com", p1, 1))
	s.Require().ErrorIs(err, service.ErrPaymentUnavailable)
	s.Equal(int64(1), s.stock(p1))
}

func (s *CheckoutIntegrationSuite) TestOrders_SingleOwnerConstraint() {
	_, err := s.DbPool.Exec(
		s.Ctx,
		`INSERT INTO orders (id, user_id, guest_email, total_amount, shipping_address) VALUES (gen_random_uuid(), 1, 'a@b.co', 0, '{}')`,
	)
	s.Require().Error(err)
}

func (s *CheckoutIntegrationSuite) TestOrders_ListByUser() {
	p1 := s.seedProduct("Mug", 500, 10)

	req := s.request("member@example.com", p1, 1)
	req.Owner = domain.UserOwner(77)

	for i := 0; i < 2; i++ {
		_, err := s.checkout.PlaceOrder(s.Ctx, req)
		s.Require().NoError(err)
	}

	orders, err := s.orders.ListByOwner(s.Ctx, domain.UserOwner(77), 50)
	s.Require().NoError(err)
	s.Len(orders, 2)
	s.False(orders[0].CreatedAt.Before(orders[1].CreatedAt))
	s.Len(orders[0].Lines, 1)

	orders, err = s.orders.ListByOwner(s.Ctx, domain.UserOwner(78), 50)
	s.Require().NoError(err)
	s.Empty(orders)
}
