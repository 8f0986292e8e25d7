package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/outbox"
	"github.com/mulu-store/checkout/services/checkout/internal/domain"
	"github.com/mulu-store/checkout/services/checkout/internal/repository"
)

var errNotUsed = errors.New("not used by in-memory fakes")

// fakeStore satisfies db.Store; the in-memory repositories ignore it.
type fakeStore struct {
	beginErr error
}

func (s *fakeStore) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNotUsed
}

func (s *fakeStore) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errNotUsed
}

func (s *fakeStore) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (s *fakeStore) Begin(context.Context) (pgx.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{}, nil
}

type fakeTx struct {
	pgx.Tx
	closed bool
}

func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.closed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	return nil
}

type memProducts struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	// beforeDecrease runs before each conditional decrement.
	beforeDecrease func(id string)
	failIncrease   map[string]error
	increases      []string
}

func newMemProducts(products ...domain.Product) *memProducts {
	m := &memProducts{products: map[string]*domain.Product{}, failIncrease: map[string]error{}}
	for _, p := range products {
		m.products[p.ID] = &p
	}
	return m
}

func (m *memProducts) stock(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].StockQuantity
}

func (m *memProducts) setPrice(id string, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id].Price = price
}

func (m *memProducts) setStock(id string, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id].StockQuantity = qty
}

func (m *memProducts) FindEligible(_ context.Context, ids []string) (map[string]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := map[string]domain.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok && p.Eligible() {
			result[id] = *p
		}
	}
	return result, nil
}

func (m *memProducts) GetByID(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProducts) DecreaseStock(_ context.Context, _ db.DBTX, id string, qty int64) error {
	if m.beforeDecrease != nil {
		m.beforeDecrease(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok || !p.Eligible() || p.StockQuantity < qty {
		return repository.ErrInsufficientStock
	}
	p.StockQuantity -= qty
	return nil
}

func (m *memProducts) IncreaseStock(_ context.Context, _ db.DBTX, id string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failIncrease[id]; err != nil {
		return err
	}

	p, ok := m.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	p.StockQuantity += qty
	m.increases = append(m.increases, id)
	return nil
}

type memOrders struct {
	mu         sync.Mutex
	orders     map[string]*domain.Order
	createErr  error
	cancelErr  error
	sessionErr error

	// cancelFailures makes the next n cancellations fail.
	cancelFailures int
	getFailures    int
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]*domain.Order{}}
}

func (m *memOrders) get(id string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o == nil {
		return nil
	}
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memOrders) Create(_ context.Context, _ db.DBTX, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if err := order.Owner.Validate(); err != nil {
		return err
	}

	cp := *order
	cp.Lines = append([]domain.OrderLine(nil), order.Lines...)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.orders[order.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	if m.getFailures > 0 {
		m.getFailures--
		m.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	m.mu.Unlock()

	if o := m.get(id); o != nil {
		return o, nil
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memOrders) ListByOwner(_ context.Context, owner domain.Owner, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.Order
	for _, o := range m.orders {
		if o.OwnedBy(owner) {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, _ db.DBTX, id string, from, to domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == domain.OrderStatusCancelled {
		if m.cancelErr != nil {
			return false, m.cancelErr
		}
		if m.cancelFailures > 0 {
			m.cancelFailures--
			return false, errors.New("connection reset by peer")
		}
	}
	if !domain.CanTransition(from, to) {
		return false, domain.ErrInvalidTransition
	}

	o, ok := m.orders[id]
	if !ok {
		return false, repository.ErrOrderNotFound
	}
	switch o.Status {
	case from:
		o.Status = to
		return true, nil
	case to:
		return false, nil
	}
	return false, domain.ErrInvalidTransition
}

func (m *memOrders) SetPaymentSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionErr != nil {
		return m.sessionErr
	}
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.PaymentSessionID = &sessionID
	return nil
}

func (m *memOrders) MarkPaid(_ context.Context, _ db.DBTX, id, sessionID, intentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return false, repository.ErrOrderNotFound
	}
	switch o.Status {
	case domain.OrderStatusPending:
		o.Status = domain.OrderStatusPaid
		if sessionID != "" {
			o.PaymentSessionID = &sessionID
		}
		if intentID != "" {
			o.PaymentIntentID = &intentID
		}
		return true, nil
	case domain.OrderStatusPaid:
		return false, nil
	}
	return false, domain.ErrInvalidTransition
}

type memOutbox struct {
	mu     sync.Mutex
	events []*outbox.Event

	// failures makes the next n saves of an event type fail.
	failures map[string]int
}

func (m *memOutbox) failNext(eventType string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[eventType] = n
}

func (m *memOutbox) Save(_ context.Context, _ db.DBTX, e *outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures[e.EventType] > 0 {
		m.failures[e.EventType]--
		return errors.New("outbox insert failed")
	}
	for _, existing := range m.events {
		if existing.AggregateID == e.AggregateID && existing.EventType == e.EventType {
			return outbox.ErrDuplicateEvent
		}
	}

	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return nil
}

func (m *memOutbox) FetchUnpublished(context.Context, db.DBTX, int) ([]*outbox.Event, error) {
	return nil, nil
}

func (m *memOutbox) MarkPublished(context.Context, db.DBTX, int64) error { return nil }

func (m *memOutbox) MarkFailed(context.Context, db.DBTX, int64, string) error { return nil }

func (m *memOutbox) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []string
	for _, e := range m.events {
		result = append(result, e.EventType)
	}
	return result
}

type fakeProvider struct {
	mu            sync.Mutex
	configuredErr error
	createErr     error
	session       *Session
	requests      []SessionRequest
	verify        func(payload []byte, signature string) (*WebhookEvent, error)
}

func (p *fakeProvider) Configured() error { return p.configuredErr }

func (p *fakeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.createErr != nil {
		return nil, p.createErr
	}
	if p.session != nil {
		return p.session, nil
	}
	return &Session{ID: "cs_" + req.OrderID, URL: "https://pay.example/" + req.OrderID}, nil
}

func (p *fakeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return p.verify(payload, signature)
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *memDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return false, d.err
	}
	return d.seen[id], nil
}

func (d *memDedup) Remember(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}
