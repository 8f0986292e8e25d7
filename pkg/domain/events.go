package domain

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderCancelled = "OrderCancelled"

	AggregateOrder = "order"
)

type OrderItem struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderID     string      `json:"order_id"`
	UserID      *int64      `json:"user_id,omitempty"`
	Email       string      `json:"email"`
	Currency    string      `json:"currency"`
	TotalAmount int64       `json:"total_amount"`
	Items       []OrderItem `json:"items"`
}

type OrderPaidEvent struct {
	OrderID         string `json:"order_id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	Currency        string `json:"currency"`
	TotalAmount     int64  `json:"total_amount"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

type OrderCancelledEvent struct {
	OrderID string      `json:"order_id"`
	Email   string      `json:"email"`
	Reason  string      `json:"reason"`
	Items   []OrderItem `json:"items"`
}
