package domain

import (
	"errors"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const DefaultCurrency = "EUR"

var (
	ErrInvalidOwner      = errors.New("order owner must be exactly one of user id or guest email")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// Owner identifies who placed an order. Exactly one field is set.
type Owner struct {
	UserID     *int64
	GuestEmail string
}

func UserOwner(id int64) Owner {
	return Owner{UserID: &id}
}

func GuestOwner(email string) Owner {
	return Owner{GuestEmail: strings.ToLower(strings.TrimSpace(email))}
}

func (o Owner) Validate() error {
	hasUser := o.UserID != nil
	hasGuest := o.GuestEmail != ""
	if hasUser == hasGuest {
		return ErrInvalidOwner
	}
	return nil
}

func (o Owner) IsGuest() bool {
	return o.UserID == nil
}

type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderLine is the price/title snapshot taken at reservation time.
type OrderLine struct {
	ProductID string `db:"product_id" json:"productId"`
	Title     string `db:"title" json:"title"`
	UnitPrice int64  `db:"unit_price" json:"unitPrice"`
	Quantity  int64  `db:"quantity" json:"quantity"`
}

func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * l.Quantity
}

type Order struct {
	ID               string          `db:"id"`
	Owner            Owner           `db:"-"`
	Status           OrderStatus     `db:"status"`
	Currency         string          `db:"currency"`
	TotalAmount      int64           `db:"total_amount"`
	Lines            []OrderLine     `db:"-"`
	Shipping         ShippingAddress `db:"-"`
	PaymentSessionID *string         `db:"payment_session_id"`
	PaymentIntentID  *string         `db:"payment_intent_id"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (o *Order) CalculateTotal() {
	var total int64
	for _, line := range o.Lines {
		total += line.Subtotal()
	}
	o.TotalAmount = total
}

// Quantities returns the requested quantity per product id.
func (o *Order) Quantities() map[string]int64 {
	result := make(map[string]int64, len(o.Lines))
	for _, line := range o.Lines {
		result[line.ProductID] += line.Quantity
	}
	return result
}

func (o *Order) OwnedBy(owner Owner) bool {
	if owner.UserID != nil {
		return o.Owner.UserID != nil && *o.Owner.UserID == *owner.UserID
	}
	return owner.GuestEmail != "" && o.Owner.GuestEmail == owner.GuestEmail
}

// CanTransition allows pending->paid, pending->cancelled, paid->shipped.
// Same-status updates are accepted as no-ops.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}

	switch from {
	case OrderStatusPending:
		return to == OrderStatusPaid || to == OrderStatusCancelled
	case OrderStatusPaid:
		return to == OrderStatusShipped
	}

	return false
}
