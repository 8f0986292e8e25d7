package domain

import "time"

type Product struct {
	ID            string     `db:"id"`
	Title         string     `db:"title"`
	Price         int64      `db:"price"`
	StockQuantity int64      `db:"stock_quantity"`
	IsActive      bool       `db:"is_active"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"-"`
}

// Eligible reports whether the product can be sold right now.
func (p *Product) Eligible() bool {
	return p.IsActive && p.DeletedAt == nil
}
