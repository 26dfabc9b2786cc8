package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product record served by the catalog
type Product struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Rating      Rating          `json:"rating"`
}

// Rating is the catalog's average score and vote count
type Rating struct {
	Rate  float64 `json:"rate"`
	Count int     `json:"count"`
}

// CartLineItem is one product entry in a cart, snapshotted at add time
type CartLineItem struct {
	ID       int64           `db:"product_id" json:"id"`
	Title    string          `db:"title" json:"title"`
	Price    decimal.Decimal `db:"price" json:"price"`
	Image    string          `db:"image" json:"image"`
	Quantity int             `db:"quantity" json:"quantity"`
}

// LineTotal returns price times quantity
func (i CartLineItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Customer holds the checkout contact and shipping fields
type Customer struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone" binding:"required"`
	Address string `json:"address" binding:"required"`
	City    string `json:"city" binding:"required"`
	ZipCode string `json:"zipCode" binding:"required"`
}

// Order is a submitted checkout. ID and CreatedAt are assigned by the order store.
type Order struct {
	ID         string          `json:"id"`
	Customer   Customer        `json:"customer"`
	Items      []CartLineItem  `json:"items"`
	TotalItems int             `json:"totalItems"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Order statuses
const (
	OrderStatusPending = "pending"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
