package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID              string          `db:"id"`
	CustomerName    string          `db:"customer_name"`
	CustomerEmail   string          `db:"customer_email"`
	CustomerPhone   string          `db:"customer_phone"`
	CustomerAddress string          `db:"customer_address"`
	CustomerCity    string          `db:"customer_city"`
	CustomerZip     string          `db:"customer_zip"`
	TotalItems      int             `db:"total_items"`
	TotalPrice      decimal.Decimal `db:"total_price"`
	Status          string          `db:"status"`
	CreatedAt       time.Time       `db:"created_at"`
}

func (r orderRow) toModel(items []models.CartLineItem) *models.Order {
	return &models.Order{
		ID: r.ID,
		Customer: models.Customer{
			Name:    r.CustomerName,
			Email:   r.CustomerEmail,
			Phone:   r.CustomerPhone,
			Address: r.CustomerAddress,
			City:    r.CustomerCity,
			ZipCode: r.CustomerZip,
		},
		Items:      items,
		TotalItems: r.TotalItems,
		TotalPrice: r.TotalPrice,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}
}

// CreateOrder writes the order and its line items in one transaction. The id
// and creation time are assigned by the database.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (customer_name, customer_email, customer_phone, customer_address,
			customer_city, customer_zip, total_items, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	var inserted struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	c := order.Customer
	err = tx.GetContext(ctx, &inserted, query,
		c.Name, c.Email, c.Phone, c.Address, c.City, c.ZipCode,
		order.TotalItems, order.TotalPrice, order.Status)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, title, price, image, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			inserted.ID, i, item.ID, item.Title, item.Price, item.Image, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}

	order.ID = inserted.ID
	order.CreatedAt = inserted.CreatedAt
	return nil
}

// GetOrderByID retrieves an order and its items
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}

	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	var items []models.CartLineItem
	err = s.db.SelectContext(ctx, &items, `
		SELECT product_id, title, price, image, quantity
		FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}

	return row.toModel(items), nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
