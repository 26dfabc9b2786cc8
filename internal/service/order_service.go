package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const submitLockTTL = 30 * time.Second

// OrderWriter persists orders, assigning ID and CreatedAt, and reads them back
type OrderWriter interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
}

// OrderPublisher announces persisted orders
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// IdempotencyStore maps client idempotency keys to order ids
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (bool, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// OrderService turns a cart into a persisted order
type OrderService struct {
	orders         OrderWriter
	publisher      OrderPublisher
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service. publisher and idempotency may be nil.
func NewOrderService(
	orders OrderWriter,
	publisher OrderPublisher,
	idempotency IdempotencyStore,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		orders:         orders,
		publisher:      publisher,
		idempotency:    idempotency,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// SubmitOrderResponse represents the response after submitting an order
type SubmitOrderResponse struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
	Replayed   bool            `json:"replayed,omitempty"`
}

// SubmitOrder persists the contents of c as a pending order for customer and
// takes the ordered lines out of c once the write succeeded. An empty cart is
// rejected without touching the order store. When the write fails the cart is
// left intact.
//
// A non-empty idempotencyKey makes resubmissions from the same session with
// the same key return the order created by the first one. Keys never match
// across sessions.
func (s *OrderService) SubmitOrder(
	ctx context.Context,
	sessionID string,
	customer models.Customer,
	c *cart.Store,
	idempotencyKey string,
) (*SubmitOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SubmitOrder")
	defer span.End()

	scopedKey := ""
	if idempotencyKey != "" && s.idempotency != nil {
		scopedKey = sessionScopedKey(sessionID, idempotencyKey)

		if orderID := s.lookupIdempotencyKey(ctx, scopedKey); orderID != "" {
			return s.replay(ctx, orderID, idempotencyKey)
		}

		release, err := s.lock(ctx, scopedKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	snapshot := c.Snapshot()
	if snapshot.IsEmpty() {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}

	order := &models.Order{
		Customer:   customer,
		Items:      snapshot.Items,
		TotalItems: snapshot.TotalItems,
		TotalPrice: snapshot.TotalPrice,
		Status:     models.OrderStatusPending,
	}

	start := time.Now()
	err := s.orders.CreateOrder(ctx, order)
	util.OrderPersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("persistence").Inc()
		util.RecordError(span, err)
		s.logger.Error("Failed to persist order", zap.Error(err))
		return nil, &PersistenceError{Err: err}
	}

	util.OrdersSubmittedTotal.Inc()
	s.logger.Info("Order submitted",
		zap.String("order_id", order.ID),
		zap.Int("total_items", order.TotalItems),
		zap.String("total_price", order.TotalPrice.String()))

	if scopedKey != "" {
		if _, err := s.idempotency.SetIdempotencyKey(ctx, scopedKey, order.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
		}
	}

	c.RemoveOrdered(snapshot.Items)

	s.publishOrderPlaced(ctx, order)

	return &SubmitOrderResponse{
		OrderID:    order.ID,
		Status:     order.Status,
		TotalItems: order.TotalItems,
		TotalPrice: order.TotalPrice,
		CreatedAt:  order.CreatedAt,
	}, nil
}

// replay answers a resubmission with the order its key already produced. The
// cart is left alone: the first submission took the ordered lines out.
func (s *OrderService) replay(ctx context.Context, orderID, idempotencyKey string) (*SubmitOrderResponse, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to read back replayed order",
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil, &PersistenceError{Err: fmt.Errorf("failed to read order %s: %w", orderID, err)}
	}

	util.OrdersReplayedTotal.Inc()
	s.logger.Info("Duplicate order submission detected",
		zap.String("idempotency_key", idempotencyKey),
		zap.String("order_id", orderID))

	return &SubmitOrderResponse{
		OrderID:    order.ID,
		Status:     order.Status,
		TotalItems: order.TotalItems,
		TotalPrice: order.TotalPrice,
		CreatedAt:  order.CreatedAt,
		Replayed:   true,
	}, nil
}

func sessionScopedKey(sessionID, key string) string {
	return sessionID + ":" + key
}

// lookupIdempotencyKey returns "" when the key is unknown or redis is unavailable
func (s *OrderService) lookupIdempotencyKey(ctx context.Context, key string) string {
	orderID, err := s.idempotency.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, continuing without it",
			zap.String("idempotency_key", key),
			zap.Error(err))
		return ""
	}
	return orderID
}

// lock serialises submissions sharing an idempotency key across instances
func (s *OrderService) lock(ctx context.Context, key string) (func(), error) {
	lockKey := "checkout:" + key

	acquired, err := s.idempotency.AcquireLock(ctx, lockKey, submitLockTTL)
	if err != nil {
		s.logger.Warn("Failed to acquire submission lock, continuing without it",
			zap.String("idempotency_key", key),
			zap.Error(err))
		return func() {}, nil
	}
	if !acquired {
		return nil, ErrCheckoutInProgress
	}

	return func() {
		if err := s.idempotency.ReleaseLock(context.Background(), lockKey); err != nil {
			s.logger.Warn("Failed to release submission lock", zap.Error(err))
		}
	}, nil
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}

	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		Email:      order.Customer.Email,
		TotalItems: order.TotalItems,
		TotalPrice: order.TotalPrice,
		Items:      items,
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}
