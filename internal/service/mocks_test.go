package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
)

type fakeOrderWriter struct {
	mu     sync.Mutex
	calls  int
	orders []*models.Order
	err    error
	// duringWrite runs inside CreateOrder before the order is stored
	duringWrite func()
}

func (f *fakeOrderWriter) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.duringWrite != nil {
		f.duringWrite()
	}
	if f.err != nil {
		return f.err
	}
	order.ID = "order-" + string(rune('0'+len(f.orders)+1))
	order.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.orders = append(f.orders, order)
	return nil
}

func (f *fakeOrderWriter) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.ID == id {
			return order, nil
		}
	}
	return nil, errOrderMissing
}

type fakePublisher struct {
	events []*models.OrderPlacedEvent
	err    error
}

func (f *fakePublisher) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	f.events = append(f.events, event)
	return f.err
}

type fakeIdempotency struct {
	keys  map[string]string
	locks map[string]bool
	err   error
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]string{}, locks: map[string]bool{}}
}

func (f *fakeIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.keys[key], nil
}

func (f *fakeIdempotency) SetIdempotencyKey(_ context.Context, key, orderID string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = orderID
	return true, nil
}

func (f *fakeIdempotency) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}

func (f *fakeIdempotency) ReleaseLock(_ context.Context, key string) error {
	delete(f.locks, key)
	return nil
}

type stubSubmitter struct {
	resp    *SubmitOrderResponse
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubSubmitter) SubmitOrder(context.Context, string, models.Customer, *cart.Store, string) (*SubmitOrderResponse, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.resp, s.err
}

var (
	errStoreDown    = errors.New("connection refused")
	errOrderMissing = errors.New("order not found")
)
