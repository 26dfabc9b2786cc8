package service

import (
	"context"
	"sync"

	"storefront/internal/cart"
	"storefront/internal/models"
)

// CheckoutStatus is the step a session's checkout is at
type CheckoutStatus string

const (
	CheckoutEditing    CheckoutStatus = "editing"
	CheckoutSubmitting CheckoutStatus = "submitting"
	CheckoutConfirmed  CheckoutStatus = "confirmed"
	CheckoutFailed     CheckoutStatus = "failed"
)

// CheckoutState is a snapshot of a checkout
type CheckoutState struct {
	Status  CheckoutStatus `json:"status"`
	OrderID string         `json:"order_id,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Submitter submits a cart as an order
type Submitter interface {
	SubmitOrder(ctx context.Context, sessionID string, customer models.Customer, c *cart.Store, idempotencyKey string) (*SubmitOrderResponse, error)
}

// Checkout tracks one session's checkout:
//
//	editing -> submitting -> confirmed(orderID)
//	                      -> failed(err) -> submitting ...
//
// confirmed is terminal until Reset starts a new checkout.
type Checkout struct {
	sessionID string

	mu    sync.Mutex
	state CheckoutState
}

// NewCheckout creates a checkout in the editing state for a session
func NewCheckout(sessionID string) *Checkout {
	return &Checkout{
		sessionID: sessionID,
		state:     CheckoutState{Status: CheckoutEditing},
	}
}

// State returns the current checkout state
func (c *Checkout) State() CheckoutState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit runs one submission through submitter. It is rejected while another
// submission is running or after the checkout was confirmed.
func (c *Checkout) Submit(
	ctx context.Context,
	submitter Submitter,
	customer models.Customer,
	items *cart.Store,
	idempotencyKey string,
) (*SubmitOrderResponse, error) {
	c.mu.Lock()
	switch c.state.Status {
	case CheckoutSubmitting:
		c.mu.Unlock()
		return nil, ErrCheckoutInProgress
	case CheckoutConfirmed:
		c.mu.Unlock()
		return nil, ErrCheckoutConfirmed
	}
	c.state = CheckoutState{Status: CheckoutSubmitting}
	c.mu.Unlock()

	resp, err := submitter.SubmitOrder(ctx, c.sessionID, customer, items, idempotencyKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = CheckoutState{Status: CheckoutFailed, Error: err.Error()}
		return nil, err
	}
	c.state = CheckoutState{Status: CheckoutConfirmed, OrderID: resp.OrderID}
	return resp, nil
}

// Reset returns a confirmed or failed checkout to editing
func (c *Checkout) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == CheckoutSubmitting {
		return ErrCheckoutInProgress
	}
	c.state = CheckoutState{Status: CheckoutEditing}
	return nil
}
