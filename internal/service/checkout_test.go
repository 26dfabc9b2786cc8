package service

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/cart"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_Confirmed(t *testing.T) {
	checkout := NewCheckout("session-a")
	assert.Equal(t, CheckoutEditing, checkout.State().Status)

	submitter := &stubSubmitter{resp: &SubmitOrderResponse{OrderID: "order-9"}}
	resp, err := checkout.Submit(context.Background(), submitter, customer, cart.NewStore(), "")
	require.NoError(t, err)
	assert.Equal(t, "order-9", resp.OrderID)

	state := checkout.State()
	assert.Equal(t, CheckoutConfirmed, state.Status)
	assert.Equal(t, "order-9", state.OrderID)

	_, err = checkout.Submit(context.Background(), submitter, customer, cart.NewStore(), "")
	assert.ErrorIs(t, err, ErrCheckoutConfirmed)
	assert.Equal(t, "order-9", checkout.State().OrderID)
}

func TestCheckout_FailedThenRetry(t *testing.T) {
	checkout := NewCheckout("session-a")

	failing := &stubSubmitter{err: &PersistenceError{Err: errStoreDown}}
	_, err := checkout.Submit(context.Background(), failing, customer, cart.NewStore(), "")
	require.Error(t, err)

	state := checkout.State()
	assert.Equal(t, CheckoutFailed, state.Status)
	assert.Contains(t, state.Error, "connection refused")

	ok := &stubSubmitter{resp: &SubmitOrderResponse{OrderID: "order-2"}}
	_, err = checkout.Submit(context.Background(), ok, customer, cart.NewStore(), "")
	require.NoError(t, err)
	assert.Equal(t, CheckoutConfirmed, checkout.State().Status)
}

func TestCheckout_RejectsConcurrentSubmit(t *testing.T) {
	checkout := NewCheckout("session-a")
	slow := &stubSubmitter{
		resp:    &SubmitOrderResponse{OrderID: "order-1"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	done := make(chan error, 1)
	go func() {
		_, err := checkout.Submit(context.Background(), slow, customer, cart.NewStore(), "")
		done <- err
	}()
	<-slow.started

	assert.Equal(t, CheckoutSubmitting, checkout.State().Status)
	_, err := checkout.Submit(context.Background(), slow, customer, cart.NewStore(), "")
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.ErrorIs(t, checkout.Reset(), ErrCheckoutInProgress)

	close(slow.release)
	require.NoError(t, <-done)
	assert.Equal(t, CheckoutConfirmed, checkout.State().Status)
}

func TestCheckout_Reset(t *testing.T) {
	checkout := NewCheckout("session-a")
	submitter := &stubSubmitter{resp: &SubmitOrderResponse{OrderID: "order-1"}}
	_, err := checkout.Submit(context.Background(), submitter, customer, cart.NewStore(), "")
	require.NoError(t, err)

	require.NoError(t, checkout.Reset())
	assert.Equal(t, CheckoutState{Status: CheckoutEditing}, checkout.State())
}

func TestCheckout_EmptyCartThroughOrderService(t *testing.T) {
	writer := &fakeOrderWriter{}
	svc := NewOrderService(writer, nil, nil, 0)
	checkout := NewCheckout("session-a")

	_, err := checkout.Submit(context.Background(), svc, customer, cart.NewStore(), "")
	assert.True(t, errors.Is(err, ErrEmptyCart))
	assert.Equal(t, CheckoutFailed, checkout.State().Status)
	assert.Zero(t, writer.calls)
}
