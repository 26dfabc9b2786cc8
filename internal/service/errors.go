package service

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart is returned when checkout is attempted with no line items
	ErrEmptyCart = errors.New("cannot submit an empty cart")
	// ErrCheckoutInProgress is returned when a submission is already running
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrCheckoutConfirmed is returned when the checkout already produced an order
	ErrCheckoutConfirmed = errors.New("checkout already confirmed")
)

// PersistenceError is returned when the order store rejected the write. The
// cart is left as it was so the submission can be retried.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist order: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
