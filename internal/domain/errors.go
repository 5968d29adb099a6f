package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrItemUnavailable       = errors.New("item is no longer available")
	ErrEmptyCart             = errors.New("cart is empty, nothing to checkout")
	ErrInvalidTransition     = errors.New("illegal transition of order status")
	ErrOrderNotPayable       = errors.New("order is not payable")
	ErrUnknownPaymentAttempt = errors.New("no payment attempt matches the provider reference")

	ErrOrderNotFound     = errors.New("order not found")
	ErrAlreadyPurchased  = errors.New("movie has already been purchased")
	ErrUnpaidOrderExists = errors.New("user already has an unpaid order")
	ErrForbidden         = errors.New("access to the order is forbidden")
	ErrProviderTimeout   = errors.New("payment provider did not answer in time")
)

// ItemUnavailableError names the movie that can no longer be bought.
type ItemUnavailableError struct {
	MovieID int64
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("movie %d is no longer available", e.MovieID)
}

func (e *ItemUnavailableError) Unwrap() error {
	return ErrItemUnavailable
}

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition of order status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
