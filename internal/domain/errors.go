package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidPricing     = errors.New("invalid pricing")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAccessDenied       = errors.New("access denied")
	ErrAlreadyCancelled   = errors.New("order already cancelled")
	ErrConcurrentUpdate   = errors.New("order was modified concurrently")
	ErrInvalidInput       = errors.New("invalid input")
)

// ErrReturnWindowExpired is an ErrInvalidTransition: the move to returned is
// in the table but no longer allowed for this order.
var ErrReturnWindowExpired = fmt.Errorf("%w: return window expired", ErrInvalidTransition)

func transitionError(from, to OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
