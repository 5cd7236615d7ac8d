package domain

import "errors"

// Error kinds surfaced by the order store and confirmation engine. Handlers
// map these to HTTP statuses with errors.Is; anything else is internal.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrLineNotFound      = errors.New("order line not found")
	ErrStateConflict     = errors.New("operation not allowed in current order state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductInactive   = errors.New("product is inactive")
	ErrEmptyOrder        = errors.New("order has no lines")

	// ErrContention means a row lock could not be acquired within the
	// bounded wait. Transient; callers may retry.
	ErrContention = errors.New("lock contention")
)
