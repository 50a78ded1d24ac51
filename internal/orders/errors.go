package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrUnauthenticated     = errors.New("buyer identity required")
	ErrForbidden           = errors.New("permission denied")
	ErrMissingParams       = errors.New("session id and order id are required")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrSessionMismatch     = errors.New("session does not belong to order")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrStateConflict       = errors.New("order state changed concurrently")
	ErrInvalidStatus       = errors.New("invalid status value")
	ErrInvalidMethod       = errors.New("invalid payment method")
)

// Reasons carried by UnavailableError.
const (
	ReasonNotFound          = "not found"
	ReasonInactive          = "not available for sale"
	ReasonOutOfStock        = "out of stock"
	ReasonInsufficientStock = "insufficient stock"
)

// UnavailableError rejects a whole submission because one line cannot be sold.
type UnavailableError struct {
	ProductID string
	Name      string
	Reason    string
	Requested int
	Available int
}

func (e *UnavailableError) Error() string {
	label := e.Name
	if label == "" {
		label = e.ProductID
	}
	if e.Reason == ReasonInsufficientStock {
		return fmt.Sprintf("product %q: %s (requested %d, available %d)", label, e.Reason, e.Requested, e.Available)
	}
	return fmt.Sprintf("product %q: %s", label, e.Reason)
}

// GatewayError wraps a failure reported by the external payment provider.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return "payment gateway: " + e.Op + ": " + e.Err.Error() }

func (e *GatewayError) Unwrap() error { return e.Err }
