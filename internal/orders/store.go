package orders

import (
	"context"
	"time"
)

// Catalog is the read-only product lookup used by checkout.
type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]Product, error)
}

// Store persists orders. Create is the only operation that touches stock:
// it decrements every line conditionally in the same unit of work that
// inserts the order, so concurrent checkouts cannot oversell.
type Store interface {
	Create(ctx context.Context, o *Order) error
	ByNumber(ctx context.Context, number string) (*Order, error)
	ByID(ctx context.Context, id string) (*Order, error)
	ListByBuyer(ctx context.Context, q ListQuery) (Page, error)
	AttachSession(ctx context.Context, id, sessionID string) error
	// Transition moves the order from -> to only if it is still in from.
	Transition(ctx context.Context, id string, from, to State, opts TransitionOpts) (*Order, error)
	// Override overwrites the status fields unconditionally and records an
	// audit entry. It returns the updated order and its previous state.
	Override(ctx context.Context, number string, ov Override) (*Order, State, error)
	PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}
