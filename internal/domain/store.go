package domain

import "context"

// OrderStore persists the system's own orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	// MarkPlaced records the venue-assigned id and moves the order to open.
	MarkPlaced(ctx context.Context, id, exchangeID string) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	// ListActive returns resting limit orders (status pending or open) for
	// one venue and pair.
	ListActive(ctx context.Context, venue string, pair Pair) ([]Order, error)
}

// DecisionStore persists cycle decisions for the HTTP API and later
// analysis.
type DecisionStore interface {
	Insert(ctx context.Context, d Decision) error
	ListRecent(ctx context.Context, limit int) ([]Decision, error)
}
