package domain

import (
	"context"
	"time"

	"github.com/quantele/crossarb/internal/book"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Ladder maps the order side to the book ladder it rests on: buys sit on
// the bid ladder, sells on the ask ladder.
func (s OrderSide) Ladder() book.Side {
	if s == OrderSideBuy {
		return book.SideBid
	}
	return book.SideAsk
}

// OrderType indicates how an order executes.
type OrderType string

const (
	// OrderTypeLimit rests on the book until matched or cancelled.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeImmediate executes against resting liquidity and never
	// rests (immediate-or-cancel).
	OrderTypeImmediate OrderType = "immediate"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is one of the system's orders on a venue.
type Order struct {
	ID         string // client-assigned uuid
	ExchangeID string // venue-assigned id, set once placed
	Venue      string
	Pair       Pair
	Side       OrderSide
	Type       OrderType
	Price      float64
	Volume     float64
	Filled     float64
	Status     OrderStatus
	Strategy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderRequest is the input to place a new order.
type OrderRequest struct {
	ClientID string // uuid assigned by the caller
	Venue    string
	Pair     Pair
	Side     OrderSide
	Type     OrderType
	Price    float64
	Volume   float64
	Strategy string
}

// OrderPlacer submits and cancels orders on one venue.
type OrderPlacer interface {
	Place(ctx context.Context, req OrderRequest) (Order, error)
	Cancel(ctx context.Context, exchangeID string) error
}

// OwnOrderSource reports the system's own active resting limit orders on a
// venue, the netting input for the stranger-liquidity computation.
type OwnOrderSource interface {
	ActiveOrders(ctx context.Context, venue string, pair Pair) (book.OwnOrderSet, error)
}
