package exchange

import (
	"fmt"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// --------------------------------------------------------------------------
// Venue API DTOs
// --------------------------------------------------------------------------

// bookDTO is the orderbook payload returned by GET /api/v1/orderbook.
// Levels are [price, volume, timestamp] triples, best level first.
type bookDTO struct {
	Asks      [][3]float64 `json:"asks"`
	Bids      [][3]float64 `json:"bids"`
	UpdatedAt string       `json:"updated_at"`
}

// levels converts one DTO side to book levels, preserving order.
func levels(triples [][3]float64) []book.PriceLevel {
	out := make([]book.PriceLevel, len(triples))
	for i, t := range triples {
		out[i] = book.PriceLevel{Price: t[0], Volume: t[1], Timestamp: int64(t[2])}
	}
	return out
}

// orderRequestDTO is the body of POST /api/v1/orders.
type orderRequestDTO struct {
	ClientID string  `json:"client_id"`
	Pair     string  `json:"pair"`
	Side     string  `json:"side"`  // "buy" or "sell"
	Type     string  `json:"type"`  // "limit" or "immediate"
	Price    float64 `json:"price"` // required for limit orders
	Volume   float64 `json:"volume"`
}

// orderDTO is an order as returned by the venue API.
type orderDTO struct {
	ID        string  `json:"id"`
	ClientID  string  `json:"client_id"`
	Pair      string  `json:"pair"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Filled    float64 `json:"filled"`
	Status    string  `json:"status"` // "pending", "open", "filled", "cancelled", "failed"
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// toDomain converts a venue order DTO into the domain representation. The
// venue reports pairs in the BASE/QUOTE form used everywhere else.
func (o orderDTO) toDomain(venue string) (domain.Order, error) {
	pair, err := domain.ParsePair(o.Pair)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", o.ID, err)
	}

	out := domain.Order{
		ID:         o.ClientID,
		ExchangeID: o.ID,
		Venue:      venue,
		Pair:       pair,
		Side:       domain.OrderSide(o.Side),
		Type:       domain.OrderType(o.Type),
		Price:      o.Price,
		Volume:     o.Volume,
		Filled:     o.Filled,
		Status:     domain.OrderStatus(o.Status),
	}
	if o.CreatedAt != "" {
		out.CreatedAt, _ = time.Parse(time.RFC3339Nano, o.CreatedAt)
	}
	if o.UpdatedAt != "" {
		out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, o.UpdatedAt)
	}
	return out, nil
}

// errorResponse is the venue API error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
