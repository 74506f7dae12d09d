package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/quantele/crossarb/internal/arbitrage"
	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// Taker lifts local liquidity that has drifted out of line with the
// counterpart venue. On the ask side it buys local asks priced below the
// counterpart's (the sibling process on the counterpart unwinds near its
// own price); on the bid side it sells into local bids priced above. The
// order is immediate and sized to the thinner of the configured volume
// and the level on offer.
type Taker struct {
	placer domain.OrderPlacer
	orders domain.OrderStore
	log    *slog.Logger
}

// NewTaker creates the market-taking strategy. orders may be nil to skip
// bookkeeping.
func NewTaker(placer domain.OrderPlacer, orders domain.OrderStore, logger *slog.Logger) *Taker {
	return &Taker{
		placer: placer,
		orders: orders,
		log:    logger.With(slog.String("strategy", "market_taking")),
	}
}

// Name returns the strategy identifier.
func (t *Taker) Name() string { return "market_taking" }

// Attempt compares the best stranger level on one side across both venues
// and takes the local level when the price ratio clears the cutoff.
func (t *Taker) Attempt(ctx context.Context, side book.Side, m arbitrage.Market) (bool, error) {
	local, ok := bestOn(m.LocalStranger(), side)
	if !ok {
		return false, nil
	}
	remote, ok := bestOn(m.RemoteStranger(), side)
	if !ok {
		return false, nil
	}

	var ratio float64
	var orderSide domain.OrderSide
	switch side {
	case book.SideAsk:
		// Local asks cheap relative to the counterpart: buy them.
		ratio = remote.Price / local.Price
		orderSide = domain.OrderSideBuy
	case book.SideBid:
		// Local bids rich relative to the counterpart: sell into them.
		ratio = local.Price / remote.Price
		orderSide = domain.OrderSideSell
	default:
		return false, fmt.Errorf("taking: %w", book.ErrUnknownSide)
	}

	if ratio < m.CutoffRate {
		return false, nil
	}

	volume := math.Min(m.Volume, local.Volume)
	if volume <= 0 {
		return false, nil
	}

	req := domain.OrderRequest{
		ClientID: uuid.NewString(),
		Venue:    m.LocalVenue,
		Pair:     m.Pair,
		Side:     orderSide,
		Type:     domain.OrderTypeImmediate,
		Price:    local.Price,
		Volume:   volume,
		Strategy: t.Name(),
	}
	placed, err := placeAndRecord(ctx, t.placer, t.orders, req)
	if err != nil {
		return false, fmt.Errorf("taking %s %s: %w", m.Pair, side, err)
	}

	t.log.InfoContext(ctx, "took local liquidity",
		slog.String("pair", m.Pair.String()),
		slog.String("side", side.String()),
		slog.String("order_side", string(orderSide)),
		slog.Float64("price", local.Price),
		slog.Float64("volume", volume),
		slog.Float64("ratio", ratio),
		slog.Float64("counterpart_price", remote.Price),
		slog.String("exchange_id", placed.ExchangeID),
	)
	return true, nil
}

var _ arbitrage.Strategy = (*Taker)(nil)
