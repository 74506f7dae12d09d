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

// Maker rests limit quotes on the local venue priced just inside the best
// stranger level: asks undercut by the configured decrement, bids outbid
// by the increment. A quote is only placed while unwinding the eventual
// fill at the counterpart's matching side still clears the cutoff rate.
// Resting quotes whose price has gone stale are cancelled and replaced.
type Maker struct {
	placer domain.OrderPlacer
	orders domain.OrderStore
	log    *slog.Logger
}

// NewMaker creates the market-making strategy. orders enables cancelling
// stale quotes; without it the strategy only quotes sides it has no
// resting order on.
func NewMaker(placer domain.OrderPlacer, orders domain.OrderStore, logger *slog.Logger) *Maker {
	return &Maker{
		placer: placer,
		orders: orders,
		log:    logger.With(slog.String("strategy", "market_making")),
	}
}

// Name returns the strategy identifier.
func (mk *Maker) Name() string { return "market_making" }

// Attempt prices a quote for one side off the local stranger best, checks
// it against the counterpart hedge, and places it unless one is already
// resting at that price.
func (mk *Maker) Attempt(ctx context.Context, side book.Side, m arbitrage.Market) (bool, error) {
	local, ok := bestOn(m.LocalStranger(), side)
	if !ok {
		return false, nil
	}
	remote, ok := bestOn(m.RemoteStranger(), side)
	if !ok {
		return false, nil
	}

	var price float64
	var orderSide domain.OrderSide
	switch side {
	case book.SideAsk:
		// Undercut the cheapest stranger ask; a fill is unwound by buying
		// at the counterpart's ask.
		price = local.Price - m.AskDecrement
		orderSide = domain.OrderSideSell
		if price <= 0 || price < remote.Price*m.CutoffRate {
			return false, nil
		}
		// Never cross the local bids; taking mispriced levels is the
		// taker's job.
		if bid, ok := m.LocalStranger().BestBid(); ok && price <= bid.Price {
			return false, nil
		}
	case book.SideBid:
		// Outbid the strongest stranger bid; a fill is unwound by selling
		// at the counterpart's bid.
		price = local.Price + m.BidIncrement
		orderSide = domain.OrderSideBuy
		if remote.Price < price*m.CutoffRate {
			return false, nil
		}
		if ask, ok := m.LocalStranger().BestAsk(); ok && price >= ask.Price {
			return false, nil
		}
	default:
		return false, fmt.Errorf("making: %w", book.ErrUnknownSide)
	}

	if m.Volume <= 0 {
		return false, nil
	}

	quoted, err := mk.reconcileQuotes(ctx, m, orderSide, price)
	if err != nil {
		return false, fmt.Errorf("making %s %s: %w", m.Pair, side, err)
	}
	if quoted {
		return false, nil
	}

	req := domain.OrderRequest{
		ClientID: uuid.NewString(),
		Venue:    m.LocalVenue,
		Pair:     m.Pair,
		Side:     orderSide,
		Type:     domain.OrderTypeLimit,
		Price:    price,
		Volume:   m.Volume,
		Strategy: mk.Name(),
	}
	placed, err := placeAndRecord(ctx, mk.placer, mk.orders, req)
	if err != nil {
		return false, fmt.Errorf("making %s %s: %w", m.Pair, side, err)
	}

	mk.log.InfoContext(ctx, "placed quote",
		slog.String("pair", m.Pair.String()),
		slog.String("side", side.String()),
		slog.String("order_side", string(orderSide)),
		slog.Float64("price", price),
		slog.Float64("volume", m.Volume),
		slog.Float64("counterpart_price", remote.Price),
		slog.String("exchange_id", placed.ExchangeID),
	)
	return true, nil
}

// reconcileQuotes cancels this strategy's resting quotes on one side that
// no longer sit at the wanted price and reports whether one already does.
// Without a store the own-order set decides and nothing is cancelled.
func (mk *Maker) reconcileQuotes(ctx context.Context, m arbitrage.Market, orderSide domain.OrderSide, price float64) (bool, error) {
	if mk.orders == nil {
		for _, o := range ownOn(m.LocalOwn, orderSide) {
			if samePrice(o.Price, price) {
				return true, nil
			}
		}
		return false, nil
	}

	active, err := mk.orders.ListActive(ctx, m.LocalVenue, m.Pair)
	if err != nil {
		return false, fmt.Errorf("list own quotes: %w", err)
	}

	quoted := false
	for _, ord := range active {
		if ord.Strategy != mk.Name() || ord.Side != orderSide {
			continue
		}
		if samePrice(ord.Price, price) {
			quoted = true
			continue
		}
		if ord.ExchangeID == "" {
			// Still in flight from a previous cycle; leave it alone.
			continue
		}
		if err := mk.placer.Cancel(ctx, ord.ExchangeID); err != nil {
			return false, fmt.Errorf("cancel stale quote %s: %w", ord.ExchangeID, err)
		}
		if err := mk.orders.UpdateStatus(ctx, ord.ID, domain.OrderStatusCancelled); err != nil {
			return false, fmt.Errorf("record cancel %s: %w", ord.ID, err)
		}
		mk.log.DebugContext(ctx, "cancelled stale quote",
			slog.String("pair", m.Pair.String()),
			slog.String("order_side", string(orderSide)),
			slog.Float64("old_price", ord.Price),
			slog.Float64("new_price", price),
		)
	}
	return quoted, nil
}

func ownOn(set book.OwnOrderSet, side domain.OrderSide) []book.OwnOrder {
	if side == domain.OrderSideSell {
		return set.Asks
	}
	return set.Bids
}

// samePrice compares quote prices with a tolerance far below any tick
// size, absorbing float drift from the offset arithmetic.
func samePrice(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

var _ arbitrage.Strategy = (*Maker)(nil)
