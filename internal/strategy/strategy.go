// Package strategy implements the two tactics the orchestrator runs in
// priority order: market taking, which lifts mispriced local liquidity
// with immediate orders, and market making, which rests limit quotes on
// the local venue priced against the counterpart reference.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// bestOn returns the best stranger level on one side of a view.
func bestOn(v book.StrangerView, side book.Side) (book.PriceLevel, bool) {
	if side == book.SideAsk {
		return v.BestAsk()
	}
	return v.BestBid()
}

// placeAndRecord writes the order intent, submits it to the venue, then
// records the venue's answer. A nil store skips bookkeeping. When the
// venue rejects the order the stored row is marked failed and the error is
// returned; a row whose placement succeeded but whose bookkeeping failed
// still nets against future cycles through the pending status.
func placeAndRecord(ctx context.Context, placer domain.OrderPlacer, store domain.OrderStore, req domain.OrderRequest) (domain.Order, error) {
	if store != nil {
		pending := domain.Order{
			ID:        req.ClientID,
			Venue:     req.Venue,
			Pair:      req.Pair,
			Side:      req.Side,
			Type:      req.Type,
			Price:     req.Price,
			Volume:    req.Volume,
			Status:    domain.OrderStatusPending,
			Strategy:  req.Strategy,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.Create(ctx, pending); err != nil {
			return domain.Order{}, fmt.Errorf("record order: %w", err)
		}
	}

	placed, err := placer.Place(ctx, req)
	if err != nil {
		if store != nil {
			_ = store.UpdateStatus(ctx, req.ClientID, domain.OrderStatusFailed)
		}
		return domain.Order{}, err
	}

	if store != nil {
		if err := store.MarkPlaced(ctx, req.ClientID, placed.ExchangeID); err != nil {
			return placed, fmt.Errorf("mark placed %s: %w", req.ClientID, err)
		}
		if placed.Status == domain.OrderStatusFilled {
			if err := store.UpdateStatus(ctx, req.ClientID, placed.Status); err != nil {
				return placed, fmt.Errorf("record fill %s: %w", req.ClientID, err)
			}
		}
	}
	return placed, nil
}
