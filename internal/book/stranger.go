package book

// OwnOrder is one of the system's own resting limit orders, as reported by
// the order-management collaborator.
type OwnOrder struct {
	Price  float64
	Volume float64
}

// OwnOrderSet is a point-in-time snapshot of the system's own active
// resting orders on one venue, grouped by side. It is a plain value: the
// order book never stores or owns it.
type OwnOrderSet struct {
	Asks []OwnOrder
	Bids []OwnOrder
}

// Empty reports whether the set holds no orders on either side.
func (s OwnOrderSet) Empty() bool {
	return len(s.Asks) == 0 && len(s.Bids) == 0
}

func (s OwnOrderSet) bySide(side Side) []OwnOrder {
	if side == SideAsk {
		return s.Asks
	}
	return s.Bids
}

// StrangerLevels nets the system's own resting orders out of a ladder,
// leaving only the liquidity contributed by other market participants.
//
// For each level, the summed own volume resting at the same price is
// subtracted; a level whose remainder is zero or negative is dropped
// entirely, not kept at zero. Prices are untouched, so the surviving
// levels keep the ladder's sort order without re-sorting. With no own
// orders the ladder is returned as is.
//
// Venues echo the system's own orders back inside the public depth feed;
// without this adjustment the system would read its own resting volume as
// market liquidity and chase spreads that exist only against itself.
func StrangerLevels(ladder []PriceLevel, own []OwnOrder) []PriceLevel {
	if len(own) == 0 {
		return ladder
	}

	owned := make(map[float64]float64, len(own))
	for _, o := range own {
		owned[o.Price] += o.Volume
	}

	out := make([]PriceLevel, 0, len(ladder))
	for _, lv := range ladder {
		v, ok := owned[lv.Price]
		if !ok {
			out = append(out, lv)
			continue
		}
		if rest := lv.Volume - v; rest > 0 {
			lv.Volume = rest
			out = append(out, lv)
		}
	}
	return out
}

// StrangerView is a read-only projection of an order book with the
// system's own resting orders netted out. It never mutates the underlying
// book; every query recomputes from the book's current ladders.
type StrangerView struct {
	book *OrderBook
	own  OwnOrderSet
}

// NewStrangerView builds a view of b net of the given own orders.
func NewStrangerView(b *OrderBook, own OwnOrderSet) StrangerView {
	return StrangerView{book: b, own: own}
}

// Levels returns one side's ladder with own orders netted out.
func (v StrangerView) Levels(side Side) ([]PriceLevel, error) {
	ladder, err := v.book.Levels(side)
	if err != nil {
		return nil, err
	}
	return StrangerLevels(ladder, v.own.bySide(side)), nil
}

// BestAsk returns the lowest ask available from other participants.
func (v StrangerView) BestAsk() (PriceLevel, bool) { return v.best(SideAsk) }

// BestBid returns the highest bid available from other participants.
func (v StrangerView) BestBid() (PriceLevel, bool) { return v.best(SideBid) }

func (v StrangerView) best(side Side) (PriceLevel, bool) {
	levels, err := v.Levels(side)
	if err != nil || len(levels) == 0 {
		return PriceLevel{}, false
	}
	return levels[0], true
}
