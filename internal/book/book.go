// Package book maintains a local mirror of one venue's order book for a
// single currency pair: two price-sorted ladders built from incremental
// level updates and full snapshot fills, plus the derived view that nets
// the system's own resting orders out of the market depth.
package book

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnknownSide reports a side tag outside ask/bid. Operations return it
// before touching any ladder state.
var ErrUnknownSide = errors.New("unknown side")

// Side selects one ladder of an order book.
type Side uint8

const (
	// SideAsk is the sell side; its ladder is sorted ascending by price.
	SideAsk Side = iota + 1
	// SideBid is the buy side; its ladder is sorted descending by price.
	SideBid
)

// String returns the canonical side name.
func (s Side) String() string {
	switch s {
	case SideAsk:
		return "ask"
	case SideBid:
		return "bid"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide maps a wire side name to its Side tag. Both singular and plural
// forms are accepted ("ask"/"asks", "bid"/"bids").
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ask", "asks":
		return SideAsk, nil
	case "bid", "bids":
		return SideBid, nil
	default:
		return 0, fmt.Errorf("book: parse side %q: %w", s, ErrUnknownSide)
	}
}

// valid reports whether s is one of the two recognised ladder tags.
func (s Side) valid() bool {
	return s == SideAsk || s == SideBid
}

// PriceLevel is one aggregated price point on a ladder. Timestamp is the
// venue's event time for the level, epoch milliseconds or a venue sequence
// number, and is only ever compared numerically. A zero Volume is the wire
// sentinel for "remove this level" and is never stored.
type PriceLevel struct {
	Price     float64
	Volume    float64
	Timestamp int64
}

// OrderBook mirrors one venue's book for a single currency pair. Both
// ladders hold at most one level per price and stay sorted after every
// mutation, so best-of-ladder reads never sort. Methods are safe for one
// writer and many concurrent readers; callers that need a whole
// apply-then-decide cycle to be atomic must serialise at their own level.
type OrderBook struct {
	venue string
	pair  string

	mu            sync.RWMutex
	asks          []PriceLevel
	bids          []PriceLevel
	lastUpdatedAt time.Time
}

// New returns an empty book for the given venue and currency pair ISO code.
func New(venue, pair string) *OrderBook {
	return &OrderBook{venue: venue, pair: pair}
}

// Venue returns the venue this book mirrors.
func (b *OrderBook) Venue() string { return b.venue }

// Pair returns the currency pair ISO code this book mirrors.
func (b *OrderBook) Pair() string { return b.pair }

// ApplyUpdate applies one incremental level update to the given side.
//
// A zero-volume entry removes the stored level at that price, but only when
// the stored level's timestamp is strictly older than the entry's: a
// removal that is older than the stored state is a stale, out-of-order
// message and is ignored so it cannot undo a newer update. A non-zero entry
// overwrites the level in place when the price is already present, and is
// inserted in sort position otherwise. lastUpdatedAt advances only when a
// ladder actually changed.
func (b *OrderBook) ApplyUpdate(side Side, entry PriceLevel) error {
	if !side.valid() {
		return fmt.Errorf("book: apply update: %w", ErrUnknownSide)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ladder := b.ladder(side)
	i, found := locate(*ladder, entry.Price, side)

	if entry.Volume == 0 {
		if !found || (*ladder)[i].Timestamp >= entry.Timestamp {
			return nil
		}
		*ladder = append((*ladder)[:i], (*ladder)[i+1:]...)
		b.lastUpdatedAt = time.Now()
		return nil
	}

	if found {
		(*ladder)[i].Volume = entry.Volume
		(*ladder)[i].Timestamp = entry.Timestamp
		b.lastUpdatedAt = time.Now()
		return nil
	}

	*ladder = append(*ladder, PriceLevel{})
	copy((*ladder)[i+1:], (*ladder)[i:])
	(*ladder)[i] = entry
	b.lastUpdatedAt = time.Now()
	return nil
}

// Fill replaces one side's ladder with a full snapshot, re-sorted per the
// side's ordering rule. Entries with a non-positive price or volume are
// dropped; duplicate prices collapse to the entry with the newest
// timestamp.
func (b *OrderBook) Fill(side Side, levels []PriceLevel) error {
	return b.FillAt(side, levels, time.Now())
}

// FillAt is Fill with an explicit mutation time. Callers that rebuild a
// book from stored data (a shared-cache read, an archive restore) pass the
// time the data was actually produced, so the freshness check judges the
// data's age rather than the moment of the call.
func (b *OrderBook) FillAt(side Side, levels []PriceLevel, at time.Time) error {
	if !side.valid() {
		return fmt.Errorf("book: fill: %w", ErrUnknownSide)
	}

	fresh := make([]PriceLevel, 0, len(levels))
	for _, lv := range levels {
		if lv.Price <= 0 || lv.Volume <= 0 {
			continue
		}
		fresh = append(fresh, lv)
	}
	sortLadder(fresh, side)
	fresh = dedupe(fresh)

	b.mu.Lock()
	defer b.mu.Unlock()
	*b.ladder(side) = fresh
	b.lastUpdatedAt = at
	return nil
}

// BestAsk returns the lowest ask, with ok false when the ladder is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) { return b.best(SideAsk) }

// BestBid returns the highest bid, with ok false when the ladder is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) { return b.best(SideBid) }

func (b *OrderBook) best(side Side) (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ladder := *b.ladder(side)
	if len(ladder) == 0 {
		return PriceLevel{}, false
	}
	return ladder[0], true
}

// Asks returns a copy of the ask ladder, lowest price first.
func (b *OrderBook) Asks() []PriceLevel {
	levels, _ := b.Levels(SideAsk)
	return levels
}

// Bids returns a copy of the bid ladder, highest price first.
func (b *OrderBook) Bids() []PriceLevel {
	levels, _ := b.Levels(SideBid)
	return levels
}

// Levels returns a copy of one side's ladder in its sort order.
func (b *OrderBook) Levels(side Side) ([]PriceLevel, error) {
	if !side.valid() {
		return nil, fmt.Errorf("book: levels: %w", ErrUnknownSide)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	ladder := *b.ladder(side)
	out := make([]PriceLevel, len(ladder))
	copy(out, ladder)
	return out, nil
}

// LastUpdatedAt returns the wall-clock time of the last successful
// mutation, zero if the book has never been populated.
func (b *OrderBook) LastUpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdatedAt
}

// IsOutdated reports whether the book is too old to trade on: the last
// mutation is further in the past than maxAge, or the book has never been
// populated at all.
func (b *OrderBook) IsOutdated(maxAge time.Duration) bool {
	return b.IsOutdatedAt(maxAge, time.Now())
}

// IsOutdatedAt is IsOutdated against an explicit clock reading.
func (b *OrderBook) IsOutdatedAt(maxAge time.Duration, now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastUpdatedAt.IsZero() {
		return true
	}
	return now.Sub(b.lastUpdatedAt) > maxAge
}

// ladder returns the mutable ladder for a validated side. Callers hold b.mu.
func (b *OrderBook) ladder(side Side) *[]PriceLevel {
	if side == SideAsk {
		return &b.asks
	}
	return &b.bids
}

// locate returns the index where price sits (or would be inserted) on a
// ladder kept in side order, and whether a level at exactly that price is
// already stored there.
func locate(ladder []PriceLevel, price float64, side Side) (int, bool) {
	var i int
	if side == SideAsk {
		i = sort.Search(len(ladder), func(j int) bool { return ladder[j].Price >= price })
	} else {
		i = sort.Search(len(ladder), func(j int) bool { return ladder[j].Price <= price })
	}
	return i, i < len(ladder) && ladder[i].Price == price
}

func sortLadder(ladder []PriceLevel, side Side) {
	sort.SliceStable(ladder, func(i, j int) bool {
		if side == SideAsk {
			return ladder[i].Price < ladder[j].Price
		}
		return ladder[i].Price > ladder[j].Price
	})
}

// dedupe collapses equal-price runs on a sorted ladder, keeping the entry
// with the newest timestamp.
func dedupe(ladder []PriceLevel) []PriceLevel {
	if len(ladder) < 2 {
		return ladder
	}
	out := ladder[:1]
	for _, lv := range ladder[1:] {
		last := &out[len(out)-1]
		if lv.Price == last.Price {
			if lv.Timestamp >= last.Timestamp {
				*last = lv
			}
			continue
		}
		out = append(out, lv)
	}
	return out
}
