// Package arbitrage runs the per-pair decision cycle: apply the inbound
// book event, rebuild the counterpart book from the shared cache, gate on
// freshness, then offer the market to the taking and making strategies in
// fixed priority order.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// Market is everything one strategy attempt is offered: both venues' books
// and own-order sets for the pair, plus the configured bounds for this
// attempt. Strategies read it, never mutate it.
type Market struct {
	Pair        domain.Pair
	LocalVenue  string
	RemoteVenue string

	// Local mirrors the venue this process trades on; Remote is the
	// counterpart book rebuilt from the shared cache.
	Local  *book.OrderBook
	Remote *book.OrderBook

	// Own resting limit orders per venue, netted out of the books by the
	// stranger views below.
	LocalOwn  book.OwnOrderSet
	RemoteOwn book.OwnOrderSet

	// Volume caps the order size for this attempt. CutoffRate is the
	// minimum price ratio between the venues: 1.0 is break-even, 1.001
	// demands a 0.1% edge.
	Volume     float64
	CutoffRate float64

	// Quote offsets relative to the best stranger level. Zero on taking
	// attempts.
	BidIncrement float64
	AskDecrement float64
}

// LocalStranger returns the local book net of this system's own orders.
func (m Market) LocalStranger() book.StrangerView {
	return book.NewStrangerView(m.Local, m.LocalOwn)
}

// RemoteStranger returns the counterpart book net of this system's own
// orders there.
func (m Market) RemoteStranger() book.StrangerView {
	return book.NewStrangerView(m.Remote, m.RemoteOwn)
}

// Strategy is one trading tactic. Attempt evaluates a single side of the
// offered market and reports whether it executed; only that boolean drives
// the orchestrator's short-circuiting. An error aborts the whole cycle.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, side book.Side, m Market) (bool, error)
}

// Params bounds one strategy's attempts for a pair.
type Params struct {
	Volume       float64
	CutoffRate   float64
	BidIncrement float64
	AskDecrement float64
}

// Config wires an orchestrator for one (venue, pair).
type Config struct {
	Venue       string
	Counterpart string
	Pair        domain.Pair

	// Freshness is the maximum book age the gate accepts.
	Freshness time.Duration

	Taking Params
	Making Params

	// Books serves counterpart snapshots. OwnLocal reports this system's
	// resting orders on the local venue; OwnRemote on the counterpart and
	// may be nil when the system holds no orders there.
	Books     domain.BookCache
	OwnLocal  domain.OwnOrderSource
	OwnRemote domain.OwnOrderSource

	Taker  Strategy
	Maker  Strategy
	Logger *slog.Logger
}

// Orchestrator owns the local book for one (venue, pair) and turns each
// inbound book event into a Decision. It runs no background work: Cycle is
// called by the per-pair worker, one event at a time.
type Orchestrator struct {
	cfg   Config
	local *book.OrderBook
	log   *slog.Logger
}

// New creates an orchestrator with an empty local book.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		local: book.New(cfg.Venue, cfg.Pair.Iso()),
		log: cfg.Logger.With(
			slog.String("component", "orchestrator"),
			slog.String("venue", cfg.Venue),
			slog.String("pair", cfg.Pair.String()),
		),
	}
}

// Book returns the local book so the caller can publish snapshots and
// serve read-only queries. Mutation stays with the orchestrator.
func (o *Orchestrator) Book() *book.OrderBook { return o.local }

// Apply folds one feed event into the local book: snapshots replace a
// side, updates adjust a single level. Mirror mode runs only this.
func (o *Orchestrator) Apply(ev domain.BookEvent) error {
	switch ev.Kind {
	case domain.EventSnapshot:
		return o.local.Fill(ev.Side, ev.Levels)
	case domain.EventUpdate:
		return o.local.ApplyUpdate(ev.Side, ev.Entry)
	default:
		return fmt.Errorf("arbitrage: apply event: unknown kind %s", ev.Kind)
	}
}

// Cycle processes one book event end to end: apply it locally, load own
// orders and the counterpart book, gate on freshness, then run taking and,
// only if taking did not execute, making. Each stage that stops the cycle
// without trading yields a Decision with a negative outcome; collaborator
// failures yield an error and no Decision.
func (o *Orchestrator) Cycle(ctx context.Context, ev domain.BookEvent) (domain.Decision, error) {
	if err := o.Apply(ev); err != nil {
		return domain.Decision{}, err
	}

	localOwn, err := o.ownOrders(ctx, o.cfg.OwnLocal, o.cfg.Venue)
	if err != nil {
		return domain.Decision{}, err
	}
	remoteOwn, err := o.ownOrders(ctx, o.cfg.OwnRemote, o.cfg.Counterpart)
	if err != nil {
		return domain.Decision{}, err
	}

	remote, err := o.counterpartBook(ctx)
	if err != nil {
		return domain.Decision{}, err
	}

	now := time.Now()
	if o.local.IsOutdatedAt(o.cfg.Freshness, now) {
		o.log.DebugContext(ctx, "local book stale, no action",
			slog.Time("last_update", o.local.LastUpdatedAt()))
		return o.decision(domain.OutcomeStaleLocal, 0, ""), nil
	}
	if remote.IsOutdatedAt(o.cfg.Freshness, now) {
		o.log.DebugContext(ctx, "counterpart book stale, no action",
			slog.Time("last_update", remote.LastUpdatedAt()))
		return o.decision(domain.OutcomeStaleCounterpart, 0, ""), nil
	}

	market := Market{
		Pair:        o.cfg.Pair,
		LocalVenue:  o.cfg.Venue,
		RemoteVenue: o.cfg.Counterpart,
		Local:       o.local,
		Remote:      remote,
		LocalOwn:    localOwn,
		RemoteOwn:   remoteOwn,
	}

	taking := market
	taking.Volume = o.cfg.Taking.Volume
	taking.CutoffRate = o.cfg.Taking.CutoffRate

	for _, side := range []book.Side{book.SideAsk, book.SideBid} {
		executed, err := o.cfg.Taker.Attempt(ctx, side, taking)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("arbitrage: %s %s %s: %w",
				o.cfg.Taker.Name(), o.cfg.Pair, side, err)
		}
		if executed {
			return o.decision(domain.OutcomeTaken, side, o.cfg.Taker.Name()), nil
		}
	}

	making := market
	making.Volume = o.cfg.Making.Volume
	making.CutoffRate = o.cfg.Making.CutoffRate
	making.BidIncrement = o.cfg.Making.BidIncrement
	making.AskDecrement = o.cfg.Making.AskDecrement

	for _, side := range []book.Side{book.SideAsk, book.SideBid} {
		executed, err := o.cfg.Maker.Attempt(ctx, side, making)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("arbitrage: %s %s %s: %w",
				o.cfg.Maker.Name(), o.cfg.Pair, side, err)
		}
		if executed {
			return o.decision(domain.OutcomeMade, side, o.cfg.Maker.Name()), nil
		}
	}

	return o.decision(domain.OutcomeNone, 0, ""), nil
}

// ownOrders fetches the system's resting orders on one venue. A nil source
// means the system keeps no orders there.
func (o *Orchestrator) ownOrders(ctx context.Context, src domain.OwnOrderSource, venue string) (book.OwnOrderSet, error) {
	if src == nil {
		return book.OwnOrderSet{}, nil
	}
	own, err := src.ActiveOrders(ctx, venue, o.cfg.Pair)
	if err != nil {
		return book.OwnOrderSet{}, fmt.Errorf("arbitrage: own orders %s %s: %w: %w",
			venue, o.cfg.Pair, domain.ErrUpstreamUnavailable, err)
	}
	return own, nil
}

// counterpartBook rebuilds the counterpart's book from the shared cache,
// back-dated to the publisher's update time so the freshness gate judges
// the data's age. A pair the counterpart has not published yet comes back
// as an empty, never-populated book and fails the gate downstream; any
// other cache failure is fatal to the cycle.
func (o *Orchestrator) counterpartBook(ctx context.Context) (*book.OrderBook, error) {
	remote := book.New(o.cfg.Counterpart, o.cfg.Pair.Iso())

	snap, err := o.cfg.Books.Snapshot(ctx, o.cfg.Counterpart, o.cfg.Pair)
	if errors.Is(err, domain.ErrNotFound) {
		return remote, nil
	}
	if err != nil {
		return nil, fmt.Errorf("arbitrage: counterpart book %s %s: %w: %w",
			o.cfg.Counterpart, o.cfg.Pair, domain.ErrUpstreamUnavailable, err)
	}

	if err := remote.FillAt(book.SideAsk, snap.Asks, snap.UpdatedAt); err != nil {
		return nil, err
	}
	if err := remote.FillAt(book.SideBid, snap.Bids, snap.UpdatedAt); err != nil {
		return nil, err
	}
	return remote, nil
}

func (o *Orchestrator) decision(outcome domain.Outcome, side book.Side, strategy string) domain.Decision {
	return domain.Decision{
		ID:          uuid.NewString(),
		Venue:       o.cfg.Venue,
		Counterpart: o.cfg.Counterpart,
		Pair:        o.cfg.Pair,
		Side:        side,
		Outcome:     outcome,
		Strategy:    strategy,
		At:          time.Now(),
	}
}
