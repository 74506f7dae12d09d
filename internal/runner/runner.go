// Package runner serializes book events into per-pair decision work. A
// dispatcher fans feed events out to one buffered queue per pair, each
// drained by a single worker, so cycles for one pair never run
// concurrently while pairs proceed independently.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantele/crossarb/internal/arbitrage"
	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
	"github.com/quantele/crossarb/internal/notify"
)

// Mode selects how much of the cycle runs per event.
type Mode string

const (
	// ModeRun applies each event and runs the full decision cycle.
	ModeRun Mode = "run"
	// ModeMirror maintains and publishes the local mirror without ever
	// trading.
	ModeMirror Mode = "mirror"
)

// defaultQueueSize bounds each per-pair queue.
const defaultQueueSize = 256

// Config wires a Runner.
type Config struct {
	Mode  Mode
	Venue string

	// QueueSize is the per-pair event buffer, defaultQueueSize if zero.
	QueueSize int

	// LockPairs serializes decision cycles per pair across processes via
	// Locks. A held lock demotes the event to mirror handling.
	LockPairs bool
	LockTTL   time.Duration

	Cache     domain.BookCache
	Bus       domain.SignalBus     // optional
	Decisions domain.DecisionStore // optional
	Locks     domain.LockManager   // required when LockPairs
	Notifier  *notify.Notifier     // optional
	Logger    *slog.Logger
}

// Runner routes feed events to per-pair orchestrators and carries their
// results outward: cache publishes, decision records, bus messages, and
// operator alerts.
type Runner struct {
	cfg    Config
	orchs  map[domain.Pair]*arbitrage.Orchestrator
	queues map[domain.Pair]chan domain.BookEvent
	log    *slog.Logger

	mu   sync.RWMutex
	last map[domain.Pair]domain.Decision
}

// New builds a Runner over one orchestrator per pair.
func New(cfg Config, orchs map[domain.Pair]*arbitrage.Orchestrator) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	queues := make(map[domain.Pair]chan domain.BookEvent, len(orchs))
	for pair := range orchs {
		queues[pair] = make(chan domain.BookEvent, cfg.QueueSize)
	}
	return &Runner{
		cfg:    cfg,
		orchs:  orchs,
		queues: queues,
		log: cfg.Logger.With(
			slog.String("component", "runner"),
			slog.String("mode", string(cfg.Mode)),
		),
		last: make(map[domain.Pair]domain.Decision, len(orchs)),
	}
}

// Book returns the local mirror for pair, nil when the pair is not run.
func (r *Runner) Book(pair domain.Pair) *book.OrderBook {
	if orch, ok := r.orchs[pair]; ok {
		return orch.Book()
	}
	return nil
}

// LastDecisions returns a copy of the most recent decision per pair.
func (r *Runner) LastDecisions() map[domain.Pair]domain.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Pair]domain.Decision, len(r.last))
	for pair, dec := range r.last {
		out[pair] = dec
	}
	return out
}

// Run consumes events until ctx ends or the channel closes. Each pair's
// worker drains its own queue so one pair's cycle latency never stalls
// the others.
func (r *Runner) Run(ctx context.Context, events <-chan domain.BookEvent) error {
	r.log.InfoContext(ctx, "runner starting", slog.Int("pairs", len(r.orchs)))

	g, ctx := errgroup.WithContext(ctx)

	for pair, queue := range r.queues {
		g.Go(func() error {
			r.work(ctx, r.orchs[pair], queue)
			return nil
		})
	}

	g.Go(func() error {
		r.dispatch(ctx, events)
		return nil
	})

	return g.Wait()
}

// dispatch routes events to their pair's queue, dropping when the queue
// is full so a slow pair cannot stall its siblings.
func (r *Runner) dispatch(ctx context.Context, events <-chan domain.BookEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.log.InfoContext(ctx, "feed input closed")
				return
			}
			queue, ok := r.queues[ev.Pair]
			if !ok {
				r.log.WarnContext(ctx, "event for unconfigured pair",
					slog.String("pair", ev.Pair.String()),
				)
				continue
			}
			select {
			case queue <- ev:
			default:
				r.log.WarnContext(ctx, "pair queue full, dropping event",
					slog.String("pair", ev.Pair.String()),
					slog.Int("queue_size", r.cfg.QueueSize),
				)
			}
		}
	}
}

func (r *Runner) work(ctx context.Context, orch *arbitrage.Orchestrator, queue <-chan domain.BookEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			r.process(ctx, orch, ev)
		}
	}
}

func (r *Runner) process(ctx context.Context, orch *arbitrage.Orchestrator, ev domain.BookEvent) {
	if r.cfg.Mode == ModeMirror {
		r.mirror(ctx, orch, ev)
		return
	}

	unlock, ok := r.lockPair(ctx, ev.Pair)
	if !ok {
		// Another process holds the pair; keep the mirror current.
		r.mirror(ctx, orch, ev)
		return
	}
	defer unlock()

	dec, err := orch.Cycle(ctx, ev)
	if err != nil {
		r.log.ErrorContext(ctx, "cycle failed",
			slog.String("pair", ev.Pair.String()),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			// The local mirror advanced before the gate; counterparts
			// still want it.
			r.publish(ctx, ev.Pair, orch)
			r.notify(ctx, notify.EventUpstreamError, "Upstream unavailable",
				fmt.Sprintf("%s %s: %v", r.cfg.Venue, ev.Pair, err))
		}
		return
	}

	r.publish(ctx, ev.Pair, orch)
	r.record(ctx, dec)
}

// mirror applies the event and publishes without deciding anything.
func (r *Runner) mirror(ctx context.Context, orch *arbitrage.Orchestrator, ev domain.BookEvent) {
	if err := orch.Apply(ev); err != nil {
		r.log.ErrorContext(ctx, "apply failed",
			slog.String("pair", ev.Pair.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.publish(ctx, ev.Pair, orch)
}

// lockPair acquires the cross-process pair lock when configured. ok
// reports whether this process may run the decision cycle; the unlock
// func is a no-op when locking is off.
func (r *Runner) lockPair(ctx context.Context, pair domain.Pair) (func(), bool) {
	if !r.cfg.LockPairs || r.cfg.Locks == nil {
		return func() {}, true
	}
	key := fmt.Sprintf("pair:%s:%s", r.cfg.Venue, pair.Iso())
	unlock, err := r.cfg.Locks.Acquire(ctx, key, r.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			r.log.WarnContext(ctx, "pair lock unavailable",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return unlock, true
}

func (r *Runner) publish(ctx context.Context, pair domain.Pair, orch *arbitrage.Orchestrator) {
	b := orch.Book()
	snap := domain.CachedBook{
		Asks:      b.Asks(),
		Bids:      b.Bids(),
		UpdatedAt: b.LastUpdatedAt(),
	}
	if err := r.cfg.Cache.Publish(ctx, r.cfg.Venue, pair, snap); err != nil {
		r.log.WarnContext(ctx, "book publish failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
	}

	if r.cfg.Bus == nil {
		return
	}
	tick := bookTick{Venue: r.cfg.Venue, Pair: pair.String(), UpdatedAt: snap.UpdatedAt}
	if lvl, ok := b.BestAsk(); ok {
		tick.BestAsk = &[3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
	}
	if lvl, ok := b.BestBid(); ok {
		tick.BestBid = &[3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
	}
	payload, err := json.Marshal(tick)
	if err != nil {
		return
	}
	if err := r.cfg.Bus.Publish(ctx, "books", payload); err != nil {
		r.log.WarnContext(ctx, "book tick publish failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
	}
}

// bookTick is the JSON shape pushed on the books channel after each
// processed event.
type bookTick struct {
	Venue     string      `json:"venue"`
	Pair      string      `json:"pair"`
	BestAsk   *[3]float64 `json:"best_ask"`
	BestBid   *[3]float64 `json:"best_bid"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// decisionWire is the JSON shape pushed on the decisions channel and
// stream.
type decisionWire struct {
	ID          string    `json:"id"`
	Venue       string    `json:"venue"`
	Counterpart string    `json:"counterpart"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Outcome     string    `json:"outcome"`
	Strategy    string    `json:"strategy"`
	At          time.Time `json:"at"`
}

// record remembers the decision for status reporting and, when a
// strategy executed, persists and announces it.
func (r *Runner) record(ctx context.Context, dec domain.Decision) {
	r.mu.Lock()
	r.last[dec.Pair] = dec
	r.mu.Unlock()

	if !dec.Outcome.Executed() {
		return
	}

	r.log.InfoContext(ctx, "decision executed",
		slog.String("decision_id", dec.ID),
		slog.String("pair", dec.Pair.String()),
		slog.String("outcome", string(dec.Outcome)),
		slog.String("strategy", dec.Strategy),
		slog.String("side", dec.Side.String()),
	)

	if r.cfg.Decisions != nil {
		if err := r.cfg.Decisions.Insert(ctx, dec); err != nil {
			r.log.ErrorContext(ctx, "decision insert failed",
				slog.String("decision_id", dec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.cfg.Bus != nil {
		payload, err := json.Marshal(decisionWire{
			ID:          dec.ID,
			Venue:       dec.Venue,
			Counterpart: dec.Counterpart,
			Pair:        dec.Pair.String(),
			Side:        dec.Side.String(),
			Outcome:     string(dec.Outcome),
			Strategy:    dec.Strategy,
			At:          dec.At,
		})
		if err == nil {
			if err := r.cfg.Bus.Publish(ctx, "decisions", payload); err != nil {
				r.log.WarnContext(ctx, "decision publish failed", slog.String("error", err.Error()))
			}
			if err := r.cfg.Bus.StreamAppend(ctx, "stream:decisions", payload); err != nil {
				r.log.WarnContext(ctx, "decision stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	event, title := notify.EventTaken, "Took liquidity"
	if dec.Outcome == domain.OutcomeMade {
		event, title = notify.EventMade, "Placed quote"
	}
	r.notify(ctx, event, title,
		fmt.Sprintf("%s %s %s via %s", dec.Venue, dec.Pair, dec.Side, dec.Strategy))
}

func (r *Runner) notify(ctx context.Context, event notify.Event, title, message string) {
	if r.cfg.Notifier == nil {
		return
	}
	if err := r.cfg.Notifier.Notify(ctx, event, title, message); err != nil {
		r.log.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}
