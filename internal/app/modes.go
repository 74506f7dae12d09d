package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantele/crossarb/internal/arbitrage"
	s3blob "github.com/quantele/crossarb/internal/blob/s3"
	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/config"
	"github.com/quantele/crossarb/internal/domain"
	"github.com/quantele/crossarb/internal/feed"
	"github.com/quantele/crossarb/internal/notify"
	"github.com/quantele/crossarb/internal/runner"
	"github.com/quantele/crossarb/internal/server"
	"github.com/quantele/crossarb/internal/server/handler"
	"github.com/quantele/crossarb/internal/server/ws"
	"github.com/quantele/crossarb/internal/strategy"
)

// eventBufferSize buffers the feed-to-runner channel so a slow cycle does
// not stall the transport read loop.
const eventBufferSize = 256

// RunMode mirrors the local venue's books and runs the full decision cycle
// per event: freshness gates, then market taking, then market making.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	specs, err := a.pairSpecs()
	if err != nil {
		return err
	}
	pairs := pairList(specs)

	g, ctx := errgroup.WithContext(ctx)

	taker := strategy.NewTaker(deps.Exchange, deps.OrderStore, a.logger)
	maker := strategy.NewMaker(deps.Exchange, deps.OrderStore, a.logger)
	orchs := a.buildOrchestrators(specs, deps, taker, maker)

	run := runner.New(runner.Config{
		Mode:      runner.ModeRun,
		Venue:     a.cfg.Venue.Name,
		LockPairs: a.cfg.Lock.Enabled,
		LockTTL:   a.cfg.Lock.TTL.Duration,
		Cache:     deps.BookCache,
		Bus:       deps.SignalBus,
		Decisions: deps.DecisionStore,
		Locks:     deps.LockManager,
		Notifier:  deps.Notifier,
		Logger:    a.logger,
	}, orchs)

	a.startArchiver(ctx, g, deps, run, pairs)
	a.primeBooks(ctx, deps, run, pairs)

	bookFeed, err := a.buildFeed(ctx, deps, pairs)
	if err != nil {
		return err
	}

	events := make(chan domain.BookEvent, eventBufferSize)
	g.Go(func() error {
		return bookFeed.Run(ctx, events)
	})
	g.Go(func() error {
		return run.Run(ctx, events)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, run, pairs)
	}

	return g.Wait()
}

// MirrorMode maintains and publishes the local mirror without ever
// trading. A mirror instance feeds the shared cache that run instances on
// other venues read as their counterpart.
func (a *App) MirrorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mirror mode")

	specs, err := a.pairSpecs()
	if err != nil {
		return err
	}
	pairs := pairList(specs)

	g, ctx := errgroup.WithContext(ctx)

	orchs := a.buildOrchestrators(specs, deps, nil, nil)

	run := runner.New(runner.Config{
		Mode:     runner.ModeMirror,
		Venue:    a.cfg.Venue.Name,
		Cache:    deps.BookCache,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	}, orchs)

	a.startArchiver(ctx, g, deps, run, pairs)

	bookFeed, err := a.buildFeed(ctx, deps, pairs)
	if err != nil {
		return err
	}

	events := make(chan domain.BookEvent, eventBufferSize)
	g.Go(func() error {
		return bookFeed.Run(ctx, events)
	})
	g.Go(func() error {
		return run.Run(ctx, events)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, run, pairs)
	}

	return g.Wait()
}

// pairSpec joins a parsed pair with its configured thresholds.
type pairSpec struct {
	pair domain.Pair
	cfg  config.PairConfig
}

func (a *App) pairSpecs() ([]pairSpec, error) {
	specs := make([]pairSpec, 0, len(a.cfg.Pairs))
	for _, pc := range a.cfg.Pairs {
		pair, err := domain.ParsePair(pc.Symbol)
		if err != nil {
			return nil, fmt.Errorf("app: pair %q: %w", pc.Symbol, err)
		}
		specs = append(specs, pairSpec{pair: pair, cfg: pc})
	}
	return specs, nil
}

func pairList(specs []pairSpec) []domain.Pair {
	pairs := make([]domain.Pair, len(specs))
	for i, s := range specs {
		pairs[i] = s.pair
	}
	return pairs
}

// buildOrchestrators creates one orchestrator per configured pair. taker
// and maker are nil in mirror mode, where the cycle never runs.
func (a *App) buildOrchestrators(specs []pairSpec, deps *Dependencies, taker, maker arbitrage.Strategy) map[domain.Pair]*arbitrage.Orchestrator {
	orchs := make(map[domain.Pair]*arbitrage.Orchestrator, len(specs))
	for _, s := range specs {
		orchs[s.pair] = arbitrage.New(arbitrage.Config{
			Venue:       a.cfg.Venue.Name,
			Counterpart: a.cfg.Venue.Counterpart,
			Pair:        s.pair,
			Freshness:   s.cfg.FreshnessThreshold.Duration,
			Taking: arbitrage.Params{
				Volume:     s.cfg.MarketTaking.Volume,
				CutoffRate: s.cfg.MarketTaking.CutoffRate,
			},
			Making: arbitrage.Params{
				Volume:       s.cfg.MarketMaking.Volume,
				CutoffRate:   s.cfg.MarketMaking.CutoffRate,
				BidIncrement: s.cfg.MarketMaking.BidIncrement,
				AskDecrement: s.cfg.MarketMaking.AskDecrement,
			},
			Books:     deps.BookCache,
			OwnLocal:  deps.LocalOrders,
			OwnRemote: deps.RemoteOrders,
			Taker:     taker,
			Maker:     maker,
			Logger:    a.logger,
		})
	}
	return orchs
}

// buildFeed selects the book event transport for the local venue.
func (a *App) buildFeed(ctx context.Context, deps *Dependencies, pairs []domain.Pair) (feed.BookFeed, error) {
	switch strings.ToLower(a.cfg.Feed.Transport) {
	case "websocket":
		return feed.NewWSFeed(feed.WSConfig{
			URL:   a.cfg.Feed.URL,
			Venue: a.cfg.Venue.Name,
			Pairs: pairs,
			OnDisconnect: func(err error) {
				msg := fmt.Sprintf("%s book feed dropped: %v", a.cfg.Venue.Name, err)
				if nerr := deps.Notifier.Notify(ctx, notify.EventFeedDown, "Feed disconnected", msg); nerr != nil {
					a.logger.WarnContext(ctx, "notification failed", slog.String("error", nerr.Error()))
				}
			},
			Logger: a.logger,
		}), nil
	case "kafka":
		return feed.NewKafkaFeed(feed.KafkaConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
			GroupID: a.cfg.Kafka.GroupID,
			Venue:   a.cfg.Venue.Name,
			Pairs:   pairs,
			Logger:  a.logger,
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown feed transport %q", a.cfg.Feed.Transport)
	}
}

// startArchiver restores books from their latest archives when configured
// and schedules periodic snapshots. No-op unless S3 is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, source s3blob.BookSource, pairs []domain.Pair) {
	if deps.BlobWriter == nil {
		return
	}

	arch := s3blob.NewArchiver(s3blob.ArchiverConfig{
		Venue:     a.cfg.Venue.Name,
		Pairs:     pairs,
		Interval:  a.cfg.S3.SnapshotInterval.Duration,
		Retention: a.cfg.S3.Retention,
		Writer:    deps.BlobWriter,
		Reader:    deps.BlobReader,
		Deleter:   deps.BlobDeleter,
		Source:    source,
		Logger:    a.logger,
	})

	if a.cfg.S3.RestoreOnStart {
		if err := arch.Restore(ctx); err != nil {
			a.logger.WarnContext(ctx, "book restore failed, starting from empty books",
				slog.String("error", err.Error()),
			)
		}
	}

	g.Go(func() error {
		return arch.Run(ctx)
	})
}

// primeBooks seeds still-empty local books over REST so the first cycles
// have depth to look at before the feed's snapshot lands. Best effort: a
// pair that cannot be primed starts empty and fails the freshness gate
// until the feed delivers.
func (a *App) primeBooks(ctx context.Context, deps *Dependencies, run *runner.Runner, pairs []domain.Pair) {
	if deps.Exchange == nil {
		return
	}

	for _, pair := range pairs {
		b := run.Book(pair)
		if b == nil || !b.LastUpdatedAt().IsZero() {
			continue // restored from archive
		}

		snap, err := deps.Exchange.GetBook(ctx, pair)
		if err != nil {
			a.logger.WarnContext(ctx, "book prime failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		at := snap.UpdatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if err := b.FillAt(book.SideAsk, snap.Asks, at); err != nil {
			a.logger.WarnContext(ctx, "book prime failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := b.FillAt(book.SideBid, snap.Bids, at); err != nil {
			a.logger.WarnContext(ctx, "book prime failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		a.logger.InfoContext(ctx, "book primed",
			slog.String("pair", pair.String()),
			slog.Int("asks", len(snap.Asks)),
			slog.Int("bids", len(snap.Bids)),
		)
	}
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup, including a shutdown watcher that drains in-flight
// requests when the context ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, run *runner.Runner, pairs []domain.Pair) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:  a.cfg.Mode,
		Venue: a.cfg.Venue.Name,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Venue.Name),
		Status:    handler.NewStatusHandler(a.cfg.Venue.Name, a.cfg.Venue.Counterpart, a.cfg.Mode, pairs, run),
		Books:     handler.NewBooksHandler(a.cfg.Venue.Name, pairs, run, deps.LocalOrders, a.logger),
		Decisions: handler.NewDecisionsHandler(deps.DecisionStore, deps.SignalBus),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimit:   a.cfg.Server.RateLimit,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
