package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// bookArchive is the stored JSON form of one book: both ladders as
// [price, volume, timestamp] triples plus the mirror's last update time.
type bookArchive struct {
	Venue     string       `json:"venue"`
	Pair      string       `json:"pair"`
	Asks      [][3]float64 `json:"asks"`
	Bids      [][3]float64 `json:"bids"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BookSource yields the live local books to archive. The runner
// implements it.
type BookSource interface {
	Book(pair domain.Pair) *book.OrderBook
}

// ArchiverConfig wires an Archiver.
type ArchiverConfig struct {
	Venue    string
	Pairs    []domain.Pair
	Interval time.Duration

	// Retention keeps the most recent N timestamped archives per pair.
	// Zero keeps everything.
	Retention int

	Writer domain.BlobWriter
	Reader domain.BlobReader
	// Deleter is required when Retention is set.
	Deleter domain.BlobDeleter
	Source  BookSource
	Logger  *slog.Logger
}

// Archiver checkpoints each local book to object storage on an interval,
// under a timestamped key plus a latest.json alias, and restores books
// from latest.json on startup. A restored book keeps its archived update
// time, so a stale archive fails the freshness gate until live data
// arrives.
type Archiver struct {
	cfg ArchiverConfig
	log *slog.Logger
}

// NewArchiver builds an Archiver.
func NewArchiver(cfg ArchiverConfig) *Archiver {
	return &Archiver{
		cfg: cfg,
		log: cfg.Logger.With(
			slog.String("component", "archiver"),
			slog.String("venue", cfg.Venue),
		),
	}
}

// Run archives every pair on the configured interval until ctx ends.
func (a *Archiver) Run(ctx context.Context) error {
	a.log.InfoContext(ctx, "archiver starting",
		slog.Duration("interval", a.cfg.Interval),
		slog.Int("pairs", len(a.cfg.Pairs)),
	)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, pair := range a.cfg.Pairs {
				if err := a.archive(ctx, pair); err != nil {
					a.log.ErrorContext(ctx, "archive failed",
						slog.String("pair", pair.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// Restore loads each pair's latest archive into its live book. Pairs with
// no archive yet are skipped.
func (a *Archiver) Restore(ctx context.Context) error {
	for _, pair := range a.cfg.Pairs {
		if err := a.restore(ctx, pair); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) archive(ctx context.Context, pair domain.Pair) error {
	b := a.cfg.Source.Book(pair)
	if b == nil {
		return nil
	}
	at := b.LastUpdatedAt()
	if at.IsZero() {
		// Nothing received yet, nothing worth keeping.
		return nil
	}

	data, err := json.Marshal(bookArchive{
		Venue:     a.cfg.Venue,
		Pair:      pair.String(),
		Asks:      triples(b.Asks()),
		Bids:      triples(b.Bids()),
		UpdatedAt: at,
	})
	if err != nil {
		return fmt.Errorf("s3blob: encode book %s: %w", pair, err)
	}

	key := timestampedKey(a.cfg.Venue, pair, time.Now().UTC())
	if err := a.cfg.Writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}
	if err := a.cfg.Writer.Put(ctx, latestKey(a.cfg.Venue, pair), bytes.NewReader(data), "application/json"); err != nil {
		return err
	}

	a.log.DebugContext(ctx, "book archived",
		slog.String("pair", pair.String()),
		slog.String("key", key),
	)
	return a.prune(ctx, pair)
}

func (a *Archiver) restore(ctx context.Context, pair domain.Pair) error {
	b := a.cfg.Source.Book(pair)
	if b == nil {
		return nil
	}

	rc, err := a.cfg.Reader.Get(ctx, latestKey(a.cfg.Venue, pair))
	if errors.Is(err, domain.ErrNotFound) {
		a.log.InfoContext(ctx, "no archive to restore", slog.String("pair", pair.String()))
		return nil
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	var arch bookArchive
	if err := json.NewDecoder(rc).Decode(&arch); err != nil {
		return fmt.Errorf("s3blob: decode archive %s: %w", pair, err)
	}

	if err := b.FillAt(book.SideAsk, fromTriples(arch.Asks), arch.UpdatedAt); err != nil {
		return fmt.Errorf("s3blob: restore %s: %w", pair, err)
	}
	if err := b.FillAt(book.SideBid, fromTriples(arch.Bids), arch.UpdatedAt); err != nil {
		return fmt.Errorf("s3blob: restore %s: %w", pair, err)
	}

	a.log.InfoContext(ctx, "book restored from archive",
		slog.String("pair", pair.String()),
		slog.Int("asks", len(arch.Asks)),
		slog.Int("bids", len(arch.Bids)),
		slog.Time("as_of", arch.UpdatedAt),
	)
	return nil
}

// prune deletes timestamped archives beyond the retention count, oldest
// first. RFC3339 keys sort chronologically.
func (a *Archiver) prune(ctx context.Context, pair domain.Pair) error {
	if a.cfg.Retention <= 0 || a.cfg.Deleter == nil {
		return nil
	}

	infos, err := a.cfg.Reader.List(ctx, pairPrefix(a.cfg.Venue, pair))
	if err != nil {
		return fmt.Errorf("s3blob: prune list %s: %w", pair, err)
	}

	var timestamped []domain.BlobInfo
	for _, info := range infos {
		if path.Base(info.Path) == "latest.json" {
			continue
		}
		timestamped = append(timestamped, info)
	}
	if len(timestamped) <= a.cfg.Retention {
		return nil
	}

	sort.Slice(timestamped, func(i, j int) bool { return timestamped[i].Path < timestamped[j].Path })
	for _, info := range timestamped[:len(timestamped)-a.cfg.Retention] {
		if err := a.cfg.Deleter.Delete(ctx, info.Path); err != nil {
			return fmt.Errorf("s3blob: prune %s: %w", info.Path, err)
		}
		a.log.DebugContext(ctx, "pruned archive", slog.String("key", info.Path))
	}
	return nil
}

// timestampedKey is "books/<venue>/<iso>/<RFC3339>.json".
func timestampedKey(venue string, pair domain.Pair, at time.Time) string {
	return path.Join("books", venue, pair.Iso(), at.Format(time.RFC3339)+".json")
}

// latestKey is "books/<venue>/<iso>/latest.json".
func latestKey(venue string, pair domain.Pair) string {
	return path.Join("books", venue, pair.Iso(), "latest.json")
}

func pairPrefix(venue string, pair domain.Pair) string {
	return path.Join("books", venue, pair.Iso()) + "/"
}

func triples(levels []book.PriceLevel) [][3]float64 {
	out := make([][3]float64, len(levels))
	for i, lvl := range levels {
		out[i] = [3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
	}
	return out
}

func fromTriples(ts [][3]float64) []book.PriceLevel {
	out := make([]book.PriceLevel, len(ts))
	for i, t := range ts {
		out[i] = book.PriceLevel{Price: t[0], Volume: t[1], Timestamp: int64(t[2])}
	}
	return out
}
