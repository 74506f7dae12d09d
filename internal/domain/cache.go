package domain

import (
	"context"
	"time"

	"github.com/quantele/crossarb/internal/book"
)

// CachedBook is the shared-cache representation of one venue's book for
// one pair: both ladders plus the time the publishing process produced
// them. UpdatedAt lets readers judge freshness of the data itself rather
// than of the fetch.
type CachedBook struct {
	Asks      []book.PriceLevel
	Bids      []book.PriceLevel
	UpdatedAt time.Time
}

// BookCache exchanges order-book snapshots between venue processes. Each
// process publishes its own local mirror and reads its counterparts'.
type BookCache interface {
	// Snapshot returns the cached book for (venue, pair). It returns
	// ErrNotFound when that venue's process has not published the pair yet
	// or the entry has expired.
	Snapshot(ctx context.Context, venue string, pair Pair) (CachedBook, error)
	// Publish stores the local book under (venue, pair) for counterpart
	// processes to read.
	Publish(ctx context.Context, venue string, pair Pair, snap CachedBook) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
