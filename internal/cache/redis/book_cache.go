package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// bookTTL bounds how long a published book survives without a refresh. A venue
// that stops publishing drops out of the cache instead of serving its last
// book forever.
const bookTTL = 10 * time.Minute

// BookCache implements domain.BookCache using one Redis hash per (venue, pair).
// Every venue instance publishes its own book here; counterpart books are read
// back before each decision cycle.
//
// Key schema:
//
//	orderbooks:{venue}:{pair}  - hash with fields:
//	    asks       - JSON array of [price, volume, timestamp] triples, best first
//	    bids       - JSON array of [price, volume, timestamp] triples, best first
//	    updated_at - RFC3339Nano time of the publisher's last book mutation
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(venue string, pair domain.Pair) string {
	return "orderbooks:" + venue + ":" + pair.Iso()
}

// Publish replaces the cached book for (venue, pair) in a single transaction.
// UpdatedAt must carry the time of the publisher's last actual book mutation,
// not the publish time, so that readers judge the age of the data itself.
func (bc *BookCache) Publish(ctx context.Context, venue string, pair domain.Pair, snap domain.CachedBook) error {
	asks, err := encodeLevels(snap.Asks)
	if err != nil {
		return fmt.Errorf("redis: publish book %s %s: asks: %w", venue, pair, err)
	}
	bids, err := encodeLevels(snap.Bids)
	if err != nil {
		return fmt.Errorf("redis: publish book %s %s: bids: %w", venue, pair, err)
	}

	key := bookKey(venue, pair)
	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"asks":       asks,
		"bids":       bids,
		"updated_at": snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, bookTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish book %s %s: %w", venue, pair, err)
	}
	return nil
}

// Snapshot reads the cached book for (venue, pair). It returns
// domain.ErrNotFound when the venue has never published the pair (or the key
// has expired); any other failure means the shared cache itself is unusable.
func (bc *BookCache) Snapshot(ctx context.Context, venue string, pair domain.Pair) (domain.CachedBook, error) {
	vals, err := bc.rdb.HGetAll(ctx, bookKey(venue, pair)).Result()
	if err != nil {
		return domain.CachedBook{}, fmt.Errorf("redis: get book %s %s: %w", venue, pair, err)
	}
	if len(vals) == 0 {
		return domain.CachedBook{}, domain.ErrNotFound
	}

	var snap domain.CachedBook
	if snap.Asks, err = decodeLevels([]byte(vals["asks"])); err != nil {
		return domain.CachedBook{}, fmt.Errorf("redis: get book %s %s: asks: %w", venue, pair, err)
	}
	if snap.Bids, err = decodeLevels([]byte(vals["bids"])); err != nil {
		return domain.CachedBook{}, fmt.Errorf("redis: get book %s %s: bids: %w", venue, pair, err)
	}
	if raw, ok := vals["updated_at"]; ok && raw != "" {
		snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.CachedBook{}, fmt.Errorf("redis: get book %s %s: updated_at: %w", venue, pair, err)
		}
	}
	return snap, nil
}

// encodeLevels marshals price levels as JSON [price, volume, timestamp]
// triples, preserving order.
func encodeLevels(levels []book.PriceLevel) ([]byte, error) {
	triples := make([][3]float64, len(levels))
	for i, lvl := range levels {
		triples[i] = [3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
	}
	return json.Marshal(triples)
}

// decodeLevels parses the JSON triple array produced by encodeLevels. An empty
// payload decodes to no levels.
func decodeLevels(data []byte) ([]book.PriceLevel, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var triples [][3]float64
	if err := json.Unmarshal(data, &triples); err != nil {
		return nil, err
	}
	levels := make([]book.PriceLevel, len(triples))
	for i, t := range triples {
		levels[i] = book.PriceLevel{Price: t[0], Volume: t[1], Timestamp: int64(t[2])}
	}
	return levels, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
