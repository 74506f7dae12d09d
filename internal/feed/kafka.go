package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/quantele/crossarb/internal/domain"
)

// KafkaConfig configures the kafka book feed.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Venue   string
	Pairs   []domain.Pair
	Logger  *slog.Logger
}

// KafkaFeed consumes book payloads from a kafka topic, for deployments
// where a collector process fans the venue's market data out through a
// broker instead of every instance holding its own venue socket. Message
// values carry the same payload shape as the websocket transport.
type KafkaFeed struct {
	cfg KafkaConfig
	dec decoder
	log *slog.Logger
}

// NewKafkaFeed creates a kafka feed for the given venue and pairs.
func NewKafkaFeed(cfg KafkaConfig) *KafkaFeed {
	log := cfg.Logger.With(
		slog.String("component", "kafka_feed"),
		slog.String("venue", cfg.Venue),
	)
	return &KafkaFeed{
		cfg: cfg,
		dec: newDecoder(cfg.Venue, cfg.Pairs, log),
		log: log,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed only after a
// message's events have been handed off, so a crash replays messages
// rather than dropping them; the book's stale-removal guard absorbs the
// replayed duplicates. Broker-level reconnection is the reader's own
// concern.
func (f *KafkaFeed) Run(ctx context.Context, out chan<- domain.BookEvent) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  f.cfg.Brokers,
		GroupID:  f.cfg.GroupID,
		Topic:    f.cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	f.log.InfoContext(ctx, "kafka feed started",
		slog.String("topic", f.cfg.Topic),
		slog.String("group", f.cfg.GroupID),
	)

	// Kafka replays from the committed offset, so every (re)start begins
	// mid-stream; the collector interleaves periodic snapshots and the
	// explicit payload types decide how each message applies.
	seen := make(map[string]bool, len(f.cfg.Pairs))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: kafka fetch: %w", err)
		}

		for _, ev := range f.dec.decode(msg.Value, seen) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: kafka commit: %w", err)
		}
	}
}

var _ BookFeed = (*KafkaFeed)(nil)
