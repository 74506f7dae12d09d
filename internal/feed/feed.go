// Package feed streams venue order-book data as BookEvents over one of
// two transports: a websocket held against the venue directly, or a kafka
// topic filled by a collector process. Both speak the same payload shape
// and leave all book mutation to the consumer.
package feed

import (
	"context"

	"github.com/quantele/crossarb/internal/domain"
)

// BookFeed delivers book events for the configured pairs to out, in
// emission order per pair, until ctx ends. Implementations own their
// transport lifecycle including reconnects.
type BookFeed interface {
	Run(ctx context.Context, out chan<- domain.BookEvent) error
}
