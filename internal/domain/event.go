package domain

import (
	"fmt"

	"github.com/quantele/crossarb/internal/book"
)

// EventKind distinguishes a full side snapshot from an incremental level
// update.
type EventKind uint8

const (
	EventSnapshot EventKind = iota + 1
	EventUpdate
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventSnapshot:
		return "snapshot"
	case EventUpdate:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// BookEvent is the unit of work a feed emits: one side of one pair's book,
// either fully replaced by a snapshot or adjusted by a single level entry.
// Events for the same pair must be processed in emission order.
type BookEvent struct {
	Venue string
	Pair  Pair
	Kind  EventKind
	Side  book.Side

	// Levels carries the full side for EventSnapshot.
	Levels []book.PriceLevel
	// Entry carries the single level for EventUpdate.
	Entry book.PriceLevel
}
