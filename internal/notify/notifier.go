// Package notify pushes operator alerts for trading events over one or
// more channels. The Notifier fans each alert out to its senders and
// filters by event name so operators subscribe to only the alerts they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event names one alertable occurrence in the trading loop.
type Event string

const (
	// EventTaken fires when the taking strategy lifts local liquidity.
	EventTaken Event = "taken"
	// EventMade fires when the making strategy places a quote.
	EventMade Event = "made"
	// EventFeedDown fires when an established market-data connection drops.
	EventFeedDown Event = "feed_down"
	// EventUpstreamError fires when a cycle aborts on a collaborator
	// failure.
	EventUpstreamError Event = "upstream_error"
)

// Sender delivers one alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to its senders, filtered by event. An empty
// event list allows everything.
type Notifier struct {
	senders []Sender
	allowed map[Event]bool
	log     *slog.Logger
}

// NewNotifier builds a Notifier delivering to senders. Only events named
// in events pass the filter; an empty list passes all of them.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		log:     logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to every sender unless the event is filtered
// out. Every sender is attempted; failures are joined into a single error.
func (n *Notifier) Notify(ctx context.Context, event Event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.log.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(event)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(failed, "; "))
	}
	return nil
}
