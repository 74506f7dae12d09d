package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantele/crossarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// defaultReconnectDelay is the base delay before reconnecting.
	defaultReconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// WSConfig configures the websocket book feed.
type WSConfig struct {
	URL   string
	Venue string
	Pairs []domain.Pair

	// ReconnectDelay is the base backoff, defaultReconnectDelay if zero.
	ReconnectDelay time.Duration

	// OnDisconnect, when set, is called each time an established
	// connection drops, before the backoff sleep.
	OnDisconnect func(err error)

	Logger *slog.Logger
}

// WSFeed holds a websocket against the venue's market-data endpoint. Each
// established connection subscribes to every configured pair; the first
// message per pair after a (re)connect loads as a snapshot so the local
// book restarts from the venue's current state rather than patching a
// mirror that drifted while disconnected.
type WSFeed struct {
	cfg WSConfig
	dec decoder
	log *slog.Logger
}

// NewWSFeed creates a websocket feed for the given venue and pairs.
func NewWSFeed(cfg WSConfig) *WSFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	log := cfg.Logger.With(
		slog.String("component", "ws_feed"),
		slog.String("venue", cfg.Venue),
	)
	return &WSFeed{
		cfg: cfg,
		dec: newDecoder(cfg.Venue, cfg.Pairs, log),
		log: log,
	}
}

// Run connects, subscribes, and pumps events to out until ctx is
// cancelled, reconnecting with exponential backoff whenever the
// connection drops.
func (f *WSFeed) Run(ctx context.Context, out chan<- domain.BookEvent) error {
	delay := f.cfg.ReconnectDelay

	for {
		connected, err := f.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.cfg.ReconnectDelay
			if f.cfg.OnDisconnect != nil {
				f.cfg.OnDisconnect(err)
			}
		}
		f.log.WarnContext(ctx, "feed disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection to completion: dial, subscribe, then read
// until the connection fails or ctx ends. connected reports whether the
// dial and subscribe succeeded, which resets the caller's backoff.
func (f *WSFeed) session(ctx context.Context, out chan<- domain.BookEvent) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: connect %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return false, err
	}
	f.log.InfoContext(ctx, "feed connected", slog.Int("pairs", len(f.cfg.Pairs)))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the conn is the only way to unblock a pending read when
	// ctx ends.
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()
	go f.pingLoop(sessCtx, conn)

	seen := make(map[string]bool, len(f.cfg.Pairs))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}

		for _, ev := range f.dec.decode(raw, seen) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
	}
}

// subscribe sends one subscribe message per configured pair.
func (f *WSFeed) subscribe(conn *websocket.Conn) error {
	for _, p := range f.cfg.Pairs {
		msg := struct {
			Type string `json:"type"`
			Pair string `json:"pair"`
		}{Type: "subscribe", Pair: p.Iso()}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", p, err)
		}
	}
	return nil
}

// pingLoop keeps the connection alive until the session ends or a write
// fails.
func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ BookFeed = (*WSFeed)(nil)
