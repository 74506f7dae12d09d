package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantele/crossarb/internal/domain"
)

// chanBus hands each subscription a channel the test can push into.
type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{subs: make(map[string]chan []byte)}
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func (b *chanBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (b *chanBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, errors.New("not implemented")
}

func (b *chanBus) push(t *testing.T, channel string, payload []byte) {
	t.Helper()
	b.mu.Lock()
	ch, ok := b.subs[channel]
	b.mu.Unlock()
	require.True(t, ok, "no subscription for channel %s", channel)
	ch <- payload
}

func (b *chanBus) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[channel]
	return ok
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubBridgesBusChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := NewHub(bus, Config{Mode: "run", Venue: "alpha"}, slog.New(slog.DiscardHandler))

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	require.Eventually(t, func() bool {
		return bus.subscribed("decisions") && bus.subscribed("books")
	}, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First frame is the hello envelope.
	hello := readEnvelope(t, conn)
	assert.Equal(t, "status", hello.Channel)
	var status map[string]any
	require.NoError(t, json.Unmarshal(hello.Data, &status))
	assert.Equal(t, "run", status["mode"])
	assert.Equal(t, "alpha", status["venue"])

	bus.push(t, "decisions", []byte(`{"id":"d1","outcome":"taken"}`))
	env := readEnvelope(t, conn)
	assert.Equal(t, "decisions", env.Channel)
	assert.JSONEq(t, `{"id":"d1","outcome":"taken"}`, string(env.Data))

	bus.push(t, "books", []byte(`{"pair":"BTC/USDT","best_ask":[101,2,5]}`))
	env = readEnvelope(t, conn)
	assert.Equal(t, "books", env.Channel)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
}

func TestHubFansOutToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := NewHub(bus, Config{Mode: "mirror", Venue: "alpha", Channels: []string{"books"}}, slog.New(slog.DiscardHandler))

	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	require.Eventually(t, func() bool { return bus.subscribed("books") },
		2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	readEnvelope(t, first)  // hello
	readEnvelope(t, second) // hello

	require.Eventually(t, func() bool { return hub.clientCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	bus.push(t, "books", []byte(`{"pair":"BTC/USDT"}`))

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		assert.Equal(t, "books", env.Channel)
	}
}
