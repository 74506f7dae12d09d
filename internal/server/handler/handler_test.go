package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func mustPair(t *testing.T, s string) domain.Pair {
	t.Helper()
	p, err := domain.ParsePair(s)
	require.NoError(t, err)
	return p
}

// fakeState backs both the status and books endpoints the way the runner
// does.
type fakeState struct {
	books     map[domain.Pair]*book.OrderBook
	decisions map[domain.Pair]domain.Decision
}

func (f *fakeState) Book(pair domain.Pair) *book.OrderBook { return f.books[pair] }

func (f *fakeState) LastDecisions() map[domain.Pair]domain.Decision {
	out := make(map[domain.Pair]domain.Decision, len(f.decisions))
	for k, v := range f.decisions {
		out[k] = v
	}
	return out
}

type fakeOwn struct {
	set book.OwnOrderSet
	err error
}

func (f *fakeOwn) ActiveOrders(ctx context.Context, venue string, pair domain.Pair) (book.OwnOrderSet, error) {
	return f.set, f.err
}

type fakeStore struct {
	decisions []domain.Decision
	err       error
}

func (f *fakeStore) Insert(ctx context.Context, d domain.Decision) error { return nil }

func (f *fakeStore) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.decisions) {
		limit = len(f.decisions)
	}
	return f.decisions[:limit], nil
}

// fakeBus only serves StreamRead; the handlers never publish.
type fakeBus struct {
	msgs []domain.StreamMessage
	err  error
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (f *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return f.msgs, f.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("alpha")

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "alpha", body["venue"])
}

func TestStatusReportsPairState(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	quiet := mustPair(t, "ETH/USDT")

	b := book.New("alpha", pair.Iso())
	require.NoError(t, b.Fill(book.SideAsk, []book.PriceLevel{{Price: 101, Volume: 2, Timestamp: 5}}))
	require.NoError(t, b.Fill(book.SideBid, []book.PriceLevel{{Price: 100, Volume: 1, Timestamp: 5}}))

	state := &fakeState{
		books: map[domain.Pair]*book.OrderBook{pair: b, quiet: book.New("alpha", quiet.Iso())},
		decisions: map[domain.Pair]domain.Decision{
			pair: {
				ID:       "d1",
				Side:     book.SideAsk,
				Outcome:  domain.OutcomeTaken,
				Strategy: "market_taking",
				At:       time.Now().UTC(),
			},
		},
	}
	h := NewStatusHandler("alpha", "beta", "run", []domain.Pair{pair, quiet}, state)

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alpha", body["venue"])
	assert.Equal(t, "beta", body["counterpart"])
	assert.Equal(t, "run", body["mode"])

	pairs, ok := body["pairs"].([]any)
	require.True(t, ok)
	require.Len(t, pairs, 2)

	first := pairs[0].(map[string]any)
	assert.Equal(t, "BTC/USDT", first["pair"])
	assert.Equal(t, "btcusdt", first["iso"])
	bb := first["book"].(map[string]any)
	assert.Equal(t, []any{101.0, 2.0, 5.0}, bb["best_ask"])
	assert.Equal(t, []any{100.0, 1.0, 5.0}, bb["best_bid"])
	assert.NotNil(t, bb["updated_at"])
	dec := first["last_decision"].(map[string]any)
	assert.Equal(t, "taken", dec["outcome"])
	assert.Equal(t, "ask", dec["side"])

	// The never-populated pair reports null book fields and no decision.
	second := pairs[1].(map[string]any)
	assert.Equal(t, "ETH/USDT", second["pair"])
	qb := second["book"].(map[string]any)
	assert.Nil(t, qb["best_ask"])
	assert.Nil(t, qb["updated_at"])
	assert.NotContains(t, second, "last_decision")
}

func newBooksFixture(t *testing.T, own domain.OwnOrderSource) (*BooksHandler, domain.Pair) {
	t.Helper()
	pair := mustPair(t, "BTC/USDT")

	b := book.New("alpha", pair.Iso())
	require.NoError(t, b.Fill(book.SideAsk, []book.PriceLevel{
		{Price: 101, Volume: 2, Timestamp: 5},
		{Price: 102, Volume: 1, Timestamp: 5},
	}))
	require.NoError(t, b.Fill(book.SideBid, []book.PriceLevel{{Price: 100, Volume: 3, Timestamp: 5}}))

	state := &fakeState{books: map[domain.Pair]*book.OrderBook{pair: b}}
	return NewBooksHandler("alpha", []domain.Pair{pair}, state, own, discard()), pair
}

func booksRequest(iso string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/books/"+iso, nil)
	r.SetPathValue("iso", iso)
	return r
}

func TestBooksReturnsLaddersAndStrangerView(t *testing.T) {
	own := &fakeOwn{set: book.OwnOrderSet{
		Asks: []book.OwnOrder{{Price: 101, Volume: 2}},
		Bids: []book.OwnOrder{{Price: 100, Volume: 1}},
	}}
	h, _ := newBooksFixture(t, own)

	rec := httptest.NewRecorder()
	h.Get(rec, booksRequest("btcusdt"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alpha", body["venue"])
	assert.Equal(t, "BTC/USDT", body["pair"])

	asks := body["asks"].([]any)
	require.Len(t, asks, 2)
	assert.Equal(t, []any{101.0, 2.0, 5.0}, asks[0])

	// Own volume is netted out: the fully owned 101 level disappears and
	// the partially owned bid shrinks.
	stranger := body["stranger"].(map[string]any)
	sAsks := stranger["asks"].([]any)
	require.Len(t, sAsks, 1)
	assert.Equal(t, []any{102.0, 1.0, 5.0}, sAsks[0])
	sBids := stranger["bids"].([]any)
	require.Len(t, sBids, 1)
	assert.Equal(t, []any{100.0, 2.0, 5.0}, sBids[0])
}

func TestBooksWithoutOwnSourceServesRawLadders(t *testing.T) {
	h, _ := newBooksFixture(t, nil)

	rec := httptest.NewRecorder()
	h.Get(rec, booksRequest("btcusdt"))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	stranger := body["stranger"].(map[string]any)
	assert.Len(t, stranger["asks"].([]any), 2)
}

func TestBooksUnknownPairIs404(t *testing.T) {
	h, _ := newBooksFixture(t, nil)

	rec := httptest.NewRecorder()
	h.Get(rec, booksRequest("dogeusdt"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBooksOwnOrderFailureIs502(t *testing.T) {
	h, _ := newBooksFixture(t, &fakeOwn{err: errors.New("venue down")})

	rec := httptest.NewRecorder()
	h.Get(rec, booksRequest("btcusdt"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDecisionsPrefersStore(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	store := &fakeStore{decisions: []domain.Decision{
		{ID: "d2", Venue: "alpha", Counterpart: "beta", Pair: pair, Side: book.SideBid, Outcome: domain.OutcomeMade, Strategy: "market_making", At: time.Now().UTC()},
		{ID: "d1", Venue: "alpha", Counterpart: "beta", Pair: pair, Side: book.SideAsk, Outcome: domain.OutcomeTaken, Strategy: "market_taking", At: time.Now().UTC().Add(-time.Minute)},
	}}
	h := NewDecisionsHandler(store, &fakeBus{err: errors.New("must not be used")})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/decisions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	decisions := body["decisions"].([]any)
	require.Len(t, decisions, 2)
	newest := decisions[0].(map[string]any)
	assert.Equal(t, "d2", newest["id"])
	assert.Equal(t, "made", newest["outcome"])
	assert.Equal(t, "bid", newest["side"])
	assert.Equal(t, "BTC/USDT", newest["pair"])
}

func TestDecisionsLimitIsClamped(t *testing.T) {
	var decisions []domain.Decision
	for i := 0; i < 30; i++ {
		decisions = append(decisions, domain.Decision{ID: fmt.Sprintf("d%d", i)})
	}
	h := NewDecisionsHandler(&fakeStore{decisions: decisions}, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/decisions?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["decisions"].([]any), 10)
}

func TestDecisionsFallsBackToStream(t *testing.T) {
	bus := &fakeBus{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"id":"old"}`)},
		{ID: "2-0", Payload: []byte(`{"id":"mid"}`)},
		{ID: "3-0", Payload: []byte(`{"id":"new"}`)},
	}}
	h := NewDecisionsHandler(nil, bus)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/decisions?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	decisions := body["decisions"].([]any)
	require.Len(t, decisions, 2)
	// Tail of the stream, flipped to newest first.
	assert.Equal(t, "new", decisions[0].(map[string]any)["id"])
	assert.Equal(t, "mid", decisions[1].(map[string]any)["id"])
}

func TestDecisionsWithNoBackendIsEmpty(t *testing.T) {
	h := NewDecisionsHandler(nil, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/decisions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["decisions"])
}

func TestDecisionsStoreFailureIs500(t *testing.T) {
	h := NewDecisionsHandler(&fakeStore{err: errors.New("pool closed")}, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/decisions", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
