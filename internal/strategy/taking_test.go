package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantele/crossarb/internal/arbitrage"
	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

type fakePlacer struct {
	placeErr  error
	cancelErr error
	status    domain.OrderStatus // status reported back on success, open by default

	placed    []domain.OrderRequest
	cancelled []string
}

func (f *fakePlacer) Place(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	status := f.status
	if status == "" {
		status = domain.OrderStatusOpen
	}
	return domain.Order{
		ID:         req.ClientID,
		ExchangeID: fmt.Sprintf("EX-%d", len(f.placed)),
		Venue:      req.Venue,
		Pair:       req.Pair,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		Volume:     req.Volume,
		Status:     status,
	}, nil
}

func (f *fakePlacer) Cancel(_ context.Context, exchangeID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, exchangeID)
	return nil
}

type fakeOrderStore struct {
	active  []domain.Order
	listErr error

	created  []domain.Order
	placedID map[string]string
	statuses map[string]domain.OrderStatus
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		placedID: map[string]string{},
		statuses: map[string]domain.OrderStatus{},
	}
}

func (f *fakeOrderStore) Create(_ context.Context, o domain.Order) error {
	f.created = append(f.created, o)
	return nil
}

func (f *fakeOrderStore) MarkPlaced(_ context.Context, id, exchangeID string) error {
	f.placedID[id] = exchangeID
	return nil
}

func (f *fakeOrderStore) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeOrderStore) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (f *fakeOrderStore) ListActive(context.Context, string, domain.Pair) ([]domain.Order, error) {
	return f.active, f.listErr
}

func lv(price, volume float64) book.PriceLevel {
	return book.PriceLevel{Price: price, Volume: volume, Timestamp: 1}
}

// testMarket builds a two-venue market from explicit ladders, with volume
// 1 and a 0.1% cutoff unless the test overrides them.
func testMarket(t *testing.T, localAsks, localBids, remoteAsks, remoteBids []book.PriceLevel) arbitrage.Market {
	t.Helper()

	pair, err := domain.ParsePair("BTC/USDT")
	require.NoError(t, err)

	local := book.New("alpha", pair.Iso())
	require.NoError(t, local.Fill(book.SideAsk, localAsks))
	require.NoError(t, local.Fill(book.SideBid, localBids))

	remote := book.New("beta", pair.Iso())
	require.NoError(t, remote.Fill(book.SideAsk, remoteAsks))
	require.NoError(t, remote.Fill(book.SideBid, remoteBids))

	return arbitrage.Market{
		Pair:        pair,
		LocalVenue:  "alpha",
		RemoteVenue: "beta",
		Local:       local,
		Remote:      remote,
		Volume:      1,
		CutoffRate:  1.001,
	}
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestTakerBuysCheapLocalAsks(t *testing.T) {
	placer := &fakePlacer{status: domain.OrderStatusFilled}
	store := newFakeOrderStore()
	taker := NewTaker(placer, store, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 2)}, nil, []book.PriceLevel{lv(101, 2)}, nil)

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	require.True(t, executed)

	require.Len(t, placer.placed, 1)
	req := placer.placed[0]
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.Equal(t, domain.OrderTypeImmediate, req.Type)
	assert.Equal(t, 99.0, req.Price)
	assert.Equal(t, 1.0, req.Volume)
	assert.Equal(t, "market_taking", req.Strategy)
	assert.Equal(t, "alpha", req.Venue)

	require.Len(t, store.created, 1)
	assert.Equal(t, domain.OrderStatusPending, store.created[0].Status)
	assert.Equal(t, "EX-1", store.placedID[req.ClientID])
	assert.Equal(t, domain.OrderStatusFilled, store.statuses[req.ClientID])
}

func TestTakerSellsRichLocalBids(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, newFakeOrderStore(), discard())

	m := testMarket(t, nil, []book.PriceLevel{lv(105, 3)}, nil, []book.PriceLevel{lv(100, 3)})

	executed, err := taker.Attempt(context.Background(), book.SideBid, m)
	require.NoError(t, err)
	require.True(t, executed)

	require.Len(t, placer.placed, 1)
	assert.Equal(t, domain.OrderSideSell, placer.placed[0].Side)
	assert.Equal(t, 105.0, placer.placed[0].Price)
}

// A local ask above the counterpart's is a making opportunity, not a
// taking one: buying it would overpay against the reference.
func TestTakerIgnoresExpensiveLocalAsks(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, newFakeOrderStore(), discard())

	m := testMarket(t, []book.PriceLevel{lv(101, 2)}, nil, []book.PriceLevel{lv(99, 2)}, nil)

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Empty(t, placer.placed)
}

func TestTakerCutoffBoundary(t *testing.T) {
	tests := []struct {
		name     string
		cutoff   float64
		executed bool
	}{
		{name: "ratio exactly at cutoff executes", cutoff: 1.01, executed: true},
		{name: "ratio below cutoff declines", cutoff: 1.02, executed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placer := &fakePlacer{}
			taker := NewTaker(placer, nil, discard())

			m := testMarket(t, []book.PriceLevel{lv(100, 1)}, nil, []book.PriceLevel{lv(101, 1)}, nil)
			m.CutoffRate = tt.cutoff

			executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
			require.NoError(t, err)
			assert.Equal(t, tt.executed, executed)
		})
	}
}

func TestTakerVolumeCappedByLevel(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, nil, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 0.4)}, nil, []book.PriceLevel{lv(101, 2)}, nil)

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	require.True(t, executed)
	assert.InDelta(t, 0.4, placer.placed[0].Volume, 1e-12)
}

func TestTakerVolumeCappedByConfig(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, nil, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 50)}, nil, []book.PriceLevel{lv(101, 2)}, nil)
	m.Volume = 0.25

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	require.True(t, executed)
	assert.Equal(t, 0.25, placer.placed[0].Volume)
}

func TestTakerEmptyLadders(t *testing.T) {
	tests := []struct {
		name   string
		market func(t *testing.T) arbitrage.Market
	}{
		{
			name: "no local asks",
			market: func(t *testing.T) arbitrage.Market {
				return testMarket(t, nil, nil, []book.PriceLevel{lv(101, 2)}, nil)
			},
		},
		{
			name: "no counterpart asks",
			market: func(t *testing.T) arbitrage.Market {
				return testMarket(t, []book.PriceLevel{lv(99, 2)}, nil, nil, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placer := &fakePlacer{}
			taker := NewTaker(placer, nil, discard())

			executed, err := taker.Attempt(context.Background(), book.SideAsk, tt.market(t))
			require.NoError(t, err)
			assert.False(t, executed)
			assert.Empty(t, placer.placed)
		})
	}
}

// Own orders resting at the local best must not be taken: the apparent
// spread would be the system crossing itself.
func TestTakerNetsOwnOrders(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, nil, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 2)}, nil, []book.PriceLevel{lv(101, 2)}, nil)
	m.LocalOwn = book.OwnOrderSet{Asks: []book.OwnOrder{{Price: 99, Volume: 2}}}

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	assert.False(t, executed)
	assert.Empty(t, placer.placed)
}

func TestTakerPartialOwnVolumeStillTakes(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, nil, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 2)}, nil, []book.PriceLevel{lv(101, 2)}, nil)
	m.LocalOwn = book.OwnOrderSet{Asks: []book.OwnOrder{{Price: 99, Volume: 1.5}}}

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	require.True(t, executed)
	assert.InDelta(t, 0.5, placer.placed[0].Volume, 1e-12, "only the stranger remainder is takeable")
}

func TestTakerPlacementFailure(t *testing.T) {
	placer := &fakePlacer{placeErr: errors.New("insufficient balance")}
	store := newFakeOrderStore()
	taker := NewTaker(placer, store, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 2)}, nil, []book.PriceLevel{lv(101, 2)}, nil)

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.Error(t, err)
	assert.False(t, executed)

	require.Len(t, store.created, 1)
	assert.Equal(t, domain.OrderStatusFailed, store.statuses[store.created[0].ID])
}

func TestTakerNilStore(t *testing.T) {
	placer := &fakePlacer{}
	taker := NewTaker(placer, nil, discard())

	m := testMarket(t, []book.PriceLevel{lv(99, 2)}, nil, []book.PriceLevel{lv(101, 2)}, nil)

	executed, err := taker.Attempt(context.Background(), book.SideAsk, m)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Len(t, placer.placed, 1)
}
