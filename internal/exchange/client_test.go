package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(ClientConfig{
		Venue:      "alpha",
		BaseURL:    srv.URL,
		Key:        "test-key",
		Secret:     "c2VjcmV0LWJ5dGVz",
		Passphrase: "phrase",
		Timeout:    2 * time.Second,
	}, nil)
}

func mustPair(t *testing.T, s string) domain.Pair {
	t.Helper()
	pair, err := domain.ParsePair(s)
	require.NoError(t, err)
	return pair
}

func TestGetBook(t *testing.T) {
	var gotPath, gotKey string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-KEY")
		w.Write([]byte(`{"orderbook":{
			"asks":[[101.5,2,1700000001000],[102,1,1700000000500]],
			"bids":[[99.5,4,1700000000900]],
			"updated_at":"2024-01-15T10:30:00.5Z"
		}}`))
	}))

	snap, err := client.GetBook(context.Background(), mustPair(t, "BTC/USDT"))
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/orderbook", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, []book.PriceLevel{
		{Price: 101.5, Volume: 2, Timestamp: 1700000001000},
		{Price: 102, Volume: 1, Timestamp: 1700000000500},
	}, snap.Asks)
	assert.Equal(t, []book.PriceLevel{{Price: 99.5, Volume: 4, Timestamp: 1700000000900}}, snap.Bids)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 500_000_000, time.UTC), snap.UpdatedAt.UTC())
}

func TestPlaceOrder(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/orders", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-API-SIGNATURE"))
		require.NotEmpty(t, r.Header.Get("X-API-TIMESTAMP"))

		w.Write([]byte(`{"order":{
			"id":"EX-42","client_id":"cli-1","pair":"BTC/USDT",
			"side":"buy","type":"limit","price":99.5,"volume":2,
			"filled":0,"status":"open","created_at":"2024-01-15T10:30:00Z"
		}}`))
	}))

	order, err := client.Place(context.Background(), domain.OrderRequest{
		ClientID: "cli-1",
		Venue:    "alpha",
		Pair:     mustPair(t, "BTC/USDT"),
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeLimit,
		Price:    99.5,
		Volume:   2,
		Strategy: "market_making",
	})
	require.NoError(t, err)

	assert.Equal(t, "cli-1", order.ID)
	assert.Equal(t, "EX-42", order.ExchangeID)
	assert.Equal(t, "alpha", order.Venue)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.Equal(t, "market_making", order.Strategy)
}

func TestCancelOrder(t *testing.T) {
	var gotMethod, gotPath string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))

	require.NoError(t, client.Cancel(context.Background(), "EX-42"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/orders/EX-42", gotPath)
}

func TestActiveOrdersNetsRemainders(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		w.Write([]byte(`{"orders":[
			{"id":"A","pair":"BTC/USDT","side":"sell","type":"limit","price":101,"volume":2,"filled":0.5,"status":"open"},
			{"id":"B","pair":"BTC/USDT","side":"sell","type":"limit","price":102,"volume":1,"filled":1,"status":"open"},
			{"id":"C","pair":"BTC/USDT","side":"buy","type":"limit","price":99,"volume":3,"filled":0,"status":"open"}
		]}`))
	}))

	own, err := client.ActiveOrders(context.Background(), "alpha", mustPair(t, "BTC/USDT"))
	require.NoError(t, err)

	assert.Equal(t, []book.OwnOrder{{Price: 101, Volume: 1.5}}, own.Asks)
	assert.Equal(t, []book.OwnOrder{{Price: 99, Volume: 3}}, own.Bids)
}

func TestCheckStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: domain.ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: domain.ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, wantErr: domain.ErrUnauthorized},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: domain.ErrRateLimited},
		{name: "bad request", status: http.StatusBadRequest, wantErr: domain.ErrInvalidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"code":"oops","message":"nope"}`))
			}))

			_, err := client.GetBook(context.Background(), mustPair(t, "BTC/USDT"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckStatusUnmappedCode(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.GetBook(context.Background(), mustPair(t, "BTC/USDT"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
