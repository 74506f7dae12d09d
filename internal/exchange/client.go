// Package exchange is the REST client for the local venue's trading API. It
// implements order placement and cancellation plus the own-order and book
// queries the decision cycle needs.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/crypto"
	"github.com/quantele/crossarb/internal/domain"
)

// slotPollInterval is how long the client sleeps between shared rate-limit
// probes when the budget is exhausted.
const slotPollInterval = 100 * time.Millisecond

// ClientConfig holds the venue API parameters.
type ClientConfig struct {
	Venue             string
	BaseURL           string
	Key               string
	Secret            string
	Passphrase        string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client is the REST client for the venue trading API. All requests are
// HMAC-signed; when a limiter is supplied every request first claims a slot
// from the shared budget so redundant instances never exceed the venue's
// limit together.
type Client struct {
	venue      string
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	limiter    domain.RateLimiter
	perMinute  int
}

// New creates a venue REST client. limiter may be nil, in which case requests
// are not gated.
func New(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 300
	}

	return &Client{
		venue:   cfg.Venue,
		baseURL: cfg.BaseURL,
		auth: &crypto.HMACAuth{
			Key:        cfg.Key,
			Secret:     cfg.Secret,
			Passphrase: cfg.Passphrase,
		},
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		perMinute:  perMinute,
	}
}

// Venue returns the venue name this client trades on.
func (c *Client) Venue() string { return c.venue }

// GetBook fetches the venue's current book for a pair. It is used to prime
// local books before the feed's first snapshot arrives.
func (c *Client) GetBook(ctx context.Context, pair domain.Pair) (domain.CachedBook, error) {
	path := "/api/v1/orderbook?" + url.Values{"pair": {pair.Iso()}}.Encode()

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.CachedBook{}, fmt.Errorf("exchange: get book %s: %w", pair, err)
	}

	var resp struct {
		Orderbook bookDTO `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CachedBook{}, fmt.Errorf("exchange: decode book %s: %w", pair, err)
	}

	snap := domain.CachedBook{
		Asks: levels(resp.Orderbook.Asks),
		Bids: levels(resp.Orderbook.Bids),
	}
	if resp.Orderbook.UpdatedAt != "" {
		snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, resp.Orderbook.UpdatedAt)
	}
	return snap, nil
}

// Place submits a new order and returns the accepted order with its
// venue-assigned id.
func (c *Client) Place(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	dto := orderRequestDTO{
		ClientID: req.ClientID,
		Pair:     req.Pair.String(),
		Side:     string(req.Side),
		Type:     string(req.Type),
		Price:    req.Price,
		Volume:   req.Volume,
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/api/v1/orders", dto)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchange: place order: %w", err)
	}

	var resp struct {
		Order orderDTO `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: decode order response: %w", err)
	}

	order, err := resp.Order.toDomain(c.venue)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchange: place order: %w", err)
	}
	order.Strategy = req.Strategy
	return order, nil
}

// Cancel cancels an existing order by its venue-assigned id.
func (c *Client) Cancel(ctx context.Context, exchangeID string) error {
	path := "/api/v1/orders/" + url.PathEscape(exchangeID)

	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", exchangeID, err)
	}
	return nil
}

// ActiveOrders implements domain.OwnOrderSource against the venue API,
// returning the unfilled remainders of this account's resting orders.
func (c *Client) ActiveOrders(ctx context.Context, venue string, pair domain.Pair) (book.OwnOrderSet, error) {
	path := "/api/v1/orders?" + url.Values{
		"pair":   {pair.Iso()},
		"status": {"active"},
	}.Encode()

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return book.OwnOrderSet{}, fmt.Errorf("exchange: list active orders %s: %w", pair, err)
	}

	var resp struct {
		Orders []orderDTO `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return book.OwnOrderSet{}, fmt.Errorf("exchange: decode active orders %s: %w", pair, err)
	}

	var own book.OwnOrderSet
	for _, dto := range resp.Orders {
		remaining := dto.Volume - dto.Filled
		if remaining <= 0 {
			continue
		}
		lvl := book.OwnOrder{Price: dto.Price, Volume: remaining}
		if domain.OrderSide(dto.Side) == domain.OrderSideSell {
			own.Asks = append(own.Asks, lvl)
		} else {
			own.Bids = append(own.Bids, lvl)
		}
	}
	return own, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// venue API, claiming a shared rate-limit slot first.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		bodyStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// waitForSlot blocks until the shared rate limiter admits one request, or the
// context is cancelled. A nil limiter admits immediately.
func (c *Client) waitForSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	key := "exchange:" + c.venue
	for {
		allowed, err := c.limiter.Allow(ctx, key, c.perMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(slotPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("rejected: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrInvalidOrder)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// Compile-time interface checks.
var (
	_ domain.OrderPlacer    = (*Client)(nil)
	_ domain.OwnOrderSource = (*Client)(nil)
)
