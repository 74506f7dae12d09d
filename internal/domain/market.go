// Package domain holds the shared value types and collaborator interfaces
// of the arbitrage service: pair identity, book events, orders, decisions,
// and the cache/store/bus capabilities that infrastructure adapters
// implement.
package domain

import (
	"fmt"
	"strings"
)

// Pair identifies one traded currency pair.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses a "BASE/QUOTE" pair symbol such as "BTC/USDT".
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), "/")
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("domain: parse pair %q: expected BASE/QUOTE", s)
	}
	return Pair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}, nil
}

// Iso returns the lowercase concatenated pair code used in cache keys and
// wire envelopes, e.g. "btcusdt".
func (p Pair) Iso() string {
	return strings.ToLower(p.Base + p.Quote)
}

// String returns the display form, e.g. "BTC/USDT".
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}
