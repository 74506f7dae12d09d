package feed

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// wirePayload is the feed envelope, shared by full snapshots and
// incremental updates. Each ladder entry is a [price, volume, timestamp]
// triple; the timestamp may be omitted.
type wirePayload struct {
	Pair      string        `json:"pair"`
	Type      string        `json:"type"` // "snapshot" or "update", may be absent
	Orderbook wireOrderbook `json:"orderbook"`
}

type wireOrderbook struct {
	Asks []json.RawMessage `json:"asks"`
	Bids []json.RawMessage `json:"bids"`
}

// parseLevel decodes one triple. ok is false for entries the books must
// never see: malformed JSON, short arrays, non-positive prices, negative
// volumes. Zero volume passes, it is the removal sentinel.
func parseLevel(raw json.RawMessage) (book.PriceLevel, bool) {
	var t []float64
	if err := json.Unmarshal(raw, &t); err != nil || len(t) < 2 {
		return book.PriceLevel{}, false
	}
	lvl := book.PriceLevel{Price: t[0], Volume: t[1]}
	if len(t) > 2 {
		lvl.Timestamp = int64(t[2])
	}
	if lvl.Price <= 0 || lvl.Volume < 0 {
		return book.PriceLevel{}, false
	}
	return lvl, true
}

// decoder turns raw feed payloads into book events for one venue's
// configured pairs. It is shared by the websocket and kafka transports.
type decoder struct {
	venue string
	pairs map[string]domain.Pair
	log   *slog.Logger
}

// newDecoder indexes the pairs under both their BASE/QUOTE and iso
// spellings so either form on the wire routes.
func newDecoder(venue string, pairs []domain.Pair, log *slog.Logger) decoder {
	idx := make(map[string]domain.Pair, len(pairs)*2)
	for _, p := range pairs {
		idx[strings.ToLower(p.String())] = p
		idx[p.Iso()] = p
	}
	return decoder{venue: venue, pairs: idx, log: log}
}

// decode parses one payload and returns its events in payload order, nil
// for payloads to drop. seen tracks which pairs have delivered since the
// transport (re)connected: an untyped first message per pair loads as a
// snapshot, later untyped ones apply as updates, and an explicit type
// always wins. Bad entries are skipped level by level so one garbled
// triple cannot blank a whole side.
func (d decoder) decode(raw []byte, seen map[string]bool) []domain.BookEvent {
	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.log.Debug("dropping unparseable payload", slog.String("error", err.Error()))
		return nil
	}

	key := strings.ToLower(strings.TrimSpace(p.Pair))
	pair, ok := d.pairs[key]
	if !ok {
		if key != "" {
			d.log.Debug("dropping payload for unconfigured pair", slog.String("pair", p.Pair))
		}
		return nil
	}

	snapshot := !seen[pair.Iso()]
	seen[pair.Iso()] = true
	switch p.Type {
	case "snapshot":
		snapshot = true
	case "update":
		snapshot = false
	}

	if snapshot {
		return []domain.BookEvent{
			{Venue: d.venue, Pair: pair, Kind: domain.EventSnapshot, Side: book.SideAsk, Levels: d.levels(pair, p.Orderbook.Asks)},
			{Venue: d.venue, Pair: pair, Kind: domain.EventSnapshot, Side: book.SideBid, Levels: d.levels(pair, p.Orderbook.Bids)},
		}
	}

	events := make([]domain.BookEvent, 0, len(p.Orderbook.Asks)+len(p.Orderbook.Bids))
	for _, entry := range p.Orderbook.Asks {
		lvl, ok := parseLevel(entry)
		if !ok {
			d.skip(pair, entry)
			continue
		}
		events = append(events, domain.BookEvent{Venue: d.venue, Pair: pair, Kind: domain.EventUpdate, Side: book.SideAsk, Entry: lvl})
	}
	for _, entry := range p.Orderbook.Bids {
		lvl, ok := parseLevel(entry)
		if !ok {
			d.skip(pair, entry)
			continue
		}
		events = append(events, domain.BookEvent{Venue: d.venue, Pair: pair, Kind: domain.EventUpdate, Side: book.SideBid, Entry: lvl})
	}
	return events
}

// levels parses one snapshot side, dropping bad entries.
func (d decoder) levels(pair domain.Pair, raws []json.RawMessage) []book.PriceLevel {
	out := make([]book.PriceLevel, 0, len(raws))
	for _, entry := range raws {
		lvl, ok := parseLevel(entry)
		if !ok {
			d.skip(pair, entry)
			continue
		}
		out = append(out, lvl)
	}
	return out
}

func (d decoder) skip(pair domain.Pair, entry json.RawMessage) {
	d.log.Debug("skipping bad level",
		slog.String("pair", pair.String()),
		slog.String("entry", string(entry)),
	)
}
