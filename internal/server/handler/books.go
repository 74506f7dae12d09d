package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// BookSource yields live mirror books by pair. The runner implements it.
type BookSource interface {
	Book(pair domain.Pair) *book.OrderBook
}

// BooksHandler serves one pair's mirror, raw and with own orders netted
// out.
type BooksHandler struct {
	venue  string
	pairs  map[string]domain.Pair // keyed by iso spelling
	source BookSource
	own    domain.OwnOrderSource // nil means no orders of ours to net
	log    *slog.Logger
}

func NewBooksHandler(venue string, pairs []domain.Pair, source BookSource, own domain.OwnOrderSource, logger *slog.Logger) *BooksHandler {
	idx := make(map[string]domain.Pair, len(pairs))
	for _, pair := range pairs {
		idx[pair.Iso()] = pair
	}
	return &BooksHandler{venue: venue, pairs: idx, source: source, own: own, log: logger}
}

type bookPayload struct {
	Venue     string          `json:"venue"`
	Pair      string          `json:"pair"`
	UpdatedAt time.Time       `json:"updated_at"`
	Asks      [][3]float64    `json:"asks"`
	Bids      [][3]float64    `json:"bids"`
	Stranger  strangerPayload `json:"stranger"`
}

type strangerPayload struct {
	Asks [][3]float64 `json:"asks"`
	Bids [][3]float64 `json:"bids"`
}

// Get returns the mirrored ladders for one pair plus the stranger view.
// GET /api/books/{iso}
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	iso := r.PathValue("iso")
	pair, ok := h.pairs[iso]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pair")
		return
	}
	b := h.source.Book(pair)
	if b == nil {
		writeError(w, http.StatusNotFound, "pair not mirrored")
		return
	}

	var own book.OwnOrderSet
	if h.own != nil {
		var err error
		own, err = h.own.ActiveOrders(r.Context(), h.venue, pair)
		if err != nil {
			h.log.ErrorContext(r.Context(), "own order lookup failed",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "own orders unavailable")
			return
		}
	}

	view := book.NewStrangerView(b, own)
	strangerAsks, err := view.Levels(book.SideAsk)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stranger view failed")
		return
	}
	strangerBids, err := view.Levels(book.SideBid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stranger view failed")
		return
	}

	writeJSON(w, http.StatusOK, bookPayload{
		Venue:     h.venue,
		Pair:      pair.String(),
		UpdatedAt: b.LastUpdatedAt(),
		Asks:      triples(b.Asks()),
		Bids:      triples(b.Bids()),
		Stranger: strangerPayload{
			Asks: triples(strangerAsks),
			Bids: triples(strangerBids),
		},
	})
}
