package handler

import (
	"net/http"
	"time"

	"github.com/quantele/crossarb/internal/book"
	"github.com/quantele/crossarb/internal/domain"
)

// StatusSource exposes the runtime state the status endpoint reports.
// The runner implements it.
type StatusSource interface {
	Book(pair domain.Pair) *book.OrderBook
	LastDecisions() map[domain.Pair]domain.Decision
}

// StatusHandler reports process mode, uptime, and per-pair mirror state.
type StatusHandler struct {
	venue       string
	counterpart string
	mode        string
	pairs       []domain.Pair
	source      StatusSource
	startedAt   time.Time
}

func NewStatusHandler(venue, counterpart, mode string, pairs []domain.Pair, source StatusSource) *StatusHandler {
	return &StatusHandler{
		venue:       venue,
		counterpart: counterpart,
		mode:        mode,
		pairs:       pairs,
		source:      source,
		startedAt:   time.Now().UTC(),
	}
}

type statusBook struct {
	BestAsk    *[3]float64 `json:"best_ask"`
	BestBid    *[3]float64 `json:"best_bid"`
	UpdatedAt  *time.Time  `json:"updated_at"`
	AgeSeconds *float64    `json:"age_seconds"`
}

type statusDecision struct {
	ID       string    `json:"id"`
	Side     string    `json:"side"`
	Outcome  string    `json:"outcome"`
	Strategy string    `json:"strategy,omitempty"`
	At       time.Time `json:"at"`
}

type statusPair struct {
	Pair         string          `json:"pair"`
	Iso          string          `json:"iso"`
	Book         statusBook      `json:"book"`
	LastDecision *statusDecision `json:"last_decision,omitempty"`
}

// Get reports the process configuration and, per pair, the mirror's best
// levels, its age, and the latest cycle decision.
// GET /api/status
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	last := h.source.LastDecisions()

	pairs := make([]statusPair, 0, len(h.pairs))
	for _, pair := range h.pairs {
		sp := statusPair{Pair: pair.String(), Iso: pair.Iso()}

		if b := h.source.Book(pair); b != nil {
			if at := b.LastUpdatedAt(); !at.IsZero() {
				age := now.Sub(at).Seconds()
				sp.Book.UpdatedAt = &at
				sp.Book.AgeSeconds = &age
			}
			if lvl, ok := b.BestAsk(); ok {
				t := [3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
				sp.Book.BestAsk = &t
			}
			if lvl, ok := b.BestBid(); ok {
				t := [3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
				sp.Book.BestBid = &t
			}
		}

		if dec, ok := last[pair]; ok {
			sp.LastDecision = &statusDecision{
				ID:       dec.ID,
				Side:     dec.Side.String(),
				Outcome:  string(dec.Outcome),
				Strategy: dec.Strategy,
				At:       dec.At,
			}
		}

		pairs = append(pairs, sp)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"venue":          h.venue,
		"counterpart":    h.counterpart,
		"mode":           h.mode,
		"uptime_seconds": now.Sub(h.startedAt).Seconds(),
		"pairs":          pairs,
	})
}
