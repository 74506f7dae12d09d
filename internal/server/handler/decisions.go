package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quantele/crossarb/internal/domain"
)

// streamScanLimit bounds how much of the decision stream the fallback
// path reads. The stream itself is capped well above any ?limit we
// accept.
const streamScanLimit = 512

// DecisionsHandler lists recently executed decisions. It prefers the
// durable store and falls back to the bus's decision stream when no
// store is configured.
type DecisionsHandler struct {
	store domain.DecisionStore
	bus   domain.SignalBus
}

func NewDecisionsHandler(store domain.DecisionStore, bus domain.SignalBus) *DecisionsHandler {
	return &DecisionsHandler{store: store, bus: bus}
}

type decisionPayload struct {
	ID          string    `json:"id"`
	Venue       string    `json:"venue"`
	Counterpart string    `json:"counterpart"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Outcome     string    `json:"outcome"`
	Strategy    string    `json:"strategy"`
	At          time.Time `json:"at"`
}

// List returns up to ?limit executed decisions, newest first.
// GET /api/decisions
func (h *DecisionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)

	if h.store != nil {
		decisions, err := h.store.ListRecent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "decision lookup failed")
			return
		}
		out := make([]decisionPayload, 0, len(decisions))
		for _, d := range decisions {
			out = append(out, decisionPayload{
				ID:          d.ID,
				Venue:       d.Venue,
				Counterpart: d.Counterpart,
				Pair:        d.Pair.String(),
				Side:        d.Side.String(),
				Outcome:     string(d.Outcome),
				Strategy:    d.Strategy,
				At:          d.At,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusOK, map[string]any{"decisions": []decisionPayload{}})
		return
	}

	// The stream reads oldest first; keep the tail and flip it so the
	// response matches the store path's ordering.
	msgs, err := h.bus.StreamRead(r.Context(), "stream:decisions", "0", streamScanLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "decision stream read failed")
		return
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, json.RawMessage(msgs[i].Payload))
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": out})
}
