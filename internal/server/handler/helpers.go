// Package handler implements the HTTP API endpoints.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/quantele/crossarb/internal/book"
)

// writeJSON marshals v and writes it with the given status. Marshal
// failures degrade to a plain 500 so the client always gets a response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit, falling back to def and clamping to max.
func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// triples renders a ladder as [price, volume, timestamp] rows, the same
// shape the feeds deliver.
func triples(levels []book.PriceLevel) [][3]float64 {
	out := make([][3]float64, len(levels))
	for i, lvl := range levels {
		out[i] = [3]float64{lvl.Price, lvl.Volume, float64(lvl.Timestamp)}
	}
	return out
}
