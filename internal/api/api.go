// Package api exposes read-side HTTP endpoints over the paper fill ledger.
// These supplement the wire protocol's write-only order path with the
// query surface the original implementation's admin CLI scripts used
// directly against its paper_engine tables.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ndrandal/tradegate/internal/fillstore"
)

// Handler bundles the paper fill read endpoints.
type Handler struct {
	fills *fillstore.Store
}

// New constructs a Handler over the given fill store.
func New(fills *fillstore.Store) *Handler {
	return &Handler{fills: fills}
}

// Orders implements GET /paper/orders?symbol=&limit=&offset=&from=&to=.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := fillstore.OrderFilter{
		Symbol: q.Get("symbol"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &t
		}
	}

	fills, err := h.fills.QueryOrders(r.Context(), filter)
	if err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fills)
}

// Stats implements GET /paper/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.fills.QueryStats(r.Context())
	if err != nil {
		http.Error(w, "query failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
