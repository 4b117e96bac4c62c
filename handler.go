package gateway

import (
	"log/slog"
	"net/http"

	"github.com/dealcoach/gateway/events"
	"github.com/dealcoach/gateway/pkg/slogx"
	json "github.com/goccy/go-json"
)

// Handler exposes the gateway over HTTP: a streaming chat endpoint, a health
// check, and a usage stats endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", g.handleChat)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /usage/stats", g.handleUsageStats)
	return mux
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stream, err := g.Chat(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for ev := range stream {
		if err := events.WriteSSE(w, ev); err != nil {
			slog.Debug("client disconnected", slogx.Error(err))
			return
		}
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := g.ledger.Stats()
	writeJSON(w, map[string]any{
		"status":               "healthy",
		"active_threads":       stats.ThreadCount,
		"total_tokens_tracked": stats.TotalTokens,
		"max_thread_age":       g.janitor.MaxThreadAge().String(),
		"sweep_interval":       g.janitor.Interval().String(),
	})
}

func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, g.ledger.Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slogx.Error(err))
	}
}
