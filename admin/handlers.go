// Package admin exposes a small debug HTTP surface for a running shipper:
// live cache stats, manual flush triggering and Prometheus metrics.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/logflume/cache"
)

// Handlers serves admin endpoints over one cache registry.
type Handlers struct {
	registry *cache.Registry
}

// NewHandlers creates admin handlers for the given registry (nil = default).
func NewHandlers(registry *cache.Registry) *Handlers {
	if registry == nil {
		registry = cache.DefaultRegistry
	}
	return &Handlers{registry: registry}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "ok"})
}

// handleStats returns per-cache buffering stats
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.registry.Stats())
}

// handleFlush triggers an asynchronous flush of one cache by name
func (h *Handlers) handleFlush(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	flusher, ok := h.registry.Lookup(name)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no cache named "+name)
		return
	}

	fut := flusher.FlushAndPublish(false)
	if fut == nil {
		writeJSONResponse(w, map[string]interface{}{"flushed": false, "reason": "empty"})
		return
	}
	writeJSONResponse(w, map[string]interface{}{"flushed": true})
}

// writeJSONResponse writes a JSON data envelope
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
