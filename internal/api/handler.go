// Package api provides HTTP handlers for the autoflash API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/autoflash/internal/config"
	"github.com/ashureev/autoflash/internal/identity"
	"github.com/ashureev/autoflash/internal/metrics"
	"github.com/ashureev/autoflash/internal/store"
	"github.com/ashureev/autoflash/internal/study"
)

// maxJSONBody caps request bodies that are not file uploads.
const maxJSONBody = 1 << 20

// lastSeenInterval is the minimum spacing of last_seen_at writes per user.
const lastSeenInterval = time.Minute

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	cfg     *config.Config
	metrics  *metrics.Metrics
	presence *identity.Presence
}

// NewHandler creates a new Handler with common dependencies. m may be nil.
func NewHandler(repo store.Repository, cfg *config.Config, m *metrics.Metrics) *Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handler{
		repo:     repo,
		cfg:      cfg,
		metrics:  m,
		presence: identity.NewPresence(repo, lastSeenInterval),
	}
}

// Presence returns the throttled last-seen writer shared by all handlers.
func (h *Handler) Presence() *identity.Presence {
	return h.presence
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// studyKey returns the registry key of the caller's browser tab.
func studyKey(r *http.Request) study.Key {
	return study.Key{
		UserID:    identity.UserIDFromContext(r.Context()),
		SessionID: identity.SessionIDFromContext(r.Context()),
	}
}
