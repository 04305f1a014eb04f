package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/autoflash/internal/generate"
	"github.com/ashureev/autoflash/internal/identity"
)

// AccountHandler serves the caller's identity and frontend configuration.
type AccountHandler struct {
	*Handler
	aiEnabled bool
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(base *Handler, aiEnabled bool) *AccountHandler {
	return &AccountHandler{Handler: base, aiEnabled: aiEnabled}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
}

// GetMe returns the current user's information.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// The middleware already loaded the row; contexts built elsewhere fall back to the store.
	user := identity.UserFromContext(r.Context())
	if user == nil || user.UserID != userID {
		var err error
		if user, err = h.repo.GetUser(r.Context(), userID); err != nil || user == nil {
			Error(w, http.StatusUnauthorized, "user not found")
			return
		}
	}
	h.presence.Touch(userID)

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
		"created_at": user.CreatedAt,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *AccountHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":         h.aiEnabled,
		"max_cards":          generate.MaxCount,
		"default_study_size": h.cfg.Study.DefaultLimit,
		"max_upload_bytes":   h.cfg.Upload.MaxBytes,
	})
}
