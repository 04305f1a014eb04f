package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/autoflash/internal/domain"
	"github.com/ashureev/autoflash/internal/generate"
	"github.com/ashureev/autoflash/internal/identity"
	"github.com/ashureev/autoflash/internal/store"
)

// maxManualCards bounds a single manual create request.
const maxManualCards = 100

// FlashcardHandler handles the flashcard collection endpoints.
type FlashcardHandler struct {
	*Handler
	gen generate.Generator
}

// NewFlashcardHandler creates a flashcard handler. gen may be nil, which
// disables the improve endpoint.
func NewFlashcardHandler(base *Handler, gen generate.Generator) *FlashcardHandler {
	return &FlashcardHandler{Handler: base, gen: gen}
}

// RegisterRoutes registers flashcard routes.
func (h *FlashcardHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/flashcards", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/improve", h.Improve)
	})
	r.Get("/api/categories", h.Categories)
	r.Get("/api/stats", h.Stats)
}

// parseListQuery reads category, q, sort and order. Without a sort the
// newest cards come first.
func parseListQuery(r *http.Request) (domain.ListQuery, error) {
	v := r.URL.Query()
	q := domain.ListQuery{
		Category: strings.TrimSpace(v.Get("category")),
		Search:   v.Get("q"),
		SortBy:   domain.SortCreatedAt,
	}

	if s := v.Get("sort"); s != "" {
		switch f := domain.SortField(s); f {
		case domain.SortCreatedAt, domain.SortDifficulty, domain.SortCategory, domain.SortReviewCount:
			q.SortBy = f
		default:
			return q, fmt.Errorf("unknown sort field %q", s)
		}
	}

	switch order := v.Get("order"); order {
	case "":
		q.Descending = q.SortBy == domain.SortCreatedAt
	case "asc":
	case "desc":
		q.Descending = true
	default:
		return q, fmt.Errorf("unknown order %q", order)
	}
	return q, nil
}

// List returns the caller's flashcards, filtered and sorted.
func (h *FlashcardHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	cards, err := h.repo.ListFlashcards(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list flashcards", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load flashcards")
		return
	}

	cards = domain.Filter(cards, q)
	JSON(w, http.StatusOK, map[string]interface{}{
		"flashcards": cards,
		"count":      len(cards),
	})
}

type createFlashcardsRequest struct {
	Flashcards []domain.FlashcardDraft `json:"flashcards"`
}

// Create stores hand-written cards.
func (h *FlashcardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFlashcardsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Flashcards) == 0 {
		Error(w, http.StatusBadRequest, "no flashcards supplied")
		return
	}
	if len(req.Flashcards) > maxManualCards {
		Error(w, http.StatusBadRequest, fmt.Sprintf("at most %d flashcards per request", maxManualCards))
		return
	}

	drafts := make([]domain.FlashcardDraft, 0, len(req.Flashcards))
	for i, d := range req.Flashcards {
		clean, err := generate.CleanDraft(d)
		if err != nil {
			Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("flashcard %d: %v", i, err))
			return
		}
		drafts = append(drafts, clean)
	}

	userID := identity.UserIDFromContext(r.Context())
	cards, err := h.repo.CreateFlashcards(r.Context(), userID, drafts)
	if err != nil {
		slog.Error("Failed to create flashcards", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save flashcards")
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"flashcards": cards})
}

// load fetches the card named in the URL, writing an error response when it
// cannot be returned.
func (h *FlashcardHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Flashcard, bool) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	card, err := h.repo.GetFlashcard(r.Context(), userID, id)
	if err != nil {
		slog.Error("Failed to load flashcard", "error", err, "user_id", userID, "flashcard_id", id)
		Error(w, http.StatusInternalServerError, "failed to load flashcard")
		return nil, false
	}
	if card == nil {
		Error(w, http.StatusNotFound, "flashcard not found")
		return nil, false
	}
	return card, true
}

// Get returns one flashcard.
func (h *FlashcardHandler) Get(w http.ResponseWriter, r *http.Request) {
	card, ok := h.load(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, card)
}

type updateFlashcardRequest struct {
	Question   *string            `json:"question"`
	Answer     *string            `json:"answer"`
	Category   *string            `json:"category"`
	Difficulty *domain.Difficulty `json:"difficulty"`
	Tags       []string           `json:"tags"`
}

func (u updateFlashcardRequest) merge(d domain.FlashcardDraft) domain.FlashcardDraft {
	if u.Question != nil {
		d.Question = *u.Question
	}
	if u.Answer != nil {
		d.Answer = *u.Answer
	}
	if u.Category != nil {
		d.Category = *u.Category
	}
	if u.Difficulty != nil {
		d.Difficulty = *u.Difficulty
	}
	if u.Tags != nil {
		d.Tags = u.Tags
	}
	return d
}

// Update edits the supplied fields of a card.
func (h *FlashcardHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateFlashcardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	card, ok := h.load(w, r)
	if !ok {
		return
	}

	draft, err := generate.CleanDraft(req.merge(card.Draft()))
	if err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	card.Apply(draft)
	h.save(w, r, card)
}

func (h *FlashcardHandler) save(w http.ResponseWriter, r *http.Request, card *domain.Flashcard) {
	if err := h.repo.UpdateFlashcard(r.Context(), card); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "flashcard not found")
			return
		}
		slog.Error("Failed to update flashcard", "error", err, "flashcard_id", card.ID)
		Error(w, http.StatusInternalServerError, "failed to save flashcard")
		return
	}

	updated, err := h.repo.GetFlashcard(r.Context(), card.UserID, card.ID)
	if err != nil || updated == nil {
		JSON(w, http.StatusOK, card)
		return
	}
	JSON(w, http.StatusOK, updated)
}

// Delete removes a card.
func (h *FlashcardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteFlashcard(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "flashcard not found")
			return
		}
		slog.Error("Failed to delete flashcard", "error", err, "user_id", userID, "flashcard_id", id)
		Error(w, http.StatusInternalServerError, "failed to delete flashcard")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Improve asks the generator to rewrite a card and saves the result.
// With ?save=false the rewrite is returned without being stored.
func (h *FlashcardHandler) Improve(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		Error(w, http.StatusServiceUnavailable, "ai_disabled")
		return
	}

	card, ok := h.load(w, r)
	if !ok {
		return
	}

	improved, err := h.gen.Improve(r.Context(), card.Draft())
	if err != nil {
		slog.Warn("Failed to improve flashcard", "error", err, "flashcard_id", card.ID)
		Error(w, http.StatusBadGateway, "failed to improve flashcard")
		return
	}

	if r.URL.Query().Get("save") == "false" {
		preview := *card
		preview.Apply(improved)
		JSON(w, http.StatusOK, preview)
		return
	}
	card.Apply(improved)
	h.save(w, r, card)
}

// Categories lists the caller's distinct categories.
func (h *FlashcardHandler) Categories(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	cards, err := h.repo.ListFlashcards(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list categories", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load categories")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"categories": domain.Categories(cards)})
}

// Stats summarises the caller's collection.
func (h *FlashcardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	cards, err := h.repo.ListFlashcards(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to compute stats", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, domain.ComputeStats(cards))
}
