package api

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/autoflash/internal/domain"
	"github.com/ashureev/autoflash/internal/identity"
	"github.com/ashureev/autoflash/internal/store"
	"github.com/ashureev/autoflash/internal/study"
)

const (
	defaultSessionName = "Quick Study Session"
	maxSessionName     = 120
	// persistTimeout bounds store writes made on behalf of a study command.
	persistTimeout = 5 * time.Second
)

// StudyHandler drives live study sessions and persists their side effects:
// grades become card reviews and progress is written to the session record.
type StudyHandler struct {
	*Handler
	reg *study.Registry
	now func() time.Time
}

// NewStudyHandler creates a study handler backed by reg.
func NewStudyHandler(base *Handler, reg *study.Registry) *StudyHandler {
	return &StudyHandler{Handler: base, reg: reg, now: time.Now}
}

// RegisterRoutes registers study routes.
func (h *StudyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/study", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/start", h.Start)
		r.Get("/history", h.History)
		r.Post("/{command}", h.Command)
	})
}

// ReviewOutcome reports whether a grade was persisted as a card review.
type ReviewOutcome struct {
	FlashcardID string `json:"flashcard_id"`
	Saved       bool   `json:"saved"`
	Error       string `json:"error,omitempty"`
}

// CommandResult is the response to every study request.
type CommandResult struct {
	Session  study.Snapshot `json:"session"`
	Changed  bool           `json:"changed"`
	RecordID string         `json:"record_id,omitempty"`
	Review   *ReviewOutcome `json:"review,omitempty"`
}

type startRequest struct {
	Name         string   `json:"name"`
	FlashcardIDs []string `json:"flashcard_ids"`
	Category     string   `json:"category"`
	Limit        int      `json:"limit"`
	Shuffle      bool     `json:"shuffle"`
}

// Start begins a session over a snapshot of the caller's cards, replacing
// whatever the tab was studying before.
func (h *StudyHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit < 0 {
		Error(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	key := studyKey(r)
	cards, err := h.selectCards(r.Context(), key.UserID, req)
	if err != nil {
		slog.Error("Failed to load study cards", "error", err, "user_id", key.UserID)
		Error(w, http.StatusInternalServerError, "failed to load flashcards")
		return
	}
	if len(cards) == 0 {
		Error(w, http.StatusUnprocessableEntity, "no flashcards to study")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultSessionName
	}
	if len([]rune(name)) > maxSessionName {
		name = string([]rune(name)[:maxSessionName])
	}

	rec := &domain.StudySessionRecord{
		UserID:       key.UserID,
		Name:         name,
		FlashcardIDs: cardIDs(cards),
		TotalCards:   len(cards),
	}
	if err := h.repo.CreateStudySession(r.Context(), rec); err != nil {
		// The session still runs; it just will not appear in history.
		slog.Warn("Failed to create study session record", "error", err, "user_id", key.UserID)
		rec.ID = ""
	}

	snap := h.reg.Update(key, func(e *study.Entry) bool {
		e.Session.Start(cards, name)
		e.RecordID = rec.ID
		return true
	})
	h.metrics.SessionStarted()
	h.metrics.SetActiveSessions(h.reg.Len())

	slog.Info("Study session started", "user_id", key.UserID, "session_id", key.SessionID,
		"cards", len(cards), "record_id", rec.ID)
	JSON(w, http.StatusCreated, CommandResult{Session: snap, Changed: true, RecordID: rec.ID})
}

func (h *StudyHandler) selectCards(ctx context.Context, userID string, req startRequest) ([]domain.Flashcard, error) {
	var cards []domain.Flashcard
	var err error
	limit := req.Limit

	if len(req.FlashcardIDs) > 0 {
		cards, err = h.repo.GetFlashcards(ctx, userID, req.FlashcardIDs)
	} else {
		cards, err = h.repo.ListFlashcards(ctx, userID)
		cards = domain.Filter(cards, domain.ListQuery{
			Category:   strings.TrimSpace(req.Category),
			SortBy:     domain.SortCreatedAt,
			Descending: true,
		})
		if limit == 0 {
			limit = h.cfg.Study.DefaultLimit
		}
	}
	if err != nil {
		return nil, err
	}

	if req.Shuffle {
		rand.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	}
	if limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}
	return cards, nil
}

func cardIDs(cards []domain.Flashcard) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

// Get returns the caller's current session without modifying it.
func (h *StudyHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, recordID := h.reg.View(studyKey(r))
	JSON(w, http.StatusOK, CommandResult{Session: snap, RecordID: recordID})
}

// Command applies one navigation or grading command.
func (h *StudyHandler) Command(w http.ResponseWriter, r *http.Request) {
	cmd, err := study.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	advance, _ := strconv.ParseBool(r.URL.Query().Get("advance"))

	JSON(w, http.StatusOK, h.apply(r.Context(), studyKey(r), cmd, advance))
}

// apply runs cmd against the key's session. With advance, a grade that
// changed the session also hides the answer and moves to the next card
// unless the graded card was the last one. A session that becomes complete
// is ended. Review and progress writes happen while the session is held,
// so they reach the store in command order.
func (h *StudyHandler) apply(ctx context.Context, key study.Key, cmd study.Command, advance bool) CommandResult {
	var res CommandResult
	ctx = context.WithoutCancel(ctx)

	res.Session = h.reg.Update(key, func(e *study.Entry) bool {
		s := e.Session
		card, hasCard := s.CurrentCard()

		changed, err := s.Apply(cmd)
		if err != nil {
			return false
		}

		graded := changed && cmd.IsGrade() && hasCard
		if graded {
			correct := cmd == study.CommandCorrect
			h.metrics.Grade(correct)
			res.Review = h.recordReview(ctx, key.UserID, card.ID, correct)
			if advance {
				s.HideAnswer()
				if !s.OnLastCard() {
					s.NextCard()
				}
			}
		}

		completed := false
		if s.Complete() && !s.Ended() {
			completed = s.End()
			changed = changed || completed
		}
		if completed {
			h.metrics.SessionCompleted()
			slog.Info("Study session completed", "user_id", key.UserID, "session_id", key.SessionID,
				"correct", s.CorrectCount(), "incorrect", s.IncorrectCount())
		}

		if e.RecordID != "" && (graded || completed || (changed && cmd == study.CommandEnd)) {
			h.archive(ctx, key.UserID, e.RecordID, s)
		}

		res.Changed = changed
		res.RecordID = e.RecordID
		return changed
	})
	return res
}

func (h *StudyHandler) recordReview(ctx context.Context, userID, cardID string, correct bool) *ReviewOutcome {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	out := &ReviewOutcome{FlashcardID: cardID}
	err := h.repo.RecordReview(ctx, userID, cardID, correct, h.now().UTC(), nil)
	switch {
	case err == nil:
		out.Saved = true
	case errors.Is(err, store.ErrNotFound):
		out.Error = "flashcard not found"
	default:
		slog.Warn("Failed to record review", "error", err, "user_id", userID, "flashcard_id", cardID)
		out.Error = "failed to record review"
	}
	return out
}

// archive writes the session's progress to its record.
func (h *StudyHandler) archive(ctx context.Context, userID, recordID string, s *study.Session) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	err := h.repo.UpdateStudySession(ctx, userID, recordID, s.Graded(), s.AccuracyPercent(), h.now().UTC())
	if err != nil {
		slog.Warn("Failed to update study session record", "error", err, "user_id", userID, "record_id", recordID)
	}
}

// History lists the caller's archived sessions, newest first.
func (h *StudyHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	recs, err := h.repo.ListStudySessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list study sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load study history")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": recs})
}

// SweepIdle ends and archives sessions untouched for ttl, then drops them
// from memory. A session used after the idle scan started is kept. It returns
// how many sessions were removed.
func (h *StudyHandler) SweepIdle(ctx context.Context, ttl time.Duration) int {
	removed := 0
	for _, key := range h.reg.Idle(ttl) {
		ok := h.reg.RemoveIfIdle(key, ttl, func(e *study.Entry) bool {
			s := e.Session
			if !s.Active() || s.Ended() {
				return false
			}
			s.End()
			if e.RecordID != "" && s.Graded() > 0 {
				h.archive(ctx, key.UserID, e.RecordID, s)
			}
			return true
		})
		if !ok {
			continue
		}
		removed++
		slog.Info("Idle study session swept", "user_id", key.UserID, "session_id", key.SessionID)
	}
	h.metrics.SessionsSwept(removed)
	h.metrics.SetActiveSessions(h.reg.Len())
	return removed
}
