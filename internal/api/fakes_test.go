//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/autoflash/internal/config"
	"github.com/ashureev/autoflash/internal/domain"
	"github.com/ashureev/autoflash/internal/generate"
	"github.com/ashureev/autoflash/internal/identity"
	"github.com/ashureev/autoflash/internal/store"
	"github.com/ashureev/autoflash/internal/study"
)

const (
	testUser    = "anon_0123456789abcdef0123456789abcdef"
	testSession = "tab-1"
)

type fakeRepo struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	cards    []domain.Flashcard // newest first
	sessions []domain.StudySessionRecord
	nextID   int
	clock    time.Time

	reviews   []string
	lastSeen  atomic.Int32
	reviewErr error
	pingErr   error

	// onSessionUpdate runs after UpdateStudySession releases the lock.
	onSessionUpdate func(id string)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: make(map[string]*domain.User),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ store.Repository = (*fakeRepo)(nil)

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(context.Context, string, time.Time) error {
	f.lastSeen.Add(1)
	return nil
}

func (f *fakeRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeRepo) CreateFlashcards(_ context.Context, userID string, drafts []domain.FlashcardDraft) ([]domain.Flashcard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Flashcard, 0, len(drafts))
	for _, d := range drafts {
		f.nextID++
		now := f.tick()
		c := domain.Flashcard{ID: fmt.Sprintf("card-%d", f.nextID), UserID: userID, CreatedAt: now, UpdatedAt: now}
		c.Apply(d)
		out = append(out, c)
	}
	for _, c := range out {
		f.cards = append([]domain.Flashcard{c}, f.cards...)
	}
	return out, nil
}

// seed stores n cards in category cat.
func (f *fakeRepo) seed(t *testing.T, n int, cat string) []domain.Flashcard {
	t.Helper()
	drafts := make([]domain.FlashcardDraft, n)
	for i := range drafts {
		drafts[i] = domain.FlashcardDraft{
			Question:   fmt.Sprintf("%s question %d", cat, i),
			Answer:     fmt.Sprintf("%s answer %d", cat, i),
			Category:   cat,
			Difficulty: domain.DifficultyMedium,
		}
	}
	cards, err := f.CreateFlashcards(context.Background(), testUser, drafts)
	if err != nil {
		t.Fatal(err)
	}
	return cards
}

func (f *fakeRepo) ListFlashcards(_ context.Context, userID string) ([]domain.Flashcard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Flashcard
	for _, c := range f.cards {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetFlashcards(_ context.Context, userID string, ids []string) ([]domain.Flashcard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Flashcard
	for _, id := range ids {
		if i := f.index(userID, id); i >= 0 {
			out = append(out, f.cards[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) index(userID, id string) int {
	return slices.IndexFunc(f.cards, func(c domain.Flashcard) bool {
		return c.ID == id && c.UserID == userID
	})
}

func (f *fakeRepo) GetFlashcard(_ context.Context, userID, id string) (*domain.Flashcard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(userID, id)
	if i < 0 {
		return nil, nil
	}
	c := f.cards[i]
	return &c, nil
}

func (f *fakeRepo) UpdateFlashcard(_ context.Context, card *domain.Flashcard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(card.UserID, card.ID)
	if i < 0 {
		return store.ErrNotFound
	}
	f.cards[i].Apply(card.Draft())
	f.cards[i].UpdatedAt = f.tick()
	return nil
}

func (f *fakeRepo) DeleteFlashcard(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(userID, id)
	if i < 0 {
		return store.ErrNotFound
	}
	f.cards = slices.Delete(f.cards, i, i+1)
	return nil
}

func (f *fakeRepo) RecordReview(_ context.Context, userID, id string, success bool, at time.Time, _ *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewErr != nil {
		return f.reviewErr
	}
	i := f.index(userID, id)
	if i < 0 {
		return store.ErrNotFound
	}
	f.cards[i].ReviewCount++
	if success {
		f.cards[i].SuccessCount++
	}
	f.cards[i].LastReviewedAt = &at
	f.reviews = append(f.reviews, id)
	return nil
}

func (f *fakeRepo) CreateStudySession(_ context.Context, rec *domain.StudySessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = fmt.Sprintf("session-%d", f.nextID)
	rec.CreatedAt = f.tick()
	f.sessions = append([]domain.StudySessionRecord{*rec}, f.sessions...)
	return nil
}

func (f *fakeRepo) UpdateStudySession(_ context.Context, userID, id string, completed int, accuracy float64, at time.Time) error {
	if hook := f.onSessionUpdate; hook != nil {
		defer hook(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == id && f.sessions[i].UserID == userID {
			f.sessions[i].CompletedCards = completed
			f.sessions[i].AccuracyRate = accuracy
			f.sessions[i].LastStudiedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeRepo) ListStudySessions(_ context.Context, userID string) ([]domain.StudySessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StudySessionRecord
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) session(id string) domain.StudySessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id {
			return s
		}
	}
	return domain.StudySessionRecord{}
}

func (f *fakeRepo) card(id string) domain.Flashcard {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.index(testUser, id); i >= 0 {
		return f.cards[i]
	}
	return domain.Flashcard{}
}

type fakeGenerator struct {
	drafts []domain.FlashcardDraft
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, req generate.Request) ([]domain.FlashcardDraft, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.drafts[:min(req.Count, len(g.drafts))], nil
}

func (g *fakeGenerator) Improve(_ context.Context, card domain.FlashcardDraft) (domain.FlashcardDraft, error) {
	if g.err != nil {
		return domain.FlashcardDraft{}, g.err
	}
	card.Question = "Improved: " + card.Question
	return card, nil
}

var errUpstream = errors.New("upstream unavailable")

// withTestIdentity stands in for identity.Middleware.
func withTestIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := r.Header.Get(identity.SessionHeaderName)
		if sid == "" {
			sid = testSession
		}
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), testUser, sid)))
	})
}

type testServer struct {
	repo    *fakeRepo
	gen     *fakeGenerator
	reg     *study.Registry
	study   *StudyHandler
	router  chi.Router
	limiter *RateLimiter
}

func newTestServer(t *testing.T, gen *fakeGenerator, opts ...study.Option) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Study.DefaultLimit = 3

	ts := &testServer{
		repo:    newFakeRepo(),
		gen:     gen,
		reg:     study.NewRegistry(opts...),
		limiter: NewRateLimiter(60, 2),
	}
	base := NewHandler(ts.repo, cfg, nil)

	var g generate.Generator
	if gen != nil {
		g = gen
	}
	ts.study = NewStudyHandler(base, ts.reg)

	r := chi.NewRouter()
	r.Use(withTestIdentity)
	NewHealthHandler(ts.repo).RegisterHealth(r)
	NewAccountHandler(base, gen != nil).RegisterRoutes(r)
	NewFlashcardHandler(base, g).RegisterRoutes(r)
	NewGenerateHandler(base, g, ts.limiter).RegisterRoutes(r)
	ts.study.RegisterRoutes(r)
	r.Handle("/ws/study", NewLiveHandler(ts.study, "", true))
	ts.router = r
	return ts
}
