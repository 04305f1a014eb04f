package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/autoflash/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func drafts() []domain.FlashcardDraft {
	return []domain.FlashcardDraft{
		{Question: "Q1", Answer: "A1", Category: "go", Difficulty: domain.DifficultyEasy, Tags: []string{"basics"}},
		{Question: "Q2", Answer: "A2", Category: "go", Difficulty: domain.DifficultyHard},
		{Question: "Q3", Answer: "A3", Category: "sql", Difficulty: domain.DifficultyMedium},
	}
}

func TestSQLiteStore_Users(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.GetUser(ctx, "anon_missing")
	if err != nil || user != nil {
		t.Fatalf("expected nil user, got %v, %v", user, err)
	}

	now := time.Unix(1700000000, 0)
	if err := s.UpsertUser(ctx, &domain.User{UserID: "u1", Username: "anon-u1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "u1", later); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}

	user, err = s.GetUser(ctx, "u1")
	if err != nil || user == nil {
		t.Fatalf("GetUser: %v, %v", user, err)
	}
	if !user.LastSeenAt.Equal(later) || user.Username != "anon-u1" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestSQLiteStore_FlashcardLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateFlashcards(ctx, "u1", drafts())
	if err != nil {
		t.Fatalf("CreateFlashcards: %v", err)
	}
	if len(created) != 3 || created[0].ID == "" || created[1].Tags == nil {
		t.Fatalf("unexpected created cards: %+v", created)
	}

	listed, err := s.ListFlashcards(ctx, "u1")
	if err != nil {
		t.Fatalf("ListFlashcards: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(listed))
	}
	for i := range listed {
		if listed[i].ID != created[i].ID {
			t.Errorf("batch order not preserved at %d", i)
		}
	}
	if len(listed[0].Tags) != 1 || listed[0].Tags[0] != "basics" {
		t.Errorf("tags not round-tripped: %v", listed[0].Tags)
	}

	other, err := s.ListFlashcards(ctx, "u2")
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no cards for u2, got %v, %v", other, err)
	}

	picked, err := s.GetFlashcards(ctx, "u1", []string{created[2].ID, "missing", created[0].ID})
	if err != nil {
		t.Fatalf("GetFlashcards: %v", err)
	}
	if len(picked) != 2 || picked[0].ID != created[2].ID || picked[1].ID != created[0].ID {
		t.Errorf("GetFlashcards order wrong: %+v", picked)
	}

	card, err := s.GetFlashcard(ctx, "u1", created[1].ID)
	if err != nil || card == nil {
		t.Fatalf("GetFlashcard: %v, %v", card, err)
	}
	card.Question = "Q2 edited"
	card.Tags = []string{"edited"}
	if err := s.UpdateFlashcard(ctx, card); err != nil {
		t.Fatalf("UpdateFlashcard: %v", err)
	}
	card, _ = s.GetFlashcard(ctx, "u1", created[1].ID)
	if card.Question != "Q2 edited" || card.Tags[0] != "edited" {
		t.Errorf("update not persisted: %+v", card)
	}

	if err := s.DeleteFlashcard(ctx, "u2", created[1].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting another user's card, got %v", err)
	}
	if err := s.DeleteFlashcard(ctx, "u1", created[1].ID); err != nil {
		t.Fatalf("DeleteFlashcard: %v", err)
	}
	if card, _ := s.GetFlashcard(ctx, "u1", created[1].ID); card != nil {
		t.Errorf("card still present after delete")
	}
}

func TestSQLiteStore_RecordReview(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateFlashcards(ctx, "u1", drafts()[:1])
	if err != nil {
		t.Fatalf("CreateFlashcards: %v", err)
	}
	id := created[0].ID
	at := time.Unix(1700000100, 0)
	next := at.Add(72 * time.Hour)

	if err := s.RecordReview(ctx, "u1", id, true, at, nil); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	if err := s.RecordReview(ctx, "u1", id, false, at, &next); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	if err := s.RecordReview(ctx, "u1", id, true, at, nil); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}

	card, err := s.GetFlashcard(ctx, "u1", id)
	if err != nil || card == nil {
		t.Fatalf("GetFlashcard: %v", err)
	}
	if card.ReviewCount != 3 || card.SuccessCount != 2 {
		t.Errorf("counters = %d/%d, want 3/2", card.ReviewCount, card.SuccessCount)
	}
	if card.LastReviewedAt == nil || !card.LastReviewedAt.Equal(at) {
		t.Errorf("last_reviewed_at = %v", card.LastReviewedAt)
	}
	if card.NextReviewDate == nil || !card.NextReviewDate.Equal(next) {
		t.Errorf("next_review_date should survive a nil update, got %v", card.NextReviewDate)
	}

	if err := s.RecordReview(ctx, "u1", "missing", true, at, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_StudySessions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	first := &domain.StudySessionRecord{UserID: "u1", Name: "Quick Study", FlashcardIDs: []string{"a", "b"}, TotalCards: 2, CreatedAt: time.Unix(1700000000, 0)}
	second := &domain.StudySessionRecord{UserID: "u1", Name: "Later", FlashcardIDs: []string{"c"}, TotalCards: 1, CreatedAt: time.Unix(1700000500, 0)}
	for _, rec := range []*domain.StudySessionRecord{first, second} {
		if err := s.CreateStudySession(ctx, rec); err != nil {
			t.Fatalf("CreateStudySession: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("expected generated id")
		}
	}

	studied := time.Unix(1700000200, 0)
	if err := s.UpdateStudySession(ctx, "u1", first.ID, 2, 50, studied); err != nil {
		t.Fatalf("UpdateStudySession: %v", err)
	}
	if err := s.UpdateStudySession(ctx, "u2", first.ID, 2, 50, studied); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user, got %v", err)
	}

	list, err := s.ListStudySessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListStudySessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	got := list[1]
	if got.CompletedCards != 2 || got.AccuracyRate != 50 || got.LastStudiedAt == nil || !got.LastStudiedAt.Equal(studied) {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.FlashcardIDs) != 2 || got.FlashcardIDs[1] != "b" {
		t.Errorf("flashcard ids = %v", got.FlashcardIDs)
	}
}

func TestOrderByIDs_Duplicates(t *testing.T) {
	cards := []domain.Flashcard{{ID: "a"}, {ID: "b"}}
	got := orderByIDs(cards, []string{"b", "a", "b"})
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("orderByIDs = %+v", got)
	}
}
