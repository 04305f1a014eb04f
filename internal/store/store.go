// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/autoflash/internal/domain"
)

// ErrNotFound is returned by mutations that match no row owned by the caller.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting users, flashcards and study sessions.
//
// Single-row lookups return (nil, nil) when the row does not exist.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateFlashcards stores drafts for userID in one transaction and returns
	// the stored cards in input order.
	CreateFlashcards(ctx context.Context, userID string, drafts []domain.FlashcardDraft) ([]domain.Flashcard, error)

	// ListFlashcards returns all of a user's cards, newest first.
	ListFlashcards(ctx context.Context, userID string) ([]domain.Flashcard, error)

	// GetFlashcards returns the user's cards with the given IDs in the order
	// of ids. Unknown IDs are skipped.
	GetFlashcards(ctx context.Context, userID string, ids []string) ([]domain.Flashcard, error)

	// GetFlashcard retrieves one card.
	GetFlashcard(ctx context.Context, userID, id string) (*domain.Flashcard, error)

	// UpdateFlashcard saves the editable fields of card.
	UpdateFlashcard(ctx context.Context, card *domain.Flashcard) error

	// DeleteFlashcard removes one card.
	DeleteFlashcard(ctx context.Context, userID, id string) error

	// RecordReview increments the review counters of a card. nextReview, when
	// non-nil, replaces the stored next review date.
	RecordReview(ctx context.Context, userID, id string, success bool, reviewedAt time.Time, nextReview *time.Time) error

	// CreateStudySession stores a new study session summary.
	CreateStudySession(ctx context.Context, rec *domain.StudySessionRecord) error

	// UpdateStudySession records progress for a study session summary.
	UpdateStudySession(ctx context.Context, userID, id string, completed int, accuracy float64, studiedAt time.Time) error

	// ListStudySessions returns a user's study sessions, newest first.
	ListStudySessions(ctx context.Context, userID string) ([]domain.StudySessionRecord, error)
}

// Open returns a PostgreSQL repository when databaseURL is set and a SQLite
// repository at dbPath otherwise.
func Open(ctx context.Context, databaseURL, dbPath string) (Repository, error) {
	if databaseURL != "" {
		pg, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := NewSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	return lite, nil
}
