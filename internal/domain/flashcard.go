package domain

import (
	"time"
)

// Difficulty grades how hard a flashcard is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Rank orders difficulties easy < medium < hard. Unknown values sort last.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyEasy:
		return 0
	case DifficultyMedium:
		return 1
	case DifficultyHard:
		return 2
	}
	return 3
}

// Flashcard is a persisted question/answer pair owned by a user.
type Flashcard struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Category       string     `json:"category"`
	Difficulty     Difficulty `json:"difficulty"`
	Tags           []string   `json:"tags"`
	ReviewCount    int        `json:"review_count"`
	SuccessCount   int        `json:"success_count"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`
	NextReviewDate *time.Time `json:"next_review_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FlashcardDraft is a generated or edited card that has not been stored yet.
type FlashcardDraft struct {
	Question   string     `json:"question" validate:"required"`
	Answer     string     `json:"answer" validate:"required"`
	Category   string     `json:"category" validate:"required"`
	Difficulty Difficulty `json:"difficulty" validate:"required,oneof=easy medium hard"`
	Tags       []string   `json:"tags"`
}

// Draft returns the editable fields of the card.
func (f *Flashcard) Draft() FlashcardDraft {
	return FlashcardDraft{
		Question:   f.Question,
		Answer:     f.Answer,
		Category:   f.Category,
		Difficulty: f.Difficulty,
		Tags:       append([]string(nil), f.Tags...),
	}
}

// Apply copies the draft's fields onto the card.
func (f *Flashcard) Apply(d FlashcardDraft) {
	f.Question = d.Question
	f.Answer = d.Answer
	f.Category = d.Category
	f.Difficulty = d.Difficulty
	f.Tags = append([]string(nil), d.Tags...)
}

// StudySessionRecord is the persisted summary of a study session.
type StudySessionRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	FlashcardIDs   []string   `json:"flashcard_ids"`
	TotalCards     int        `json:"total_cards"`
	CompletedCards int        `json:"completed_cards"`
	AccuracyRate   float64    `json:"accuracy_rate"`
	CreatedAt      time.Time  `json:"created_at"`
	LastStudiedAt  *time.Time `json:"last_studied_at,omitempty"`
}
