// Package generate turns study notes into flashcards using a chat completion model.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/autoflash/internal/domain"
)

const (
	DefaultCount = 10
	MaxCount     = 50

	DifficultyMixed = "mixed"
)

var (
	// ErrNoContent is returned when the model replies with an empty message.
	ErrNoContent = errors.New("no content received from model")
	// ErrNoJSON is returned when the reply contains no JSON array or object.
	ErrNoJSON = errors.New("no JSON found in model response")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes one generation run.
type Request struct {
	Text       string   `json:"text" validate:"required"`
	Count      int      `json:"count" validate:"min=1,max=50"`
	Difficulty string   `json:"difficulty" validate:"oneof=easy medium hard mixed"`
	Categories []string `json:"categories" validate:"max=10,dive,max=64"`
}

// Normalize fills defaults and trims whitespace.
func (r *Request) Normalize() {
	r.Text = strings.TrimSpace(r.Text)
	if r.Count == 0 {
		r.Count = DefaultCount
	}
	r.Difficulty = strings.ToLower(strings.TrimSpace(r.Difficulty))
	if r.Difficulty == "" {
		r.Difficulty = DifficultyMixed
	}
	cats := r.Categories[:0:0]
	for _, c := range r.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	r.Categories = cats
}

// Validate reports the first invalid field.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid generation request: %w", err)
	}
	return nil
}

// Generator produces and refines flashcard drafts.
type Generator interface {
	// Generate creates drafts from req.Text.
	Generate(ctx context.Context, req Request) ([]domain.FlashcardDraft, error)
	// Improve rewrites one card, keeping its category and difficulty.
	Improve(ctx context.Context, card domain.FlashcardDraft) (domain.FlashcardDraft, error)
}
