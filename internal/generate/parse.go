package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ashureev/autoflash/internal/domain"
)

var (
	arrayPattern  = regexp.MustCompile(`\[[\s\S]*\]`)
	objectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

	textPolicy  = bluemonday.UGCPolicy()
	labelPolicy = bluemonday.StrictPolicy()
)

// CardError reports which card in a generated batch failed validation.
type CardError struct {
	Index int
	Err   error
}

func (e *CardError) Error() string {
	return fmt.Sprintf("invalid flashcard at index %d: %v", e.Index, e.Err)
}

func (e *CardError) Unwrap() error { return e.Err }

// ParseDrafts extracts and validates the JSON array of cards in a model reply.
func ParseDrafts(content string) ([]domain.FlashcardDraft, error) {
	raw := arrayPattern.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: expected an array", ErrNoJSON)
	}

	var cards []domain.FlashcardDraft
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("decode flashcards: %w", err)
	}

	out := make([]domain.FlashcardDraft, 0, len(cards))
	for i, c := range cards {
		clean, err := CleanDraft(c)
		if err != nil {
			return nil, &CardError{Index: i, Err: err}
		}
		out = append(out, clean)
	}
	return out, nil
}

// ParseDraft extracts and validates a single JSON card object in a model reply.
func ParseDraft(content string) (domain.FlashcardDraft, error) {
	raw := objectPattern.FindString(content)
	if raw == "" {
		return domain.FlashcardDraft{}, fmt.Errorf("%w: expected an object", ErrNoJSON)
	}

	var card domain.FlashcardDraft
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return domain.FlashcardDraft{}, fmt.Errorf("decode flashcard: %w", err)
	}
	return CleanDraft(card)
}

// CleanDraft trims and sanitises a card and checks it is complete. Question and
// answer keep safe inline formatting; category and tags are reduced to text.
func CleanDraft(c domain.FlashcardDraft) (domain.FlashcardDraft, error) {
	c.Question = strings.TrimSpace(textPolicy.Sanitize(c.Question))
	c.Answer = strings.TrimSpace(textPolicy.Sanitize(c.Answer))
	c.Category = strings.TrimSpace(labelPolicy.Sanitize(c.Category))
	c.Difficulty = domain.Difficulty(strings.ToLower(strings.TrimSpace(string(c.Difficulty))))
	c.Tags = cleanTags(c.Tags)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.FlashcardDraft{}, fmt.Errorf("field %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return domain.FlashcardDraft{}, err
	}
	return c, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(labelPolicy.Sanitize(t))
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
