package domain

import (
	"cmp"
	"slices"
	"strings"
)

// SortField names a flashcard attribute the list can be ordered by.
type SortField string

const (
	SortCreatedAt   SortField = "created_at"
	SortDifficulty  SortField = "difficulty"
	SortCategory    SortField = "category"
	SortReviewCount SortField = "review_count"
)

// ListQuery narrows and orders a user's flashcards.
type ListQuery struct {
	Category   string
	Search     string
	SortBy     SortField
	Descending bool
}

// Filter returns the cards matching q, sorted as q requests. The input is not modified.
func Filter(cards []Flashcard, q ListQuery) []Flashcard {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]Flashcard, 0, len(cards))
	for _, c := range cards {
		if q.Category != "" && c.Category != q.Category {
			continue
		}
		if search != "" && !matches(c, search) {
			continue
		}
		out = append(out, c)
	}

	slices.SortStableFunc(out, func(a, b Flashcard) int {
		c := compareBy(q.SortBy, a, b)
		if q.Descending {
			return -c
		}
		return c
	})
	return out
}

func matches(c Flashcard, query string) bool {
	if strings.Contains(strings.ToLower(c.Question), query) ||
		strings.Contains(strings.ToLower(c.Answer), query) ||
		strings.Contains(strings.ToLower(c.Category), query) {
		return true
	}
	for _, tag := range c.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func compareBy(field SortField, a, b Flashcard) int {
	switch field {
	case SortDifficulty:
		return cmp.Compare(a.Difficulty.Rank(), b.Difficulty.Rank())
	case SortCategory:
		return strings.Compare(a.Category, b.Category)
	case SortReviewCount:
		return cmp.Compare(a.ReviewCount, b.ReviewCount)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// Categories returns the distinct non-empty categories in first-seen order.
func Categories(cards []Flashcard) []string {
	seen := make(map[string]struct{}, len(cards))
	out := []string{}
	for _, c := range cards {
		if c.Category == "" {
			continue
		}
		if _, ok := seen[c.Category]; ok {
			continue
		}
		seen[c.Category] = struct{}{}
		out = append(out, c.Category)
	}
	return out
}

// FlashcardStats aggregates a user's collection.
type FlashcardStats struct {
	Total        int     `json:"total"`
	Easy         int     `json:"easy"`
	Medium       int     `json:"medium"`
	Hard         int     `json:"hard"`
	TotalReviews int     `json:"total_reviews"`
	TotalSuccess int     `json:"total_success"`
	SuccessRate  float64 `json:"success_rate"`
}

// ComputeStats summarises cards by difficulty and review history.
func ComputeStats(cards []Flashcard) FlashcardStats {
	var s FlashcardStats
	s.Total = len(cards)
	for _, c := range cards {
		switch c.Difficulty {
		case DifficultyEasy:
			s.Easy++
		case DifficultyMedium:
			s.Medium++
		case DifficultyHard:
			s.Hard++
		}
		s.TotalReviews += c.ReviewCount
		s.TotalSuccess += c.SuccessCount
	}
	if s.TotalReviews > 0 {
		s.SuccessRate = float64(s.TotalSuccess) / float64(s.TotalReviews) * 100
	}
	return s
}
