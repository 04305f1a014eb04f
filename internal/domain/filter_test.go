package domain

import (
	"testing"
	"time"
)

func sampleCards() []Flashcard {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Flashcard{
		{ID: "a", Question: "What is Go?", Answer: "A language", Category: "programming", Difficulty: DifficultyMedium, Tags: []string{"lang"}, ReviewCount: 3, SuccessCount: 2, CreatedAt: base},
		{ID: "b", Question: "Capital of France?", Answer: "Paris", Category: "geography", Difficulty: DifficultyEasy, ReviewCount: 1, SuccessCount: 1, CreatedAt: base.Add(time.Hour)},
		{ID: "c", Question: "Goroutine?", Answer: "Lightweight thread", Category: "programming", Difficulty: DifficultyHard, Tags: []string{"Concurrency"}, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "d", Question: "Untitled", Answer: "x", Difficulty: DifficultyEasy, CreatedAt: base.Add(3 * time.Hour)},
	}
}

func ids(cards []Flashcard) string {
	out := ""
	for _, c := range cards {
		out += c.ID
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		q    ListQuery
		want string
	}{
		{"default sorts by created ascending", ListQuery{}, "abcd"},
		{"created descending", ListQuery{Descending: true}, "dcba"},
		{"category", ListQuery{Category: "programming"}, "ac"},
		{"search question case-insensitive", ListQuery{Search: "GO"}, "ac"},
		{"search answer", ListQuery{Search: "paris"}, "b"},
		{"search tags", ListQuery{Search: "concurrency"}, "c"},
		{"search category", ListQuery{Search: "geo"}, "b"},
		{"difficulty rank", ListQuery{SortBy: SortDifficulty}, "bdac"},
		{"review count descending", ListQuery{SortBy: SortReviewCount, Descending: true}, "abcd"},
		{"category sort puts empty first", ListQuery{SortBy: SortCategory}, "dbac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Filter(sampleCards(), tt.q)); got != tt.want {
				t.Errorf("Filter(%+v) = %q, want %q", tt.q, got, tt.want)
			}
		})
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	cards := sampleCards()
	Filter(cards, ListQuery{Descending: true})
	if ids(cards) != "abcd" {
		t.Errorf("input reordered: %q", ids(cards))
	}
}

func TestCategories(t *testing.T) {
	got := Categories(sampleCards())
	if len(got) != 2 || got[0] != "programming" || got[1] != "geography" {
		t.Errorf("Categories() = %v", got)
	}
	if got := Categories(nil); got == nil || len(got) != 0 {
		t.Errorf("Categories(nil) = %v, want empty slice", got)
	}
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats(sampleCards())
	if s.Total != 4 || s.Easy != 2 || s.Medium != 1 || s.Hard != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.TotalReviews != 4 || s.TotalSuccess != 3 {
		t.Errorf("unexpected review totals: %+v", s)
	}
	if s.SuccessRate != 75 {
		t.Errorf("SuccessRate = %v, want 75", s.SuccessRate)
	}

	if empty := ComputeStats(nil); empty.SuccessRate != 0 || empty.Total != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
