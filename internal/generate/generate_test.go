package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/autoflash/internal/domain"
)

type fakeCompleter struct {
	reply string
	err   error
	got   []openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

const twoCards = `Here you go:
[
  {"question": "  What is a goroutine? ", "answer": "A lightweight thread", "category": "Go", "difficulty": "Easy", "tags": ["concurrency", " Concurrency ", ""]},
  {"question": "What does defer do?", "answer": "Runs a call when the function returns", "category": "Go", "difficulty": "medium"}
]
Good luck!`

func TestParseDrafts(t *testing.T) {
	drafts, err := ParseDrafts(twoCards)
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	assert.Equal(t, "What is a goroutine?", drafts[0].Question)
	assert.Equal(t, domain.DifficultyEasy, drafts[0].Difficulty)
	assert.Equal(t, []string{"concurrency"}, drafts[0].Tags)
	assert.Equal(t, []string{}, drafts[1].Tags)
}

func TestParseDrafts_Errors(t *testing.T) {
	_, err := ParseDrafts("I cannot help with that.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseDrafts(`[{"question": "Q", "answer": "", "category": "c", "difficulty": "easy"}]`)
	var cardErr *CardError
	require.ErrorAs(t, err, &cardErr)
	assert.Equal(t, 0, cardErr.Index)

	_, err = ParseDrafts(`[{"question": "Q", "answer": "A", "category": "c", "difficulty": "easy"},
		{"question": "Q", "answer": "A", "category": "c", "difficulty": "extreme"}]`)
	require.ErrorAs(t, err, &cardErr)
	assert.Equal(t, 1, cardErr.Index)

	_, err = ParseDrafts(`[{"question": }]`)
	assert.Error(t, err)
}

func TestCleanDraft_StripsMarkup(t *testing.T) {
	card, err := CleanDraft(domain.FlashcardDraft{
		Question:   `What is <b>bold</b>?<script>alert(1)</script>`,
		Answer:     `<a href="javascript:alert(1)">link</a>`,
		Category:   `<i>Web</i>`,
		Difficulty: "hard",
		Tags:       []string{"<em>html</em>"},
	})
	require.NoError(t, err)

	assert.Equal(t, "What is <b>bold</b>?", card.Question)
	assert.NotContains(t, card.Answer, "javascript")
	assert.Equal(t, "Web", card.Category)
	assert.Equal(t, []string{"html"}, card.Tags)
}

func TestCleanDraft_EmptyAfterSanitising(t *testing.T) {
	_, err := CleanDraft(domain.FlashcardDraft{
		Question:   "<script>only script</script>",
		Answer:     "A",
		Category:   "c",
		Difficulty: "easy",
	})
	assert.Error(t, err)
}

func TestRequestNormalizeAndValidate(t *testing.T) {
	req := Request{Text: "  notes  ", Categories: []string{" ", "Go "}}
	req.Normalize()
	require.NoError(t, req.Validate())
	assert.Equal(t, "notes", req.Text)
	assert.Equal(t, DefaultCount, req.Count)
	assert.Equal(t, DifficultyMixed, req.Difficulty)
	assert.Equal(t, []string{"Go"}, req.Categories)

	bad := Request{Text: "x", Count: MaxCount + 1, Difficulty: "mixed"}
	assert.Error(t, bad.Validate())

	bad = Request{Text: "x", Count: 5, Difficulty: "extreme"}
	assert.Error(t, bad.Validate())

	bad = Request{Count: 5, Difficulty: "easy"}
	assert.Error(t, bad.Validate())
}

func TestPrompt(t *testing.T) {
	p := buildGeneratePrompt(Request{Text: "photosynthesis", Count: 7, Difficulty: "hard", Categories: []string{"Biology", "Plants"}})
	assert.Contains(t, p, "Generate 7 high-quality flashcards")
	assert.Contains(t, p, "photosynthesis")
	assert.Contains(t, p, "Focus on hard difficulty level")
	assert.Contains(t, p, "Focus on these categories: Biology, Plants")

	p = buildGeneratePrompt(Request{Text: "x", Count: 3, Difficulty: DifficultyMixed})
	assert.NotContains(t, p, "difficulty level")
	assert.NotContains(t, p, "these categories")
}

func TestOpenAI_Generate(t *testing.T) {
	fake := &fakeCompleter{reply: twoCards}
	g := NewOpenAIWithClient(fake, "", 0)

	drafts, err := g.Generate(context.Background(), Request{Text: "Go notes", Count: 1})
	require.NoError(t, err)
	assert.Len(t, drafts, 1, "extra cards are trimmed to the requested count")

	require.Len(t, fake.got, 1)
	req := fake.got[0]
	assert.Equal(t, openai.GPT4oMini, req.Model)
	assert.Equal(t, float32(0.7), req.Temperature)
	assert.Equal(t, 3000, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.True(t, strings.Contains(req.Messages[1].Content, "Go notes"))
}

func TestOpenAI_GenerateErrors(t *testing.T) {
	g := NewOpenAIWithClient(&fakeCompleter{err: errors.New("rate limited")}, "gpt-test", 0)
	_, err := g.Generate(context.Background(), Request{Text: "notes"})
	assert.ErrorContains(t, err, "rate limited")

	g = NewOpenAIWithClient(&fakeCompleter{reply: "   "}, "gpt-test", 0)
	_, err = g.Generate(context.Background(), Request{Text: "notes"})
	assert.ErrorIs(t, err, ErrNoContent)

	g = NewOpenAIWithClient(&fakeCompleter{reply: "[]"}, "gpt-test", 0)
	_, err = g.Generate(context.Background(), Request{})
	assert.Error(t, err, "empty text is rejected before calling the model")
}

func TestOpenAI_ImprovePinsCategoryAndDifficulty(t *testing.T) {
	fake := &fakeCompleter{reply: `{"question": "Sharper?", "answer": "Yes", "category": "Other", "difficulty": "easy", "tags": ["better"]}`}
	g := NewOpenAIWithClient(fake, "gpt-test", 0)

	out, err := g.Improve(context.Background(), domain.FlashcardDraft{
		Question: "Q", Answer: "A", Category: "Go", Difficulty: domain.DifficultyHard,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sharper?", out.Question)
	assert.Equal(t, "Go", out.Category)
	assert.Equal(t, domain.DifficultyHard, out.Difficulty)
	assert.Equal(t, []string{"better"}, out.Tags)

	require.Len(t, fake.got, 1)
	assert.Equal(t, float32(0.5), fake.got[0].Temperature)
	assert.Equal(t, 500, fake.got[0].MaxTokens)
}

func TestOpenAI_NewRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)

	g, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "gpt-test"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", g.model)
}
