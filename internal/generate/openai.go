package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/autoflash/internal/domain"
)

// ChatCompleter is the subset of the OpenAI client used for generation.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the OpenAI-backed generator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI generates flashcards with an OpenAI-compatible chat completion API.
type OpenAI struct {
	client  ChatCompleter
	model   string
	timeout time.Duration
}

// NewOpenAI creates a generator from cfg.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAIWithClient(openai.NewClientWithConfig(clientCfg), cfg.Model, cfg.Timeout), nil
}

// NewOpenAIWithClient wraps an existing chat client.
func NewOpenAIWithClient(client ChatCompleter, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

// Generate creates flashcard drafts from req.Text.
func (g *OpenAI) Generate(ctx context.Context, req Request) ([]domain.FlashcardDraft, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := g.complete(ctx, generateSystemPrompt, buildGeneratePrompt(req), 0.7, 3000)
	if err != nil {
		return nil, fmt.Errorf("generate flashcards: %w", err)
	}

	drafts, err := ParseDrafts(content)
	if err != nil {
		return nil, fmt.Errorf("generate flashcards: %w", err)
	}
	if len(drafts) > req.Count {
		drafts = drafts[:req.Count]
	}

	slog.Info("Flashcards generated",
		"model", g.model,
		"requested", req.Count,
		"received", len(drafts),
		"duration", time.Since(start))
	return drafts, nil
}

// Improve asks the model to rewrite one card. Category and difficulty are
// pinned to the original values.
func (g *OpenAI) Improve(ctx context.Context, card domain.FlashcardDraft) (domain.FlashcardDraft, error) {
	content, err := g.complete(ctx, improveSystemPrompt, buildImprovePrompt(card), 0.5, 500)
	if err != nil {
		return domain.FlashcardDraft{}, fmt.Errorf("improve flashcard: %w", err)
	}

	improved, err := ParseDraft(content)
	if err != nil {
		return domain.FlashcardDraft{}, fmt.Errorf("improve flashcard: %w", err)
	}
	improved.Category = card.Category
	improved.Difficulty = card.Difficulty
	return improved, nil
}

func (g *OpenAI) complete(ctx context.Context, system, prompt string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrNoContent
	}
	return resp.Choices[0].Message.Content, nil
}
