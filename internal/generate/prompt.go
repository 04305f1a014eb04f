package generate

import (
	"fmt"
	"strings"

	"github.com/ashureev/autoflash/internal/domain"
)

const (
	generateSystemPrompt = "You are an expert educational content creator specializing in creating effective study flashcards. Always respond with valid JSON."
	improveSystemPrompt  = "You are an expert educational content creator. Always respond with valid JSON."
)

func buildGeneratePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d high-quality flashcards from the following text.\n\n", req.Count)
	b.WriteString("Text content:\n")
	b.WriteString(req.Text)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Create diverse, meaningful questions that test understanding\n")
	b.WriteString("- Mix factual recall with conceptual understanding\n")
	b.WriteString("- Questions must be clear and unambiguous\n")
	b.WriteString("- Answers must be concise but complete\n")
	b.WriteString("- Assign a difficulty of easy, medium or hard to each card\n")
	b.WriteString("- Categorize each card by topic and add relevant tags\n")
	if req.Difficulty != "" && req.Difficulty != DifficultyMixed {
		fmt.Fprintf(&b, "- Focus on %s difficulty level\n", req.Difficulty)
	}
	if len(req.Categories) > 0 {
		fmt.Fprintf(&b, "- Focus on these categories: %s\n", strings.Join(req.Categories, ", "))
	}
	b.WriteString(`
Return the flashcards as a JSON array with this exact format:
[
  {
    "question": "Clear, specific question",
    "answer": "Concise, accurate answer",
    "category": "Subject/topic name",
    "difficulty": "easy|medium|hard",
    "tags": ["tag1", "tag2"]
  }
]`)
	return b.String()
}

func buildImprovePrompt(card domain.FlashcardDraft) string {
	return fmt.Sprintf(`Improve this flashcard to make it more effective for learning.

Original flashcard:
Question: %s
Answer: %s
Category: %s
Difficulty: %s

Instructions:
- Make the question clearer and more specific
- Keep the answer concise but complete
- Keep the same difficulty level and category
- Improve the tags

Return the improved flashcard as a JSON object with this format:
{
  "question": "Improved question",
  "answer": "Improved answer",
  "category": %q,
  "difficulty": %q,
  "tags": ["tag1", "tag2"]
}`, card.Question, card.Answer, card.Category, card.Difficulty, card.Category, string(card.Difficulty))
}
