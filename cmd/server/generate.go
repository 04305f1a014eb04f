package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/autoflash/internal/domain"
	"github.com/ashureev/autoflash/internal/extract"
	"github.com/ashureev/autoflash/internal/generate"
	"github.com/ashureev/autoflash/internal/store"
)

var (
	genFiles      []string
	genCount      int
	genDifficulty string
	genCategories []string
	genUserID     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate flashcards from local files and print them as JSON",
	Long: `Extracts text from the given files, asks the model for flashcards and
writes them to stdout. With --user the cards are also stored for that user.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringSliceVarP(&genFiles, "file", "f", nil, "input file (repeatable)")
	generateCmd.Flags().IntVarP(&genCount, "count", "n", generate.DefaultCount, "number of flashcards")
	generateCmd.Flags().StringVar(&genDifficulty, "difficulty", generate.DifficultyMixed, "easy, medium, hard or mixed")
	generateCmd.Flags().StringSliceVar(&genCategories, "category", nil, "preferred category (repeatable)")
	generateCmd.Flags().StringVar(&genUserID, "user", "", "store the cards for this user ID")
	_ = generateCmd.MarkFlagRequired("file")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg)
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}
	if gen == nil {
		return errors.New("OPENAI_API_KEY is required for generation")
	}

	files := make([]extract.File, 0, len(genFiles))
	for _, path := range genFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, extract.File{Name: filepath.Base(path), Data: data})
	}
	text, results := extract.Combine(files)
	for _, r := range results {
		if r.Error != "" || !r.Supported {
			slog.Warn("File not fully extracted", "file", r.Name, "kind", r.Kind, "error", r.Error)
		}
	}

	ctx := cmd.Context()
	drafts, err := gen.Generate(ctx, generate.Request{
		Text:       text,
		Count:      genCount,
		Difficulty: genDifficulty,
		Categories: genCategories,
	})
	if err != nil {
		return err
	}

	var out interface{} = drafts
	if genUserID != "" {
		repo, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()

		if err := ensureUser(ctx, repo, genUserID); err != nil {
			return err
		}
		cards, err := repo.CreateFlashcards(ctx, genUserID, drafts)
		if err != nil {
			return fmt.Errorf("save flashcards: %w", err)
		}
		slog.Info("Flashcards saved", "user_id", genUserID, "count", len(cards))
		out = cards
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func ensureUser(ctx context.Context, repo store.Repository, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		return nil
	}
	now := time.Now().UTC()
	err = repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   userID,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}
