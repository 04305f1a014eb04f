package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/autoflash/internal/domain"
)

var (
	_ Repository = (*SQLiteStore)(nil)
	_ Repository = (*PostgresStore)(nil)
)

// PostgresStore implements Repository on a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects to databaseURL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{pool: pool, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flashcards (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		review_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_reviewed_at TIMESTAMPTZ,
		next_review_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flashcards_user ON flashcards(user_id, created_at);

	CREATE TABLE IF NOT EXISTS study_sessions (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		flashcard_ids TEXT[] NOT NULL DEFAULT '{}',
		total_cards INTEGER NOT NULL,
		completed_cards INTEGER NOT NULL DEFAULT 0,
		accuracy_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		last_studied_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_study_sessions_user ON study_sessions(user_id, created_at);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = $1`, userID).
		Scan(&user.UserID, &user.Username, &user.LastSeenAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at`,
		user.UserID, user.Username, user.LastSeenAt, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *PostgresStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_seen_at = $1, updated_at = $2 WHERE user_id = $3`,
		lastSeen, s.now(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	return nil
}

type pgFlashcardRow struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	Question       string     `db:"question"`
	Answer         string     `db:"answer"`
	Category       string     `db:"category"`
	Difficulty     string     `db:"difficulty"`
	Tags           []string   `db:"tags"`
	ReviewCount    int        `db:"review_count"`
	SuccessCount   int        `db:"success_count"`
	LastReviewedAt *time.Time `db:"last_reviewed_at"`
	NextReviewDate *time.Time `db:"next_review_date"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r pgFlashcardRow) toDomain() domain.Flashcard {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return domain.Flashcard{
		ID:             r.ID,
		UserID:         r.UserID,
		Question:       r.Question,
		Answer:         r.Answer,
		Category:       r.Category,
		Difficulty:     domain.Difficulty(r.Difficulty),
		Tags:           tags,
		ReviewCount:    r.ReviewCount,
		SuccessCount:   r.SuccessCount,
		LastReviewedAt: r.LastReviewedAt,
		NextReviewDate: r.NextReviewDate,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (s *PostgresStore) queryFlashcards(ctx context.Context, query string, args ...any) ([]domain.Flashcard, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[pgFlashcardRow])
	if err != nil {
		return nil, err
	}
	cards := make([]domain.Flashcard, 0, len(collected))
	for _, row := range collected {
		cards = append(cards, row.toDomain())
	}
	return cards, nil
}

// CreateFlashcards stores drafts in a single batched transaction.
func (s *PostgresStore) CreateFlashcards(ctx context.Context, userID string, drafts []domain.FlashcardDraft) ([]domain.Flashcard, error) {
	if len(drafts) == 0 {
		return []domain.Flashcard{}, nil
	}

	now := s.now().UTC()
	batch := &pgx.Batch{}
	cards := make([]domain.Flashcard, 0, len(drafts))
	for _, d := range drafts {
		card := domain.Flashcard{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		card.Apply(d)
		if card.Tags == nil {
			card.Tags = []string{}
		}
		batch.Queue(`INSERT INTO flashcards (id, user_id, question, answer, category, difficulty, tags, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			card.ID, userID, card.Question, card.Answer, card.Category, string(card.Difficulty), card.Tags, now, now)
		cards = append(cards, card)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for range cards {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert flashcard: %w", err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create flashcards: %w", err)
	}
	return cards, nil
}

// ListFlashcards returns all of a user's cards, newest first.
func (s *PostgresStore) ListFlashcards(ctx context.Context, userID string) ([]domain.Flashcard, error) {
	cards, err := s.queryFlashcards(ctx, `SELECT `+flashcardColumns+` FROM flashcards
		WHERE user_id = $1 ORDER BY created_at DESC, seq ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	return cards, nil
}

// GetFlashcards returns the user's cards with the given IDs in the order of ids.
func (s *PostgresStore) GetFlashcards(ctx context.Context, userID string, ids []string) ([]domain.Flashcard, error) {
	if len(ids) == 0 {
		return []domain.Flashcard{}, nil
	}
	cards, err := s.queryFlashcards(ctx, `SELECT `+flashcardColumns+` FROM flashcards
		WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("get flashcards: %w", err)
	}
	return orderByIDs(cards, ids), nil
}

// GetFlashcard retrieves one card.
func (s *PostgresStore) GetFlashcard(ctx context.Context, userID, id string) (*domain.Flashcard, error) {
	cards, err := s.queryFlashcards(ctx, `SELECT `+flashcardColumns+` FROM flashcards
		WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return nil, fmt.Errorf("get flashcard: %w", err)
	}
	if len(cards) == 0 {
		return nil, nil
	}
	return &cards[0], nil
}

// UpdateFlashcard saves the editable fields of card.
func (s *PostgresStore) UpdateFlashcard(ctx context.Context, card *domain.Flashcard) error {
	now := s.now().UTC()
	tags := card.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE flashcards SET question = $1, answer = $2, category = $3, difficulty = $4, tags = $5, updated_at = $6
		WHERE id = $7 AND user_id = $8`,
		card.Question, card.Answer, card.Category, string(card.Difficulty), tags, now, card.ID, card.UserID)
	if err := affected(tag, err, "update flashcard"); err != nil {
		return err
	}
	card.UpdatedAt = now
	return nil
}

// DeleteFlashcard removes one card.
func (s *PostgresStore) DeleteFlashcard(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flashcards WHERE id = $1 AND user_id = $2`, id, userID)
	return affected(tag, err, "delete flashcard")
}

// RecordReview increments the review counters of a card in a single statement.
func (s *PostgresStore) RecordReview(ctx context.Context, userID, id string, success bool, reviewedAt time.Time, nextReview *time.Time) error {
	successInc := 0
	if success {
		successInc = 1
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE flashcards SET
			review_count = review_count + 1,
			success_count = success_count + $1,
			last_reviewed_at = $2,
			next_review_date = COALESCE($3, next_review_date),
			updated_at = $4
		WHERE id = $5 AND user_id = $6`,
		successInc, reviewedAt, nextReview, s.now(), id, userID)
	return affected(tag, err, "record review")
}

func affected(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

type pgStudySessionRow struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	Name           string     `db:"name"`
	FlashcardIDs   []string   `db:"flashcard_ids"`
	TotalCards     int        `db:"total_cards"`
	CompletedCards int        `db:"completed_cards"`
	AccuracyRate   float64    `db:"accuracy_rate"`
	CreatedAt      time.Time  `db:"created_at"`
	LastStudiedAt  *time.Time `db:"last_studied_at"`
}

// CreateStudySession stores a new study session summary.
func (s *PostgresStore) CreateStudySession(ctx context.Context, rec *domain.StudySessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	ids := rec.FlashcardIDs
	if ids == nil {
		ids = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO study_sessions (id, user_id, name, flashcard_ids, total_cards, completed_cards, accuracy_rate, created_at, last_studied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, rec.Name, ids, rec.TotalCards, rec.CompletedCards, rec.AccuracyRate, rec.CreatedAt, rec.LastStudiedAt)
	if err != nil {
		return fmt.Errorf("create study session: %w", err)
	}
	return nil
}

// UpdateStudySession records progress for a study session summary.
func (s *PostgresStore) UpdateStudySession(ctx context.Context, userID, id string, completed int, accuracy float64, studiedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE study_sessions SET completed_cards = $1, accuracy_rate = $2, last_studied_at = $3
		WHERE id = $4 AND user_id = $5`,
		completed, accuracy, studiedAt, id, userID)
	return affected(tag, err, "update study session")
}

// ListStudySessions returns a user's study sessions, newest first.
func (s *PostgresStore) ListStudySessions(ctx context.Context, userID string) ([]domain.StudySessionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, flashcard_ids, total_cards, completed_cards, accuracy_rate, created_at, last_studied_at
		FROM study_sessions WHERE user_id = $1 ORDER BY created_at DESC, seq DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list study sessions: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[pgStudySessionRow])
	if err != nil {
		return nil, fmt.Errorf("list study sessions: %w", err)
	}

	out := make([]domain.StudySessionRecord, 0, len(collected))
	for _, r := range collected {
		out = append(out, domain.StudySessionRecord{
			ID:             r.ID,
			UserID:         r.UserID,
			Name:           r.Name,
			FlashcardIDs:   r.FlashcardIDs,
			TotalCards:     r.TotalCards,
			CompletedCards: r.CompletedCards,
			AccuracyRate:   r.AccuracyRate,
			CreatedAt:      r.CreatedAt,
			LastStudiedAt:  r.LastStudiedAt,
		})
	}
	return out, nil
}
