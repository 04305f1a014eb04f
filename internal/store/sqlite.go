package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ashureev/autoflash/internal/domain"
	"github.com/ashureev/autoflash/internal/shared"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flashcards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		review_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_reviewed_at INTEGER,
		next_review_date INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flashcards_user ON flashcards(user_id, created_at);

	CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		flashcard_ids TEXT NOT NULL DEFAULT '[]',
		total_cards INTEGER NOT NULL,
		completed_cards INTEGER NOT NULL DEFAULT 0,
		accuracy_rate REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_studied_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_study_sessions_user ON study_sessions(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type userRow struct {
	UserID     string `db:"user_id"`
	Username   string `db:"username"`
	LastSeenAt int64  `db:"last_seen_at"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	return &domain.User{
		UserID:     row.UserID,
		Username:   row.Username,
		LastSeenAt: time.Unix(row.LastSeenAt, 0),
		CreatedAt:  time.Unix(row.CreatedAt, 0),
		UpdatedAt:  time.Unix(row.UpdatedAt, 0),
	}, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (:user_id, :username, :last_seen_at, :created_at, :updated_at)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.NamedExecContext(ctx, query, userRow{
		UserID:     user.UserID,
		Username:   user.Username,
		LastSeenAt: user.LastSeenAt.Unix(),
		CreatedAt:  user.CreatedAt.Unix(),
		UpdatedAt:  user.UpdatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

type flashcardRow struct {
	ID             string        `db:"id"`
	UserID         string        `db:"user_id"`
	Question       string        `db:"question"`
	Answer         string        `db:"answer"`
	Category       string        `db:"category"`
	Difficulty     string        `db:"difficulty"`
	Tags           string        `db:"tags"`
	ReviewCount    int           `db:"review_count"`
	SuccessCount   int           `db:"success_count"`
	LastReviewedAt sql.NullInt64 `db:"last_reviewed_at"`
	NextReviewDate sql.NullInt64 `db:"next_review_date"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

const flashcardColumns = `id, user_id, question, answer, category, difficulty, tags,
	review_count, success_count, last_reviewed_at, next_review_date, created_at, updated_at`

func (r flashcardRow) toDomain() (domain.Flashcard, error) {
	card := domain.Flashcard{
		ID:             r.ID,
		UserID:         r.UserID,
		Question:       r.Question,
		Answer:         r.Answer,
		Category:       r.Category,
		Difficulty:     domain.Difficulty(r.Difficulty),
		ReviewCount:    r.ReviewCount,
		SuccessCount:   r.SuccessCount,
		LastReviewedAt: unixPtr(r.LastReviewedAt),
		NextReviewDate: unixPtr(r.NextReviewDate),
		CreatedAt:      time.Unix(r.CreatedAt, 0),
		UpdatedAt:      time.Unix(r.UpdatedAt, 0),
	}
	if err := json.Unmarshal([]byte(r.Tags), &card.Tags); err != nil {
		return domain.Flashcard{}, fmt.Errorf("decode tags of %s: %w", r.ID, err)
	}
	if card.Tags == nil {
		card.Tags = []string{}
	}
	return card, nil
}

func toDomainCards(rows []flashcardRow) ([]domain.Flashcard, error) {
	cards := make([]domain.Flashcard, 0, len(rows))
	for _, row := range rows {
		card, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateFlashcards stores drafts in a single transaction.
func (s *SQLiteStore) CreateFlashcards(ctx context.Context, userID string, drafts []domain.FlashcardDraft) ([]domain.Flashcard, error) {
	if len(drafts) == 0 {
		return []domain.Flashcard{}, nil
	}

	now := s.now()
	cards := make([]domain.Flashcard, 0, len(drafts))
	rows := make([]flashcardRow, 0, len(drafts))
	for _, d := range drafts {
		card := domain.Flashcard{
			ID:        uuid.NewString(),
			UserID:    userID,
			CreatedAt: time.Unix(now.Unix(), 0),
			UpdatedAt: time.Unix(now.Unix(), 0),
		}
		card.Apply(d)
		if card.Tags == nil {
			card.Tags = []string{}
		}
		tags, err := encodeList(card.Tags)
		if err != nil {
			return nil, fmt.Errorf("encode tags: %w", err)
		}
		rows = append(rows, flashcardRow{
			ID:         card.ID,
			UserID:     userID,
			Question:   card.Question,
			Answer:     card.Answer,
			Category:   card.Category,
			Difficulty: string(card.Difficulty),
			Tags:       tags,
			CreatedAt:  now.Unix(),
			UpdatedAt:  now.Unix(),
		})
		cards = append(cards, card)
	}

	err := shared.RetryOnConflict(ctx, "create flashcards", retryAttempts, retryBaseDelay, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Debug("Rollback failed", "error", rbErr)
			}
		}()

		query := `INSERT INTO flashcards (` + flashcardColumns + `) VALUES (
			:id, :user_id, :question, :answer, :category, :difficulty, :tags,
			:review_count, :success_count, :last_reviewed_at, :next_review_date, :created_at, :updated_at)`
		for _, row := range rows {
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return fmt.Errorf("insert flashcard: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// ListFlashcards returns all of a user's cards, newest first. Cards created
// together keep their insertion order.
func (s *SQLiteStore) ListFlashcards(ctx context.Context, userID string) ([]domain.Flashcard, error) {
	var rows []flashcardRow
	query := `SELECT ` + flashcardColumns + ` FROM flashcards
		WHERE user_id = ? ORDER BY created_at DESC, rowid ASC`
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	return toDomainCards(rows)
}

// GetFlashcards returns the user's cards with the given IDs in the order of ids.
func (s *SQLiteStore) GetFlashcards(ctx context.Context, userID string, ids []string) ([]domain.Flashcard, error) {
	if len(ids) == 0 {
		return []domain.Flashcard{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+flashcardColumns+` FROM flashcards
		WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("build flashcard query: %w", err)
	}

	var rows []flashcardRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get flashcards: %w", err)
	}
	cards, err := toDomainCards(rows)
	if err != nil {
		return nil, err
	}
	return orderByIDs(cards, ids), nil
}

func orderByIDs(cards []domain.Flashcard, ids []string) []domain.Flashcard {
	byID := make(map[string]domain.Flashcard, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}
	out := make([]domain.Flashcard, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			delete(byID, id)
		}
	}
	return out
}

// GetFlashcard retrieves one card.
func (s *SQLiteStore) GetFlashcard(ctx context.Context, userID, id string) (*domain.Flashcard, error) {
	var row flashcardRow
	err := s.db.GetContext(ctx, &row, `SELECT `+flashcardColumns+` FROM flashcards
		WHERE user_id = ? AND id = ?`, userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flashcard: %w", err)
	}
	card, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// UpdateFlashcard saves the editable fields of card.
func (s *SQLiteStore) UpdateFlashcard(ctx context.Context, card *domain.Flashcard) error {
	tags, err := encodeList(card.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	now := s.now()

	return shared.RetryOnConflict(ctx, "update flashcard", retryAttempts, retryBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE flashcards SET question = ?, answer = ?, category = ?, difficulty = ?, tags = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`,
			card.Question, card.Answer, card.Category, string(card.Difficulty), tags, now.Unix(),
			card.ID, card.UserID)
		if err != nil {
			return err
		}
		if err := requireRow(result); err != nil {
			return err
		}
		card.UpdatedAt = time.Unix(now.Unix(), 0)
		return nil
	})
}

// DeleteFlashcard removes one card.
func (s *SQLiteStore) DeleteFlashcard(ctx context.Context, userID, id string) error {
	return shared.RetryOnConflict(ctx, "delete flashcard", retryAttempts, retryBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM flashcards WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
}

// RecordReview increments the review counters of a card in a single statement.
func (s *SQLiteStore) RecordReview(ctx context.Context, userID, id string, success bool, reviewedAt time.Time, nextReview *time.Time) error {
	successInc := 0
	if success {
		successInc = 1
	}

	return shared.RetryOnConflict(ctx, "record review", retryAttempts, retryBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE flashcards SET
				review_count = review_count + 1,
				success_count = success_count + ?,
				last_reviewed_at = ?,
				next_review_date = COALESCE(?, next_review_date),
				updated_at = ?
			WHERE id = ? AND user_id = ?`,
			successInc, reviewedAt.Unix(), nullUnix(nextReview), s.now().Unix(), id, userID)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type studySessionRow struct {
	ID             string        `db:"id"`
	UserID         string        `db:"user_id"`
	Name           string        `db:"name"`
	FlashcardIDs   string        `db:"flashcard_ids"`
	TotalCards     int           `db:"total_cards"`
	CompletedCards int           `db:"completed_cards"`
	AccuracyRate   float64       `db:"accuracy_rate"`
	CreatedAt      int64         `db:"created_at"`
	LastStudiedAt  sql.NullInt64 `db:"last_studied_at"`
}

// CreateStudySession stores a new study session summary.
func (s *SQLiteStore) CreateStudySession(ctx context.Context, rec *domain.StudySessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	ids, err := encodeList(rec.FlashcardIDs)
	if err != nil {
		return fmt.Errorf("encode flashcard ids: %w", err)
	}

	query := `
	INSERT INTO study_sessions (id, user_id, name, flashcard_ids, total_cards, completed_cards, accuracy_rate, created_at, last_studied_at)
	VALUES (:id, :user_id, :name, :flashcard_ids, :total_cards, :completed_cards, :accuracy_rate, :created_at, :last_studied_at)`
	row := studySessionRow{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Name:           rec.Name,
		FlashcardIDs:   ids,
		TotalCards:     rec.TotalCards,
		CompletedCards: rec.CompletedCards,
		AccuracyRate:   rec.AccuracyRate,
		CreatedAt:      rec.CreatedAt.Unix(),
		LastStudiedAt:  nullUnix(rec.LastStudiedAt),
	}
	return shared.RetryOnConflict(ctx, "create study session", retryAttempts, retryBaseDelay, func() error {
		_, err := s.db.NamedExecContext(ctx, query, row)
		return err
	})
}

// UpdateStudySession records progress for a study session summary.
func (s *SQLiteStore) UpdateStudySession(ctx context.Context, userID, id string, completed int, accuracy float64, studiedAt time.Time) error {
	return shared.RetryOnConflict(ctx, "update study session", retryAttempts, retryBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE study_sessions SET completed_cards = ?, accuracy_rate = ?, last_studied_at = ?
			WHERE id = ? AND user_id = ?`,
			completed, accuracy, studiedAt.Unix(), id, userID)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
}

// ListStudySessions returns a user's study sessions, newest first.
func (s *SQLiteStore) ListStudySessions(ctx context.Context, userID string) ([]domain.StudySessionRecord, error) {
	var rows []studySessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, name, flashcard_ids, total_cards, completed_cards, accuracy_rate, created_at, last_studied_at
		FROM study_sessions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list study sessions: %w", err)
	}

	out := make([]domain.StudySessionRecord, 0, len(rows))
	for _, row := range rows {
		rec := domain.StudySessionRecord{
			ID:             row.ID,
			UserID:         row.UserID,
			Name:           row.Name,
			TotalCards:     row.TotalCards,
			CompletedCards: row.CompletedCards,
			AccuracyRate:   row.AccuracyRate,
			CreatedAt:      time.Unix(row.CreatedAt, 0),
			LastStudiedAt:  unixPtr(row.LastStudiedAt),
		}
		if err := json.Unmarshal([]byte(row.FlashcardIDs), &rec.FlashcardIDs); err != nil {
			return nil, fmt.Errorf("decode flashcard ids of %s: %w", row.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
