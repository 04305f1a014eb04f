//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/autoflash/internal/domain"
	"github.com/ashureev/autoflash/internal/extract"
)

func sampleDrafts(n int) []domain.FlashcardDraft {
	out := make([]domain.FlashcardDraft, n)
	for i := range out {
		out[i] = domain.FlashcardDraft{
			Question:   "Q" + strings.Repeat("?", i),
			Answer:     "A",
			Category:   "Notes",
			Difficulty: domain.DifficultyEasy,
		}
	}
	return out
}

type generateResponse struct {
	Flashcards []domain.Flashcard `json:"flashcards"`
	Count      int                `json:"count"`
	Saved      bool               `json:"saved"`
	Files      []extract.Result   `json:"files"`
	Text       string             `json:"text"`
}

func TestGenerate_Disabled(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "notes"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGenerate_SavesCards(t *testing.T) {
	ts := newTestServer(t, &fakeGenerator{drafts: sampleDrafts(5)})

	w := ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "Go has goroutines.", "count": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[generateResponse](t, w)
	assert.True(t, resp.Saved)
	assert.Equal(t, 3, resp.Count)
	for _, c := range resp.Flashcards {
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, testUser, c.UserID)
	}

	cards, err := ts.repo.ListFlashcards(t.Context(), testUser)
	require.NoError(t, err)
	assert.Len(t, cards, 3)
}

func TestGenerate_PreviewDoesNotSave(t *testing.T) {
	ts := newTestServer(t, &fakeGenerator{drafts: sampleDrafts(2)})

	w := ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "notes", "save": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[generateResponse](t, w).Saved)
	assert.Empty(t, ts.repo.cards)
}

func TestGenerate_Errors(t *testing.T) {
	ts := newTestServer(t, &fakeGenerator{drafts: sampleDrafts(1)})

	assert.Equal(t, http.StatusBadRequest,
		ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "  "}).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "x", "count": 51}).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "x", "difficulty": "brutal"}).Code)
	assert.Zero(t, ts.gen.calls, "invalid requests must not reach the generator")

	ts.gen.err = errUpstream
	assert.Equal(t, http.StatusBadGateway,
		ts.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"text": "x"}).Code)
}

func TestGenerate_RateLimited(t *testing.T) {
	ts := newTestServer(t, &fakeGenerator{drafts: sampleDrafts(1)})
	body := map[string]interface{}{"text": "notes", "save": false}

	// Burst of 2 in the test server.
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/generate", body).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/generate", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/api/generate", body).Code)
}

func uploadRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_ExtractsText(t *testing.T) {
	ts := newTestServer(t, nil)

	req := uploadRequest(t, nil, map[string]string{
		"notes.md":  "# Channels\nUnbuffered channels synchronise.",
		"scan.pdf":  "%PDF-1.4",
		"table.csv": "term,definition\nmutex,lock",
	})
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[generateResponse](t, w)
	assert.Len(t, resp.Files, 3)
	assert.Contains(t, resp.Text, "=== notes.md ===")
	assert.Contains(t, resp.Text, "Unbuffered channels synchronise.")
	assert.Contains(t, resp.Text, "mutex\tlock")
	for _, f := range resp.Files {
		if f.Name == "scan.pdf" {
			assert.False(t, f.Supported)
		}
	}
}

func TestUpload_GenerateAndLimits(t *testing.T) {
	ts := newTestServer(t, &fakeGenerator{drafts: sampleDrafts(4)})

	req := uploadRequest(t, map[string]string{"generate": "true", "count": "2"}, map[string]string{"notes.txt": "text"})
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[generateResponse](t, w)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Files, 1)

	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, uploadRequest(t, nil, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.study.cfg.Upload.MaxBytes = 64
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, uploadRequest(t, nil, map[string]string{"big.txt": strings.Repeat("x", 1024)}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(2 * time.Second)
	assert.True(t, rl.Allow("a"), "one token per second refills")

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 2, rl.Evict(5*time.Minute))
	assert.Equal(t, 0, rl.Evict(5*time.Minute))
}
