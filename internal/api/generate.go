package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/autoflash/internal/extract"
	"github.com/ashureev/autoflash/internal/generate"
	"github.com/ashureev/autoflash/internal/identity"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// GenerateHandler turns notes and uploaded documents into flashcards.
type GenerateHandler struct {
	*Handler
	gen     generate.Generator
	limiter *RateLimiter
}

// NewGenerateHandler creates a generation handler. gen may be nil, in which
// case uploads still extract text but generation answers 503.
func NewGenerateHandler(base *Handler, gen generate.Generator, limiter *RateLimiter) *GenerateHandler {
	if limiter == nil {
		limiter = NewRateLimiter(base.cfg.Generation.RatePerMinute, base.cfg.Generation.Burst)
	}
	return &GenerateHandler{Handler: base, gen: gen, limiter: limiter}
}

// RegisterRoutes registers generation routes.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/generate", h.Generate)
	r.Post("/api/upload", h.Upload)
}

type generateRequest struct {
	generate.Request
	// Save defaults to true; false returns drafts without storing them.
	Save *bool `json:"save"`
}

// Generate creates flashcards from pasted text.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	save := req.Save == nil || *req.Save
	h.generate(w, r, req.Request, save, nil)
}

// generate runs one generation and writes the response. extra is merged
// into the response body.
func (h *GenerateHandler) generate(w http.ResponseWriter, r *http.Request, req generate.Request, save bool, extra map[string]interface{}) {
	if h.gen == nil {
		Error(w, http.StatusServiceUnavailable, "ai_disabled")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Text) > h.cfg.Generation.MaxTextBytes {
		Error(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds %d bytes", h.cfg.Generation.MaxTextBytes))
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	if !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	start := time.Now()
	drafts, err := h.gen.Generate(r.Context(), req)
	h.metrics.Generated(len(drafts), time.Since(start), err)
	if err != nil {
		slog.Warn("Flashcard generation failed", "error", err, "user_id", userID)
		Error(w, http.StatusBadGateway, "failed to generate flashcards")
		return
	}
	slog.Info("Flashcards generated", "user_id", userID, "count", len(drafts), "duration", time.Since(start))

	body := map[string]interface{}{}
	for k, v := range extra {
		body[k] = v
	}

	if !save {
		body["flashcards"] = drafts
		body["count"] = len(drafts)
		body["saved"] = false
		JSON(w, http.StatusOK, body)
		return
	}

	cards, err := h.repo.CreateFlashcards(r.Context(), userID, drafts)
	if err != nil {
		slog.Error("Failed to save generated flashcards", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save flashcards")
		return
	}
	body["flashcards"] = cards
	body["count"] = len(cards)
	body["saved"] = true
	JSON(w, http.StatusCreated, body)
}

// Upload extracts text from the multipart "files" field. With generate=true
// the combined text is passed to the generator as well.
func (h *GenerateHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.cfg.Upload.MaxBytes {
		Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", h.cfg.Upload.MaxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to remove multipart temp files", "error", err)
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		Error(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	files := make([]extract.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, f)
	}

	text, results := extract.Combine(files)
	slog.Info("Files extracted", "user_id", identity.UserIDFromContext(r.Context()), "files", len(files), "chars", len(text))

	if gen, _ := strconv.ParseBool(r.FormValue("generate")); !gen {
		JSON(w, http.StatusOK, map[string]interface{}{
			"text":  text,
			"files": results,
		})
		return
	}

	req := generate.Request{
		Text:       text,
		Difficulty: r.FormValue("difficulty"),
	}
	if c := r.FormValue("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			Error(w, http.StatusBadRequest, "count must be a number")
			return
		}
		req.Count = n
	}
	if cats := r.FormValue("categories"); cats != "" {
		req.Categories = strings.Split(cats, ",")
	}
	h.generate(w, r, req, true, map[string]interface{}{"files": results})
}

func readUpload(fh *multipart.FileHeader) (extract.File, error) {
	f, err := fh.Open()
	if err != nil {
		return extract.File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return extract.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return extract.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

