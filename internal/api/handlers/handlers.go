package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/bill-parser/internal/api/middleware"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/logger"
	"github.com/dvloznov/bill-parser/internal/pipeline"
)

// StatementRunner is the part of the pipeline the HTTP API drives.
type StatementRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.BillStatement, error)
	RunFromPages(ctx context.Context, pages []domain.RasterPage, settings domain.Settings) (*domain.BillStatement, error)
}

// BillsHandler handles the synchronous bill parsing endpoints.
type BillsHandler struct {
	runner   StatementRunner
	defaults domain.Settings
}

// NewBillsHandler creates a bills handler. defaults are used when a request
// carries no settings.
func NewBillsHandler(runner StatementRunner, defaults domain.Settings) *BillsHandler {
	return &BillsHandler{runner: runner, defaults: defaults}
}

type parseRequest struct {
	Document string           `json:"document"`
	Password string           `json:"password,omitempty"`
	Settings *domain.Settings `json:"settings,omitempty"`
}

type parseImagesRequest struct {
	Images   []string         `json:"base64Images"`
	Settings *domain.Settings `json:"settings,omitempty"`
}

// Parse handles POST /api/bills/parse
func (h *BillsHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Document) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "document is required")
		return
	}
	document, err := base64.StdEncoding.DecodeString(stripDataURI(req.Document))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "document is not valid base64")
		return
	}

	stmt, err := h.runner.Run(r.Context(), pipeline.Request{
		Document: document,
		Password: req.Password,
		Settings: resolveSettings(req.Settings, h.defaults),
	})
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stmt)
}

// ParseImages handles POST /api/bills/parse-images
func (h *BillsHandler) ParseImages(w http.ResponseWriter, r *http.Request) {
	var req parseImagesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pages := make([]domain.RasterPage, 0, len(req.Images))
	for i, img := range req.Images {
		img = stripDataURI(img)
		if img == "" {
			middleware.WriteError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("base64Images[%d] is empty", i))
			return
		}
		if _, err := base64.StdEncoding.DecodeString(img); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("base64Images[%d] is not valid base64", i))
			return
		}
		pages = append(pages, domain.RasterPage{Index: i + 1, Image: img})
	}

	stmt, err := h.runner.RunFromPages(r.Context(), pages, resolveSettings(req.Settings, h.defaults))
	if err != nil {
		middleware.WriteDomainError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stmt)
}

// resolveSettings returns the request settings, or defaults when the
// request left them out entirely.
func resolveSettings(s *domain.Settings, defaults domain.Settings) domain.Settings {
	if s == nil || len(s.Categories) == 0 && s.SystemPrompt == "" {
		return defaults
	}
	return *s
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// decodeBody decodes a JSON body into dst and writes the error reply when it
// cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
			return false
		}
		l := logger.FromContext(r.Context())
		l.Debug().Err(err).Msg("Invalid request body")
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return false
	}
	return true
}

// stripDataURI removes a "data:<mime>;base64," prefix.
func stripDataURI(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			return s[idx+1:]
		}
	}
	return s
}
