package order

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/common"
)

// ErrDocumentNotFound is returned when no persisted document has the id.
var ErrDocumentNotFound = errors.New("document not found")

// Summary is a persisted document header.
type Summary struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	SourceDocumentID string          `json:"sourceDocumentId,omitempty"`
	Status           string          `json:"status"`
	GrandTotal       decimal.Decimal `json:"grandTotal"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Stored is a persisted document with its records.
type Stored struct {
	Summary
	Items       []adjustment.LineItem         `json:"items"`
	Adjustments []adjustment.Adjustment       `json:"adjustments"`
	Views       []adjustment.ComputedItemView `json:"views"`
}

// Reader loads persisted documents.
type Reader interface {
	ListDocuments(ctx context.Context, kind Kind, limit, offset int) ([]Summary, int, error)
	GetDocument(ctx context.Context, id string) (Stored, error)
}

// ReadHandler serves persisted documents.
type ReadHandler struct {
	Reader         Reader
	DefaultPerPage int
	MaxPerPage     int
}

// List handles GET /api/v1/documents.
func (h ReadHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Reader == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE", "document store not configured", nil)
		return
	}
	defaultPerPage := h.DefaultPerPage
	if defaultPerPage <= 0 {
		defaultPerPage = 20
	}
	page := common.ParsePage(r, defaultPerPage, h.MaxPerPage)
	kind := Kind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))))
	if kind != "" && !kind.Valid() {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "kind must be order or quote", map[string]string{"kind": "oneof"})
		return
	}
	docs, total, err := h.Reader.ListDocuments(r.Context(), kind, page.Size, page.Offset())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list documents", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       docs,
		"pagination": page.Meta(total),
	})
}

// Get handles GET /api/v1/documents/{id}.
func (h ReadHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Reader == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE", "document store not configured", nil)
		return
	}
	doc, err := h.Reader.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "document not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load document", nil)
		return
	}
	doc.Views = adjustment.ComputeAll(doc.Items, doc.Adjustments, doc.Kind.Policy())
	common.Data(w, http.StatusOK, doc)
}
