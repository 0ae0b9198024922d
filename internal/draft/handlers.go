package draft

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/common"
	"github.com/noah-isme/backend-erp/internal/order"
	"github.com/noah-isme/backend-erp/internal/promotion"
	"github.com/noah-isme/backend-erp/internal/resilience"
)

// Handler exposes draft endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Routes mounts the draft endpoints. submitMW wraps only the submit route.
func (h *Handler) Routes(r chi.Router, submitMW ...func(http.Handler) http.Handler) {
	r.Post("/drafts", h.Create)
	r.Route("/drafts/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Discard)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{seq}", h.UpdateItem)
		r.Delete("/items/{seq}", h.RemoveItem)
		r.Post("/adjustments", h.AddAdjustment)
		r.Post("/taxes/refresh", h.RefreshTaxes)
		r.With(submitMW...).Post("/submit", h.Submit)
	})
}

type createRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=order quote"`
	DocumentID string `json:"documentId" validate:"omitempty,max=64"`
}

type itemRequest struct {
	ProductID      string           `json:"productId" validate:"required,max=64"`
	ProductPromoID string           `json:"productPromoId" validate:"omitempty,max=64"`
	Quantity       decimal.Decimal  `json:"quantity" validate:"dgt0"`
	UnitPrice      decimal.Decimal  `json:"unitPrice" validate:"dgte0"`
	UnitListPrice  *decimal.Decimal `json:"unitListPrice"`
}

type patchRequest struct {
	Quantity       *decimal.Decimal `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unitPrice"`
	ProductPromoID *string          `json:"productPromoId" validate:"omitempty,max=64"`
}

type adjustmentRequest struct {
	Type        string          `json:"adjustmentTypeId" validate:"required"`
	ItemSeqID   string          `json:"itemSeqId" validate:"omitempty,max=8"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"omitempty,max=255"`
}

type submitRequest struct {
	Action string `json:"action" validate:"required,oneof=create update create_derived_order"`
}

// Totals summarises a draft's money.
type Totals struct {
	SubTotal           decimal.Decimal `json:"subTotal"`
	DocumentLevelTotal decimal.Decimal `json:"documentLevelTotal"`
	GrandTotal         decimal.Decimal `json:"grandTotal"`
}

// View is the API representation of a draft.
type View struct {
	Document
	Views  []adjustment.ComputedItemView `json:"views"`
	Totals Totals                        `json:"totals"`
}

// NewView computes the API representation of doc.
func NewView(doc Document) View {
	views := doc.Views()
	return View{
		Document: doc,
		Views:    views,
		Totals: Totals{
			SubTotal:           adjustment.SubTotalSum(views),
			DocumentLevelTotal: adjustment.DocumentLevelTotal(doc.Adjustments),
			GrandTotal:         doc.GrandTotal(),
		},
	}
}

// Create handles POST /api/v1/drafts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), order.Kind(req.Kind), req.DocumentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, NewView(doc))
}

// Get handles GET /api/v1/drafts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	doc, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewView(doc))
}

// Discard handles DELETE /api/v1/drafts/{id}.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.service.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /api/v1/drafts/{id}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req itemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeMutation(w, r, http.StatusCreated, func(ctx context.Context) (Mutation, error) {
		return h.service.AddItem(ctx, chi.URLParam(r, "id"), ItemInput(req))
	})
}

// UpdateItem handles PATCH /api/v1/drafts/{id}/items/{seq}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req patchRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, func(ctx context.Context) (Mutation, error) {
		return h.service.UpdateItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "seq"), ItemPatch(req))
	})
}

// RemoveItem handles DELETE /api/v1/drafts/{id}/items/{seq}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.writeMutation(w, r, http.StatusOK, func(ctx context.Context) (Mutation, error) {
		return h.service.RemoveItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "seq"))
	})
}

// AddAdjustment handles POST /api/v1/drafts/{id}/adjustments.
func (h *Handler) AddAdjustment(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req adjustmentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	typ, ok := adjustment.ParseType(req.Type)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed", map[string]string{"adjustmentTypeId": "oneof"})
		return
	}
	h.writeMutation(w, r, http.StatusCreated, func(ctx context.Context) (Mutation, error) {
		return h.service.AddAdjustment(ctx, chi.URLParam(r, "id"), AdjustmentInput{
			Type:        typ,
			ItemSeqID:   req.ItemSeqID,
			Amount:      req.Amount,
			Description: req.Description,
		})
	})
}

// RefreshTaxes handles POST /api/v1/drafts/{id}/taxes/refresh.
func (h *Handler) RefreshTaxes(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.writeMutation(w, r, http.StatusOK, func(ctx context.Context) (Mutation, error) {
		return h.service.RefreshTaxes(ctx, chi.URLParam(r, "id"))
	})
}

// Submit handles POST /api/v1/drafts/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req submitRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	action, ok := order.ParseAction(req.Action)
	if !ok {
		h.writeError(w, order.ErrInvalidAction)
		return
	}
	receipt, err := h.service.Submit(r.Context(), chi.URLParam(r, "id"), action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, receipt)
}

func (h *Handler) writeMutation(w http.ResponseWriter, r *http.Request, status int, run func(context.Context) (Mutation, error)) {
	m, err := run(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := map[string]any{"data": NewView(m.Document)}
	meta := map[string]any{}
	if m.Promotion != nil {
		meta["promotion"] = map[string]any{
			"status":     m.Promotion.Status,
			"actionKind": m.Promotion.ActionKind,
			"message":    m.Promotion.Message,
		}
	}
	if m.Tax != nil {
		meta["tax"] = map[string]any{"succeeded": m.Tax.Succeeded, "message": m.Tax.Message}
	}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	common.JSON(w, status, body)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "draft service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	var unsupported *promotion.UnsupportedActionError
	var collab *order.CollaboratorError
	var rejected *PromotionRejectedError
	var commit *DraftCommitError
	switch {
	case errors.As(err, &commit):
		common.JSONError(w, http.StatusConflict, "DRAFT_NOT_COMMITTED", "document persisted but the draft was not updated", map[string]any{
			"documentId": commit.Receipt.DocumentID,
			"status":     commit.Receipt.Status,
			"grandTotal": commit.Receipt.GrandTotal,
		})
	case errors.Is(err, ErrDraftNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "draft not found", nil)
	case errors.Is(err, ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, order.ErrEmptyItems):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAdjustment), errors.Is(err, order.ErrInvalidAction):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", strings.TrimSpace(err.Error()), nil)
	case errors.Is(err, ErrDraftBusy), errors.Is(err, ErrVersionConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "draft was modified concurrently, retry", nil)
	case errors.As(err, &unsupported):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNSUPPORTED_PROMOTION_ACTION", unsupported.Error(), map[string]any{"actionKind": unsupported.Kind})
	case errors.As(err, &rejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "PROMOTION_REJECTED", rejected.Error(), map[string]any{"itemSeqId": rejected.ItemSeqID, "promotionId": rejected.PromotionID})
	case errors.Is(err, promotion.ErrPromotionNotFound):
		common.JSONError(w, http.StatusUnprocessableEntity, "PROMOTION_NOT_FOUND", "promotion not found", nil)
	case errors.As(err, &collab):
		common.JSONError(w, http.StatusUnprocessableEntity, "COLLABORATOR_FAILED", collab.Message, nil)
	case errors.Is(err, resilience.ErrOpenCircuit), errors.Is(err, promotion.ErrCatalogUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE", "downstream service temporarily unavailable", nil)
	case errors.Is(err, order.ErrPersisterUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", nil)
	default:
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "collaborator request failed", nil)
	}
}
