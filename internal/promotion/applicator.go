package promotion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/obs"
)

// Status is the outcome of a promotion application.
type Status string

const (
	StatusSuccess     Status = "Success"
	StatusFailed      Status = "Failed"
	StatusNoPromotion Status = "NoPromotion"
)

// ResultSuccess is the collaborator result message that marks a successful computation.
const ResultSuccess = "Success"

var (
	// ErrCatalogUnavailable is returned when the action kind cannot be resolved.
	ErrCatalogUnavailable = errors.New("promotion catalog unavailable")
	// ErrPricingUnavailable is returned when the pricing collaborator cannot be reached.
	ErrPricingUnavailable = errors.New("promotion pricing unavailable")
	// ErrPromotionNotFound is returned by catalogs that do not know a promotion.
	ErrPromotionNotFound = errors.New("promotion not found")
)

// UnsupportedActionError reports a promotion whose action kind has no registered handler.
type UnsupportedActionError struct {
	PromotionID string
	Kind        string
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("promotion %s: unsupported action kind %q", e.PromotionID, e.Kind)
}

// Catalog resolves a promotion's action kind.
type Catalog interface {
	ActionKind(ctx context.Context, promotionID string) (string, error)
}

// ApplyInput carries the triggering item and the collections it lives in.
type ApplyInput struct {
	Item        adjustment.LineItem
	Items       []adjustment.LineItem
	Adjustments []adjustment.Adjustment
	// IsEdit marks a re-application on an existing item.
	IsEdit bool
	// PreviousPromoID is the promotion the item carried before the edit, when it changed.
	PreviousPromoID string
}

// Result holds the records produced by one application. Items and Adjustments
// are new and not yet merged; the Retracted collections are tombstoned copies of
// records they supersede.
type Result struct {
	Status               Status                  `json:"status"`
	ActionKind           string                  `json:"actionKind,omitempty"`
	Message              string                  `json:"message,omitempty"`
	Items                []adjustment.LineItem   `json:"items"`
	Adjustments          []adjustment.Adjustment `json:"adjustments"`
	RetractedItems       []adjustment.LineItem   `json:"retractedItems"`
	RetractedAdjustments []adjustment.Adjustment `json:"retractedAdjustments"`
}

func emptyResult(status Status) Result {
	return Result{
		Status:               status,
		Items:                []adjustment.LineItem{},
		Adjustments:          []adjustment.Adjustment{},
		RetractedItems:       []adjustment.LineItem{},
		RetractedAdjustments: []adjustment.Adjustment{},
	}
}

// Applicator runs the promotion step for a new or edited line item.
type Applicator struct {
	Catalog  Catalog
	Handlers map[string]ActionHandler
	Logger   zerolog.Logger
}

// NewApplicator registers handlers by their action kind.
func NewApplicator(catalog Catalog, logger zerolog.Logger, handlers ...ActionHandler) *Applicator {
	a := &Applicator{Catalog: catalog, Handlers: make(map[string]ActionHandler, len(handlers)), Logger: logger}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		a.Handlers[h.Kind()] = h
	}
	return a
}

// Apply computes promotion records for in.Item. An item without a promotion
// returns StatusNoPromotion without contacting any collaborator. A collaborator
// answer other than success returns StatusFailed with its message and empty
// collections. Transport failures and unsupported action kinds are errors
// and come with a zero Result.
func (a *Applicator) Apply(ctx context.Context, in ApplyInput) (Result, error) {
	if !in.Item.HasPromotion() {
		return emptyResult(StatusNoPromotion), nil
	}
	if a == nil || a.Catalog == nil {
		return Result{}, fmt.Errorf("promotion: %w", ErrCatalogUnavailable)
	}
	promoID := strings.TrimSpace(in.Item.ProductPromoID)
	logger := obs.LoggerFrom(ctx, a.Logger)

	ctx, span := otel.Tracer("promotion").Start(ctx, "promotion.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("promotion.id", promoID),
		attribute.String("item.seq", in.Item.ItemSeqID),
		attribute.Bool("promotion.edit", in.IsEdit),
	)

	kind, err := a.Catalog.ActionKind(ctx, promoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup failed")
		recordApply("unknown", "error")
		return Result{}, fmt.Errorf("promotion: resolve action kind for %s: %w", promoID, err)
	}
	span.SetAttributes(attribute.String("promotion.action_kind", kind))

	handler, ok := a.Handlers[kind]
	if !ok {
		recordApply(kind, "unsupported")
		return Result{}, &UnsupportedActionError{PromotionID: promoID, Kind: kind}
	}

	resp, err := handler.Handle(ctx, ActionRequest{Item: in.Item, PromotionID: promoID, ActionKind: kind})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pricing call failed")
		recordApply(kind, "error")
		return Result{}, fmt.Errorf("promotion: %s: %w", kind, err)
	}
	if resp.ResultMessage != ResultSuccess {
		recordApply(kind, string(StatusFailed))
		res := emptyResult(StatusFailed)
		res.ActionKind = kind
		res.Message = resp.failureMessage()
		logger.Info().
			Str("promotion_id", promoID).
			Str("action_kind", kind).
			Str("message", res.Message).
			Msg("promotion_failed")
		return res, nil
	}

	res := emptyResult(StatusSuccess)
	res.ActionKind = kind
	if in.IsEdit {
		res.RetractedItems, res.RetractedAdjustments = Supersede(in.Item, in.PreviousPromoID, in.Items, in.Adjustments)
	}
	items, adjs, err := resequence(in.Item, resp.GeneratedItems, resp.GeneratedAdjustments)
	if err != nil {
		recordApply(kind, "error")
		return Result{}, err
	}
	for _, it := range items {
		if n, perr := adjustment.ParseSeq(it.ItemSeqID); perr == nil && adjustment.SeqOverflows(n) {
			if obs.SequenceOverflowTotal != nil {
				obs.SequenceOverflowTotal.Inc()
			}
			logger.Warn().
				Str("document_id", it.DocumentID).
				Str("item_seq", it.ItemSeqID).
				Msg("sequence_overflow")
		}
	}
	res.Items = items
	res.Adjustments = adjs
	recordApply(kind, string(StatusSuccess))
	logger.Info().
		Str("promotion_id", promoID).
		Str("action_kind", kind).
		Str("item_seq", in.Item.ItemSeqID).
		Int("generated_items", len(items)).
		Int("generated_adjustments", len(adjs)).
		Int("retracted_items", len(res.RetractedItems)).
		Int("retracted_adjustments", len(res.RetractedAdjustments)).
		Msg("promotion_applied")
	return res, nil
}

// Supersede returns tombstoned copies of everything earlier promotion runs on
// item produced: every live promo item whose parent is item, whatever promotion
// it came from, plus live adjustments on those items and promotion-sourced
// adjustments on item itself. Manual and tax rows on item are left alone.
// previousPromoID is still honoured for rows whose promo id was set by hand.
// Missing records are not an error.
func Supersede(item adjustment.LineItem, previousPromoID string, items []adjustment.LineItem, adjs []adjustment.Adjustment) ([]adjustment.LineItem, []adjustment.Adjustment) {
	promos := map[string]struct{}{}
	for _, id := range []string{item.ProductPromoID, previousPromoID} {
		if id = strings.TrimSpace(id); id != "" {
			promos[id] = struct{}{}
		}
	}
	retractedItems := []adjustment.LineItem{}
	retractedAdjs := []adjustment.Adjustment{}
	children := map[string]struct{}{}
	for _, it := range items {
		if !it.Live() || it.ParentItemSeqID != item.ItemSeqID {
			continue
		}
		_, samePromo := promos[it.ProductPromoID]
		if !it.IsPromoItem && !samePromo {
			continue
		}
		children[it.ItemSeqID] = struct{}{}
		retractedItems = append(retractedItems, it.Retract())
	}
	for _, adj := range adjs {
		if !adj.Live() {
			continue
		}
		if _, onChild := children[adj.ItemSeqID]; onChild {
			retractedAdjs = append(retractedAdjs, adj.Retract())
			continue
		}
		if adj.ItemSeqID != item.ItemSeqID || adj.IsManual || adj.Type.IsTax() {
			continue
		}
		if strings.TrimSpace(adj.ProductPromoID) != "" {
			retractedAdjs = append(retractedAdjs, adj.Retract())
		}
	}
	return retractedItems, retractedAdjs
}

// resequence numbers generated items from the trigger's sequence plus one in
// response order and moves their adjustments along. Adjustments that name no
// generated item attach to the trigger.
func resequence(trigger adjustment.LineItem, genItems []adjustment.LineItem, genAdjs []adjustment.Adjustment) ([]adjustment.LineItem, []adjustment.Adjustment, error) {
	base, err := adjustment.ParseSeq(trigger.ItemSeqID)
	if err != nil {
		return nil, nil, fmt.Errorf("promotion: %w", err)
	}
	remap := make(map[string]string, len(genItems))
	items := make([]adjustment.LineItem, 0, len(genItems))
	for i, it := range genItems {
		seq := adjustment.FormatSeq(base + 1 + i)
		if orig := strings.TrimSpace(it.ItemSeqID); orig != "" {
			if _, seen := remap[orig]; !seen {
				remap[orig] = seq
			}
		}
		it.ItemSeqID = seq
		it.ParentItemSeqID = trigger.ItemSeqID
		it.DocumentID = trigger.DocumentID
		it.IsPromoItem = true
		it.IsDeleted = false
		if strings.TrimSpace(it.ProductPromoID) == "" {
			it.ProductPromoID = trigger.ProductPromoID
		}
		items = append(items, it)
	}
	adjs := make([]adjustment.Adjustment, 0, len(genAdjs))
	for _, adj := range genAdjs {
		if seq, ok := remap[strings.TrimSpace(adj.ItemSeqID)]; ok {
			adj.ItemSeqID = seq
		} else {
			adj.ItemSeqID = trigger.ItemSeqID
		}
		adj.DocumentID = trigger.DocumentID
		adj.IsDeleted = false
		if strings.TrimSpace(adj.ProductPromoID) == "" {
			adj.ProductPromoID = trigger.ProductPromoID
		}
		if strings.TrimSpace(adj.AdjustmentID) == "" {
			adj.AdjustmentID = uuid.NewString()
		}
		if !adj.Type.Valid() {
			adj.Type = adjustment.TypePromotion
		}
		adjs = append(adjs, adj)
	}
	return items, adjs, nil
}

func recordApply(kind, status string) {
	if obs.PromotionApplyTotal != nil {
		obs.PromotionApplyTotal.WithLabelValues(kind, status).Inc()
	}
}
