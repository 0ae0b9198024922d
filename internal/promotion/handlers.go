package promotion

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/backend-erp/internal/adjustment"
)

// KindProductDiscount is the catalog action kind for per-product discounts.
const KindProductDiscount = "PROMO_PROD_DISC"

// ActionRequest is what a handler receives for one application.
type ActionRequest struct {
	Item        adjustment.LineItem
	PromotionID string
	ActionKind  string
}

// ActionHandler computes promotion records for one action kind.
type ActionHandler interface {
	Kind() string
	Handle(ctx context.Context, req ActionRequest) (PricingResponse, error)
}

// PricingRequest is sent to the pricing collaborator.
type PricingRequest struct {
	Items               []adjustment.LineItem `json:"items"`
	PromotionID         string                `json:"promotionId"`
	PromotionActionKind string                `json:"promotionActionKind"`
}

// PricingResponse is returned by the pricing collaborator.
type PricingResponse struct {
	ResultMessage        string                  `json:"resultMessage"`
	Message              string                  `json:"message,omitempty"`
	GeneratedItems       []adjustment.LineItem   `json:"generatedItems"`
	GeneratedAdjustments []adjustment.Adjustment `json:"generatedAdjustments"`
}

func (r PricingResponse) failureMessage() string {
	if msg := strings.TrimSpace(r.Message); msg != "" {
		return r.Message
	}
	if strings.TrimSpace(r.ResultMessage) == "" {
		return string(StatusFailed)
	}
	return r.ResultMessage
}

// Pricing is the promotion computation collaborator.
type Pricing interface {
	ComputeProductDiscount(ctx context.Context, req PricingRequest) (PricingResponse, error)
}

// ProductDiscountHandler forwards product discount promotions to Pricing.
type ProductDiscountHandler struct {
	Pricing Pricing
}

// Kind implements ActionHandler.
func (h ProductDiscountHandler) Kind() string { return KindProductDiscount }

// Handle implements ActionHandler.
func (h ProductDiscountHandler) Handle(ctx context.Context, req ActionRequest) (PricingResponse, error) {
	if h.Pricing == nil {
		return PricingResponse{}, ErrPricingUnavailable
	}
	resp, err := h.Pricing.ComputeProductDiscount(ctx, PricingRequest{
		Items:               []adjustment.LineItem{req.Item},
		PromotionID:         req.PromotionID,
		PromotionActionKind: req.ActionKind,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return PricingResponse{}, err
		}
		return PricingResponse{}, errors.Join(ErrPricingUnavailable, err)
	}
	return resp, nil
}
