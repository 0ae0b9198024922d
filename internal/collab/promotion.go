package collab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/backend-erp/internal/promotion"
)

// Catalog resolves promotion action kinds over HTTP.
type Catalog struct {
	Client Client
}

// ActionKind implements promotion.Catalog.
func (c Catalog) ActionKind(ctx context.Context, promoID string) (string, error) {
	var out struct {
		PromotionID string `json:"promotionId"`
		ActionKind  string `json:"actionKind"`
	}
	err := c.Client.Do(ctx, http.MethodGet, "/promotions/"+url.PathEscape(promoID), nil, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", promotion.ErrPromotionNotFound, promoID)
		}
		return "", err
	}
	kind := strings.TrimSpace(out.ActionKind)
	if kind == "" {
		return "", fmt.Errorf("catalog returned no action kind for %s", promoID)
	}
	return kind, nil
}

// Pricing runs promotion computations over HTTP.
type Pricing struct {
	Client Client
}

// ComputeProductDiscount implements promotion.Pricing. A 4xx answer is a
// failed computation with the collaborator's message, not a transport error.
func (p Pricing) ComputeProductDiscount(ctx context.Context, req promotion.PricingRequest) (promotion.PricingResponse, error) {
	var out promotion.PricingResponse
	err := p.Client.Do(ctx, http.MethodPost, "/promotions/product-discount", req, &out)
	if err != nil {
		if msg, ok := rejection(err); ok {
			return promotion.PricingResponse{ResultMessage: string(promotion.StatusFailed), Message: msg}, nil
		}
		return promotion.PricingResponse{}, err
	}
	return out, nil
}
