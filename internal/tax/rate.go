package tax

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
)

var basisPoints = decimal.NewFromInt(10000)

// RateCalculator is an in-process Calculator charging a flat basis-point rate
// on each item's discounted extended price.
type RateCalculator struct {
	RateBps int64
	Type    adjustment.Type
	// Places is the rounding precision of each tax row.
	Places int32
}

// Compute implements Calculator.
func (c RateCalculator) Compute(_ context.Context, req Request) (Response, error) {
	typ := c.Type
	if typ == "" {
		typ = adjustment.TypeSalesTax
	}
	if !typ.IsTax() {
		return Response{}, fmt.Errorf("tax: %s is not a tax adjustment type", typ)
	}
	if c.RateBps < 0 {
		return Response{}, fmt.Errorf("tax: negative rate %d", c.RateBps)
	}
	rate := decimal.NewFromInt(c.RateBps).Div(basisPoints)
	out := make([]adjustment.Adjustment, 0, len(req.Items))
	for _, item := range req.Items {
		if !item.Live() {
			continue
		}
		taxable := adjustment.Aggregate(
			adjustment.FilterByTypes(req.ExistingAdjustments, item.ItemSeqID, adjustment.DiscountTypes...),
			item, true)
		if !taxable.IsPositive() {
			continue
		}
		amount := taxable.Mul(rate).Round(c.Places)
		if amount.IsZero() {
			continue
		}
		out = append(out, adjustment.Adjustment{
			Type:        typ,
			DocumentID:  item.DocumentID,
			ItemSeqID:   item.ItemSeqID,
			Amount:      amount,
			Description: fmt.Sprintf("%s %s%%", typ, rate.Mul(decimal.NewFromInt(100)).String()),
		})
	}
	return Response{ResultMessage: ResultSuccess, TaxAdjustments: out}, nil
}
