package adjustment

import "github.com/shopspring/decimal"

// SubtotalPolicy controls how discount rows feed into an item's subtotal.
// Orders and quotes have historically disagreed on this, so each kind gets
// its own named policy instead of a shared rule.
type SubtotalPolicy struct {
	Name string
	// ExtendedPriceInDiscounts adds unit price times quantity into the
	// discount/promotion aggregate.
	ExtendedPriceInDiscounts bool
	// DiscountsInSubtotal adds the discount/promotion aggregate to the
	// extended price when computing the subtotal.
	DiscountsInSubtotal bool
}

var (
	// OrderSubtotalPolicy keeps the subtotal at the bare extended price.
	OrderSubtotalPolicy = SubtotalPolicy{Name: "order"}
	// QuoteSubtotalPolicy folds discounts and promotions into the subtotal.
	QuoteSubtotalPolicy = SubtotalPolicy{Name: "quote", DiscountsInSubtotal: true}
)

// PolicyFor returns the subtotal policy for a document kind. Unknown kinds use
// the order policy.
func PolicyFor(kind string) SubtotalPolicy {
	if kind == QuoteSubtotalPolicy.Name {
		return QuoteSubtotalPolicy
	}
	return OrderSubtotalPolicy
}

// Compute builds the view of a single item.
func (p SubtotalPolicy) Compute(item LineItem, adjustments []Adjustment) ComputedItemView {
	discounts := Aggregate(FilterByTypes(adjustments, item.ItemSeqID, DiscountTypes...), item, p.ExtendedPriceInDiscounts)
	taxes := Aggregate(FilterByTypes(adjustments, item.ItemSeqID, TaxTypes...), item, false)
	subTotal := item.ExtendedPrice()
	if p.DiscountsInSubtotal {
		subTotal = subTotal.Add(discounts)
	}
	return ComputedItemView{
		LineItem:                        item,
		DiscountAndPromotionAdjustments: discounts,
		OtherAdjustments:                taxes,
		SubTotal:                        subTotal,
	}
}

// ComputeAll returns one view per item in input order. Tombstoned items are
// kept so callers can render pending removals. Inputs are not modified.
func ComputeAll(items []LineItem, adjustments []Adjustment, policy SubtotalPolicy) []ComputedItemView {
	if len(items) == 0 {
		return []ComputedItemView{}
	}
	views := make([]ComputedItemView, 0, len(items))
	for _, item := range items {
		views = append(views, policy.Compute(item, adjustments))
	}
	return views
}

// SubTotalSum adds the subtotals of the live views.
func SubTotalSum(views []ComputedItemView) decimal.Decimal {
	total := decimal.Zero
	for _, v := range views {
		if v.IsDeleted {
			continue
		}
		total = total.Add(v.SubTotal)
	}
	return total
}

// DocumentLevelTotal sums the live adjustments not attached to any item.
func DocumentLevelTotal(adjustments []Adjustment) decimal.Decimal {
	total := decimal.Zero
	for _, adj := range adjustments {
		if adj.IsDeleted || !adj.DocumentLevel() {
			continue
		}
		total = total.Add(adj.Amount)
	}
	return total
}

// GrandTotal is the live subtotal sum plus document-level adjustments.
func GrandTotal(items []LineItem, adjustments []Adjustment, policy SubtotalPolicy) decimal.Decimal {
	return SubTotalSum(ComputeAll(LiveItems(items), adjustments, policy)).Add(DocumentLevelTotal(adjustments))
}
