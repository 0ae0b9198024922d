package adjustment

import "github.com/shopspring/decimal"

// FilterByTypes returns the live adjustments attached to itemSeqID whose type is one of types.
// Input order is preserved.
func FilterByTypes(adjustments []Adjustment, itemSeqID string, types ...Type) []Adjustment {
	if len(adjustments) == 0 || len(types) == 0 {
		return nil
	}
	out := make([]Adjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.IsDeleted || adj.ItemSeqID != itemSeqID {
			continue
		}
		if !typeIn(adj.Type, types) {
			continue
		}
		out = append(out, adj)
	}
	return out
}

// Aggregate sums the amounts of adjustments. When includeExtendedPrice is set the
// item's unit price times quantity is added once.
func Aggregate(adjustments []Adjustment, item LineItem, includeExtendedPrice bool) decimal.Decimal {
	total := decimal.Zero
	for _, adj := range adjustments {
		total = total.Add(adj.Amount)
	}
	if includeExtendedPrice {
		total = total.Add(item.ExtendedPrice())
	}
	return total
}

func typeIn(t Type, types []Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
