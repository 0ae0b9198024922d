package adjustment

// RetireStaleTaxAdjustments returns tombstoned copies of every live tax row
// attached to one of items. Callers merge the copies back before asking for
// fresh tax rows so old and new land in the same batch.
func RetireStaleTaxAdjustments(items []LineItem, adjustments []Adjustment) []Adjustment {
	if len(items) == 0 || len(adjustments) == 0 {
		return []Adjustment{}
	}
	out := make([]Adjustment, 0)
	for _, item := range items {
		for _, adj := range FilterByTypes(adjustments, item.ItemSeqID, TaxTypes...) {
			out = append(out, adj.Retract())
		}
	}
	return out
}
