package adjustment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PendingDocumentID marks records that belong to a document not yet persisted.
const PendingDocumentID = "_NA_"

// Type enumerates the kinds of monetary adjustment.
type Type string

const (
	TypeDiscount  Type = "DISCOUNT_ADJUSTMENT"
	TypePromotion Type = "PROMOTION_ADJUSTMENT"
	TypeSalesTax  Type = "SALES_TAX"
	TypeVATTax    Type = "VAT_TAX"
	TypeManual    Type = "MANUAL_ADJUSTMENT"
	TypeOther     Type = "OTHER_ADJUSTMENT"
)

var (
	// DiscountTypes select the discount and promotion rows of an item.
	DiscountTypes = []Type{TypePromotion, TypeDiscount}
	// TaxTypes select the tax rows of an item.
	TaxTypes = []Type{TypeSalesTax, TypeVATTax}
)

// Valid reports whether t is one of the known adjustment kinds.
func (t Type) Valid() bool {
	switch t {
	case TypeDiscount, TypePromotion, TypeSalesTax, TypeVATTax, TypeManual, TypeOther:
		return true
	default:
		return false
	}
}

// IsTax reports whether t is a tax kind.
func (t Type) IsTax() bool {
	return t == TypeSalesTax || t == TypeVATTax
}

// ParseType normalises a raw adjustment type.
func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// LineItem is one priced line of an order or quote.
type LineItem struct {
	ItemSeqID       string           `json:"itemSeqId"`
	DocumentID      string           `json:"documentId"`
	ParentItemSeqID string           `json:"parentItemSeqId,omitempty"`
	ProductID       string           `json:"productId"`
	ProductPromoID  string           `json:"productPromoId,omitempty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unitPrice"`
	UnitListPrice   *decimal.Decimal `json:"unitListPrice,omitempty"`
	IsPromoItem     bool             `json:"isPromoItem"`
	IsDeleted       bool             `json:"isDeleted"`
}

// ExtendedPrice returns unit price times quantity.
func (it LineItem) ExtendedPrice() decimal.Decimal {
	return it.UnitPrice.Mul(it.Quantity)
}

// Live reports whether the item is not tombstoned.
func (it LineItem) Live() bool { return !it.IsDeleted }

// Retract returns a tombstoned copy of the item.
func (it LineItem) Retract() LineItem {
	it.IsDeleted = true
	return it
}

// HasPromotion reports whether the item carries a promotion reference.
func (it LineItem) HasPromotion() bool {
	return strings.TrimSpace(it.ProductPromoID) != ""
}

// Adjustment is a monetary modifier attached to a document or to one of its items.
// An empty ItemSeqID marks a document-level adjustment.
type Adjustment struct {
	AdjustmentID   string          `json:"adjustmentId"`
	Type           Type            `json:"adjustmentTypeId"`
	DocumentID     string          `json:"documentId"`
	ItemSeqID      string          `json:"itemSeqId,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	IsManual       bool            `json:"isManual"`
	ProductPromoID string          `json:"productPromoId,omitempty"`
	Description    string          `json:"description,omitempty"`
	IsDeleted      bool            `json:"isDeleted"`
}

// Live reports whether the adjustment is not tombstoned.
func (a Adjustment) Live() bool { return !a.IsDeleted }

// Retract returns a tombstoned copy of the adjustment.
func (a Adjustment) Retract() Adjustment {
	a.IsDeleted = true
	return a
}

// DocumentLevel reports whether the adjustment applies to the whole document.
func (a Adjustment) DocumentLevel() bool {
	return strings.TrimSpace(a.ItemSeqID) == ""
}

// ComputedItemView is a line item enriched with its aggregated adjustments.
type ComputedItemView struct {
	LineItem
	DiscountAndPromotionAdjustments decimal.Decimal `json:"discountAndPromotionAdjustments"`
	OtherAdjustments                decimal.Decimal `json:"otherAdjustments"`
	SubTotal                        decimal.Decimal `json:"subTotal"`
}

// LiveItems returns the non-tombstoned items preserving order.
func LiveItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.Live() {
			out = append(out, it)
		}
	}
	return out
}
