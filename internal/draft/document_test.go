package draft_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/draft"
	"github.com/noah-isme/backend-erp/internal/order"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(product, qty, price string) adjustment.LineItem {
	return adjustment.LineItem{ProductID: product, Quantity: dec(qty), UnitPrice: dec(price)}
}

func TestNewDocumentMarksPending(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := draft.NewDocument("d-1", order.KindOrder, " ", now)
	require.Equal(t, adjustment.PendingDocumentID, doc.DocumentID)
	require.Empty(t, doc.Items)
	require.NotNil(t, doc.Items)

	doc = draft.NewDocument("d-2", order.KindQuote, "Q-9", now)
	require.Equal(t, "Q-9", doc.DocumentID)
}

func TestAddItemAssignsSequenceAndKeepsReceiver(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	next, first := doc.AddItem(line("P-1", "2", "100"))
	require.Equal(t, "01", first.ItemSeqID)
	require.Equal(t, adjustment.PendingDocumentID, first.DocumentID)
	require.Empty(t, doc.Items)

	next, second := next.AddItem(line("P-2", "1", "5"))
	require.Equal(t, "02", second.ItemSeqID)
	require.Equal(t, 2, next.LiveItemCount())
}

func TestRemoveItemTombstonesChildrenAndAdjustments(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	doc, parent := doc.AddItem(line("P-1", "2", "100"))
	doc = doc.Merge(nil, nil,
		[]adjustment.LineItem{{ItemSeqID: "02", ParentItemSeqID: parent.ItemSeqID, ProductID: "GIFT", Quantity: dec("1"), UnitPrice: dec("0"), IsPromoItem: true}},
		[]adjustment.Adjustment{
			{AdjustmentID: "a1", Type: adjustment.TypePromotion, ItemSeqID: "01", Amount: dec("-20")},
			{AdjustmentID: "a2", Type: adjustment.TypePromotion, ItemSeqID: "02", Amount: dec("-1")},
		})

	removed, err := doc.RemoveItem("01")
	require.NoError(t, err)
	require.Zero(t, removed.LiveItemCount())
	require.Len(t, removed.Items, 2)
	for _, adj := range removed.Adjustments {
		require.True(t, adj.IsDeleted)
	}
	require.True(t, removed.GrandTotal().IsZero())

	_, err = removed.RemoveItem("01")
	require.ErrorIs(t, err, draft.ErrItemNotFound)
}

func TestAddItemAfterRemovalDoesNotReuseSequence(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	doc, _ = doc.AddItem(line("P-1", "1", "1"))
	doc, err := doc.RemoveItem("01")
	require.NoError(t, err)
	_, item := doc.AddItem(line("P-2", "1", "1"))
	require.Equal(t, "02", item.ItemSeqID)
}

func TestAddAdjustmentRequiresLiveItem(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	doc, _ = doc.AddItem(line("P-1", "2", "100"))

	_, _, err := doc.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeDiscount, ItemSeqID: "07", Amount: dec("-1")})
	require.ErrorIs(t, err, draft.ErrItemNotFound)

	_, _, err = doc.AddAdjustment(adjustment.Adjustment{Type: "BOGUS", Amount: dec("-1")})
	require.ErrorIs(t, err, draft.ErrInvalidAdjustment)

	next, adj, err := doc.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeDiscount, ItemSeqID: "01", Amount: dec("-20")})
	require.NoError(t, err)
	require.NotEmpty(t, adj.AdjustmentID)
	require.True(t, adj.IsManual)
	require.True(t, next.GrandTotal().Equal(dec("200")), "order subtotals ignore item discounts")

	next, _, err = next.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeOther, Amount: dec("10")})
	require.NoError(t, err)
	require.True(t, next.GrandTotal().Equal(dec("210")), next.GrandTotal().String())
}

func TestGrandTotalFollowsDocumentKind(t *testing.T) {
	build := func(kind order.Kind) draft.Document {
		doc := draft.NewDocument("d-1", kind, "", time.Now())
		doc, _ = doc.AddItem(line("P-1", "2", "100"))
		doc, _, err := doc.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeDiscount, ItemSeqID: "01", Amount: dec("-20")})
		require.NoError(t, err)
		doc, _, err = doc.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeSalesTax, ItemSeqID: "01", Amount: dec("18")})
		require.NoError(t, err)
		doc, _, err = doc.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeOther, Amount: dec("5")})
		require.NoError(t, err)
		return doc
	}

	orderDoc := build(order.KindOrder)
	require.True(t, orderDoc.GrandTotal().Equal(dec("205")), orderDoc.GrandTotal().String())
	require.True(t, orderDoc.Views()[0].SubTotal.Equal(dec("200")))

	quoteDoc := build(order.KindQuote)
	require.True(t, quoteDoc.GrandTotal().Equal(dec("185")), quoteDoc.GrandTotal().String())
	require.True(t, quoteDoc.Views()[0].SubTotal.Equal(dec("180")))
}

func TestMergeRenumbersCollidingItems(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	doc, _ = doc.AddItem(line("P-1", "1", "10"))
	doc, _ = doc.AddItem(line("P-2", "1", "10"))

	merged := doc.Merge(nil, nil,
		[]adjustment.LineItem{{ItemSeqID: "02", ProductID: "GIFT", Quantity: dec("1"), UnitPrice: dec("0"), IsPromoItem: true}},
		[]adjustment.Adjustment{{AdjustmentID: "g", Type: adjustment.TypePromotion, ItemSeqID: "02", Amount: dec("-1")}})

	require.Len(t, merged.Items, 3)
	require.Equal(t, "03", merged.Items[2].ItemSeqID)
	require.Equal(t, "03", merged.Adjustments[0].ItemSeqID)
}

func TestMergeAppliesRetractionsBeforeAdditions(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	doc, _ = doc.AddItem(line("P-1", "1", "10"))
	doc = doc.Merge(nil, nil, nil, []adjustment.Adjustment{{AdjustmentID: "old", Type: adjustment.TypeSalesTax, ItemSeqID: "01", Amount: dec("1")}})

	merged := doc.Merge(nil,
		[]adjustment.Adjustment{{AdjustmentID: "old"}},
		nil,
		[]adjustment.Adjustment{{AdjustmentID: "new", Type: adjustment.TypeSalesTax, ItemSeqID: "01", Amount: dec("2")}})

	require.Len(t, merged.Adjustments, 2)
	require.True(t, merged.Adjustments[0].IsDeleted)
	require.False(t, merged.Adjustments[1].IsDeleted)
	require.True(t, doc.Adjustments[0].Live())
}

func TestQuoteViewsIncludeDiscountsInSubtotal(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindQuote, "", time.Now())
	doc, _ = doc.AddItem(line("P-1", "2", "100"))
	doc, _, err := doc.AddAdjustment(adjustment.Adjustment{Type: adjustment.TypeDiscount, ItemSeqID: "01", Amount: dec("-20")})
	require.NoError(t, err)

	views := doc.Views()
	require.Len(t, views, 1)
	require.True(t, views[0].SubTotal.Equal(dec("180")))
	require.True(t, doc.GrandTotal().Equal(dec("180")))
}

func TestCommittedDropsTombstones(t *testing.T) {
	doc := draft.NewDocument("d-1", order.KindOrder, "", time.Now())
	doc, _ = doc.AddItem(line("P-1", "1", "10"))
	doc, _ = doc.AddItem(line("P-2", "1", "10"))
	doc, err := doc.RemoveItem("01")
	require.NoError(t, err)

	sub := doc.ForSubmission()
	require.Len(t, sub.Items, 2)
	require.False(t, sub.Persisted())

	committed := doc.Committed("ORD-1")
	require.Equal(t, "ORD-1", committed.DocumentID)
	require.Len(t, committed.Items, 1)
	require.Equal(t, "ORD-1", committed.Items[0].DocumentID)
	require.Equal(t, "02", committed.Items[0].ItemSeqID)
}
