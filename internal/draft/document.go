package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/order"
)

var (
	// ErrItemNotFound is returned when a sequence id names no live item.
	ErrItemNotFound = errors.New("draft item not found")
	// ErrInvalidAdjustment rejects adjustments that break document invariants.
	ErrInvalidAdjustment = errors.New("invalid adjustment")
)

// Document is the in-progress order or quote. Every mutating method returns a
// new Document and leaves the receiver untouched.
type Document struct {
	ID          string                  `json:"id"`
	DocumentID  string                  `json:"documentId"`
	Kind        order.Kind              `json:"kind"`
	Items       []adjustment.LineItem   `json:"items"`
	Adjustments []adjustment.Adjustment `json:"adjustments"`
	Version     int64                   `json:"version"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

// NewDocument starts an empty draft. An empty documentID marks a document that
// was never persisted.
func NewDocument(id string, kind order.Kind, documentID string, now time.Time) Document {
	if strings.TrimSpace(documentID) == "" {
		documentID = adjustment.PendingDocumentID
	}
	return Document{
		ID:          id,
		DocumentID:  documentID,
		Kind:        kind,
		Items:       []adjustment.LineItem{},
		Adjustments: []adjustment.Adjustment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (d Document) clone() Document {
	out := d
	out.Items = append(make([]adjustment.LineItem, 0, len(d.Items)), d.Items...)
	out.Adjustments = append(make([]adjustment.Adjustment, 0, len(d.Adjustments)), d.Adjustments...)
	return out
}

// Item returns the live item with the given sequence id.
func (d Document) Item(seq string) (adjustment.LineItem, bool) {
	if i := d.liveIndex(seq); i >= 0 {
		return d.Items[i], true
	}
	return adjustment.LineItem{}, false
}

func (d Document) liveIndex(seq string) int {
	seq = strings.TrimSpace(seq)
	for i, it := range d.Items {
		if it.Live() && it.ItemSeqID == seq {
			return i
		}
	}
	return -1
}

// AddItem appends item under the next free sequence id and returns the stored copy.
func (d Document) AddItem(item adjustment.LineItem) (Document, adjustment.LineItem) {
	out := d.clone()
	item.ItemSeqID = adjustment.FormatSeq(adjustment.NextSeq(out.Items))
	item.DocumentID = out.DocumentID
	item.IsDeleted = false
	item.IsPromoItem = false
	item.ParentItemSeqID = ""
	out.Items = append(out.Items, item)
	return out, item
}

// UpdateItem applies edit to the live item seq. It returns the new document,
// the edited item and the item as it was before.
func (d Document) UpdateItem(seq string, edit func(adjustment.LineItem) adjustment.LineItem) (Document, adjustment.LineItem, adjustment.LineItem, error) {
	i := d.liveIndex(seq)
	if i < 0 {
		return d, adjustment.LineItem{}, adjustment.LineItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, seq)
	}
	out := d.clone()
	prev := out.Items[i]
	next := edit(prev)
	next.ItemSeqID = prev.ItemSeqID
	next.DocumentID = prev.DocumentID
	next.IsDeleted = false
	out.Items[i] = next
	return out, next, prev, nil
}

// RemoveItem tombstones the live item seq, the promotion items it generated and
// every live adjustment attached to any of them.
func (d Document) RemoveItem(seq string) (Document, error) {
	i := d.liveIndex(seq)
	if i < 0 {
		return d, fmt.Errorf("%w: %s", ErrItemNotFound, seq)
	}
	out := d.clone()
	gone := map[string]struct{}{out.Items[i].ItemSeqID: {}}
	for _, it := range out.Items {
		if it.Live() && it.IsPromoItem && it.ParentItemSeqID == out.Items[i].ItemSeqID {
			gone[it.ItemSeqID] = struct{}{}
		}
	}
	for j, adj := range out.Adjustments {
		if _, ok := gone[adj.ItemSeqID]; ok && adj.Live() {
			out.Adjustments[j] = adj.Retract()
		}
	}
	for j, it := range out.Items {
		if _, ok := gone[it.ItemSeqID]; ok && it.Live() {
			out.Items[j] = it.Retract()
		}
	}
	return out, nil
}

// AddAdjustment appends a manual adjustment. Item-scoped adjustments must name
// a live item.
func (d Document) AddAdjustment(adj adjustment.Adjustment) (Document, adjustment.Adjustment, error) {
	if !adj.Type.Valid() {
		return d, adj, fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, adj.Type)
	}
	adj.ItemSeqID = strings.TrimSpace(adj.ItemSeqID)
	if adj.ItemSeqID != "" && d.liveIndex(adj.ItemSeqID) < 0 {
		return d, adj, fmt.Errorf("%w: %s", ErrItemNotFound, adj.ItemSeqID)
	}
	out := d.clone()
	if strings.TrimSpace(adj.AdjustmentID) == "" {
		adj.AdjustmentID = uuid.NewString()
	}
	adj.DocumentID = out.DocumentID
	adj.IsManual = true
	adj.IsDeleted = false
	out.Adjustments = append(out.Adjustments, adj)
	return out, adj, nil
}

// Merge folds computed records into the document. Tombstones are applied first,
// adjustments before items. A new item whose sequence id is already taken by a
// live item moves to the next free id and its new adjustments follow it.
func (d Document) Merge(retiredItems []adjustment.LineItem, retiredAdjs []adjustment.Adjustment, items []adjustment.LineItem, adjs []adjustment.Adjustment) Document {
	out := d.clone()
	for _, r := range retiredAdjs {
		for j, adj := range out.Adjustments {
			if adj.Live() && adj.AdjustmentID == r.AdjustmentID {
				out.Adjustments[j] = adj.Retract()
			}
		}
	}
	for _, r := range retiredItems {
		if j := out.liveIndex(r.ItemSeqID); j >= 0 {
			out.Items[j] = out.Items[j].Retract()
		}
	}

	moved := map[string]string{}
	for _, it := range items {
		if out.liveIndex(it.ItemSeqID) >= 0 {
			next := adjustment.FormatSeq(adjustment.NextSeq(out.Items))
			moved[it.ItemSeqID] = next
			it.ItemSeqID = next
		}
		it.DocumentID = out.DocumentID
		out.Items = append(out.Items, it)
	}
	for _, adj := range adjs {
		if next, ok := moved[adj.ItemSeqID]; ok {
			adj.ItemSeqID = next
		}
		adj.DocumentID = out.DocumentID
		out.Adjustments = append(out.Adjustments, adj)
	}
	return out
}

// Views computes every item under the document's subtotal policy.
func (d Document) Views() []adjustment.ComputedItemView {
	return adjustment.ComputeAll(d.Items, d.Adjustments, d.Kind.Policy())
}

// GrandTotal is the sum of live subtotals plus document-level adjustments.
func (d Document) GrandTotal() decimal.Decimal {
	return adjustment.GrandTotal(d.Items, d.Adjustments, d.Kind.Policy())
}

// LiveItemCount returns the number of non-tombstoned items.
func (d Document) LiveItemCount() int {
	return len(adjustment.LiveItems(d.Items))
}

// ForSubmission returns the workflow input for the document.
func (d Document) ForSubmission() order.Document {
	c := d.clone()
	return order.Document{ID: c.DocumentID, Kind: c.Kind, Items: c.Items, Adjustments: c.Adjustments}
}

// Committed returns the document after a successful submission: records carry
// documentID and tombstones are dropped since the collaborator has applied them.
func (d Document) Committed(documentID string) Document {
	out := d.clone()
	if strings.TrimSpace(documentID) != "" {
		out.DocumentID = documentID
	}
	items := make([]adjustment.LineItem, 0, len(out.Items))
	for _, it := range out.Items {
		if it.IsDeleted {
			continue
		}
		it.DocumentID = out.DocumentID
		items = append(items, it)
	}
	adjs := make([]adjustment.Adjustment, 0, len(out.Adjustments))
	for _, adj := range out.Adjustments {
		if adj.IsDeleted {
			continue
		}
		adj.DocumentID = out.DocumentID
		adjs = append(adjs, adj)
	}
	out.Items = items
	out.Adjustments = adjs
	return out
}
