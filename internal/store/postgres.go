package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/order"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Document statuses written to the header row.
const (
	StatusCreated = "created"
	StatusUpdated = "updated"
)

// Postgres persists submitted documents. Each submission runs in one
// transaction so retractions and additions land together.
type Postgres struct {
	DB    DB
	Now   func() time.Time
	NewID func() string
}

func (p *Postgres) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Postgres) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

// Submit implements order.Persister.
func (p *Postgres) Submit(ctx context.Context, payload order.Payload) (order.Receipt, error) {
	if p == nil || p.DB == nil {
		return order.Receipt{}, order.ErrPersisterUnavailable
	}
	docID := strings.TrimSpace(payload.DocumentID)
	status := StatusUpdated
	if payload.Action != order.ActionUpdate || docID == "" || docID == adjustment.PendingDocumentID {
		docID = p.newID()
		status = StatusCreated
	}

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return order.Receipt{}, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if status == StatusUpdated {
		var kind string
		err := tx.QueryRow(ctx, `SELECT kind FROM documents WHERE id = $1 FOR UPDATE`, docID).Scan(&kind)
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Receipt{}, &order.CollaboratorError{Message: fmt.Sprintf("document %s does not exist", docID), Err: order.ErrDocumentNotFound}
		}
		if err != nil {
			return order.Receipt{}, fmt.Errorf("store: lock document: %w", err)
		}
		if order.Kind(kind) != payload.Kind {
			return order.Receipt{}, &order.CollaboratorError{Message: fmt.Sprintf("document %s is a %s, not a %s", docID, kind, payload.Kind)}
		}
	}

	batch, err := BuildBatch(docID, status, payload, p.now(), p.newID)
	if err != nil {
		return order.Receipt{}, err
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return order.Receipt{}, fmt.Errorf("store: batch statement %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return order.Receipt{}, fmt.Errorf("store: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return order.Receipt{}, fmt.Errorf("store: commit: %w", err)
	}

	subTotals := make(map[string]decimal.Decimal, len(payload.Items))
	for _, v := range adjustment.ComputeAll(payload.Items, payload.Adjustments, payload.Kind.Policy()) {
		subTotals[v.ItemSeqID] = v.SubTotal
	}
	return order.Receipt{DocumentID: docID, Status: status, GrandTotal: payload.GrandTotal, SubTotals: subTotals}, nil
}

const (
	upsertDocumentSQL = `INSERT INTO documents (id, kind, source_document_id, status, grand_total, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5::numeric, $6, $6)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, grand_total = EXCLUDED.grand_total, updated_at = EXCLUDED.updated_at`
	deleteAdjustmentSQL     = `DELETE FROM document_adjustments WHERE document_id = $1 AND id = $2`
	deleteItemAdjustmentSQL = `DELETE FROM document_adjustments WHERE document_id = $1 AND item_seq_id = $2`
	deleteItemSQL           = `DELETE FROM document_items WHERE document_id = $1 AND item_seq_id = $2`
	upsertItemSQL           = `INSERT INTO document_items (document_id, item_seq_id, parent_item_seq_id, product_id, product_promo_id, quantity, unit_price, unit_list_price, is_promo_item)
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6::numeric, $7::numeric, $8::numeric, $9)
ON CONFLICT (document_id, item_seq_id) DO UPDATE SET parent_item_seq_id = EXCLUDED.parent_item_seq_id, product_id = EXCLUDED.product_id,
product_promo_id = EXCLUDED.product_promo_id, quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price,
unit_list_price = EXCLUDED.unit_list_price, is_promo_item = EXCLUDED.is_promo_item`
	upsertAdjustmentSQL = `INSERT INTO document_adjustments (id, document_id, item_seq_id, adjustment_type, amount, is_manual, product_promo_id, description)
VALUES ($1, $2, NULLIF($3, ''), $4, $5::numeric, $6, NULLIF($7, ''), NULLIF($8, ''))
ON CONFLICT (id) DO UPDATE SET item_seq_id = EXCLUDED.item_seq_id, adjustment_type = EXCLUDED.adjustment_type, amount = EXCLUDED.amount,
is_manual = EXCLUDED.is_manual, product_promo_id = EXCLUDED.product_promo_id, description = EXCLUDED.description`
)

// BuildBatch queues the statements for one submission: the document header,
// then every retraction, then the live items and adjustments. Adjustments
// without an id get one from newID, and so does every adjustment of a newly
// created document.
func BuildBatch(docID, status string, payload order.Payload, now time.Time, newID func() string) (*pgx.Batch, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, errors.New("store: document id is required")
	}
	if newID == nil {
		newID = uuid.NewString
	}
	batch := &pgx.Batch{}
	batch.Queue(upsertDocumentSQL, docID, string(payload.Kind), payload.SourceDocumentID, status, payload.GrandTotal.String(), now)

	for _, adj := range payload.Adjustments {
		if adj.IsDeleted && strings.TrimSpace(adj.AdjustmentID) != "" {
			batch.Queue(deleteAdjustmentSQL, docID, adj.AdjustmentID)
		}
	}
	for _, it := range payload.RetractedItems {
		batch.Queue(deleteItemAdjustmentSQL, docID, it.ItemSeqID)
		batch.Queue(deleteItemSQL, docID, it.ItemSeqID)
	}

	for _, it := range payload.Items {
		if it.IsDeleted {
			continue
		}
		var listPrice *string
		if it.UnitListPrice != nil {
			s := it.UnitListPrice.String()
			listPrice = &s
		}
		batch.Queue(upsertItemSQL, docID, it.ItemSeqID, it.ParentItemSeqID, it.ProductID, it.ProductPromoID,
			it.Quantity.String(), it.UnitPrice.String(), listPrice, it.IsPromoItem)
	}
	for _, adj := range payload.Adjustments {
		if adj.IsDeleted {
			continue
		}
		id := strings.TrimSpace(adj.AdjustmentID)
		if id == "" || status == StatusCreated {
			id = newID()
		}
		batch.Queue(upsertAdjustmentSQL, id, docID, adj.ItemSeqID, string(adj.Type), adj.Amount.String(),
			adj.IsManual, adj.ProductPromoID, adj.Description)
	}
	return batch, nil
}
