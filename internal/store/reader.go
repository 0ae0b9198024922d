package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/order"
)

const summaryColumns = `id, kind, COALESCE(source_document_id, ''), status, grand_total::text, created_at, updated_at`

// ListDocuments implements order.Reader. An empty kind lists every document.
func (p *Postgres) ListDocuments(ctx context.Context, kind order.Kind, limit, offset int) ([]order.Summary, int, error) {
	if p == nil || p.DB == nil {
		return nil, 0, order.ErrPersisterUnavailable
	}
	var total int
	if err := p.DB.QueryRow(ctx, `SELECT count(*) FROM documents WHERE ($1 = '' OR kind = $1)`, string(kind)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count documents: %w", err)
	}
	rows, err := p.DB.Query(ctx, `SELECT `+summaryColumns+` FROM documents WHERE ($1 = '' OR kind = $1)
ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, string(kind), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()
	out := []order.Summary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// GetDocument implements order.Reader.
func (p *Postgres) GetDocument(ctx context.Context, id string) (order.Stored, error) {
	if p == nil || p.DB == nil {
		return order.Stored{}, order.ErrPersisterUnavailable
	}
	id = strings.TrimSpace(id)
	summary, err := scanSummary(p.DB.QueryRow(ctx, `SELECT `+summaryColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Stored{}, order.ErrDocumentNotFound
	}
	if err != nil {
		return order.Stored{}, err
	}
	doc := order.Stored{Summary: summary, Items: []adjustment.LineItem{}, Adjustments: []adjustment.Adjustment{}}

	rows, err := p.DB.Query(ctx, `SELECT item_seq_id, COALESCE(parent_item_seq_id, ''), product_id, COALESCE(product_promo_id, ''),
quantity::text, unit_price::text, unit_list_price::text, is_promo_item
FROM document_items WHERE document_id = $1 ORDER BY item_seq_id`, id)
	if err != nil {
		return order.Stored{}, fmt.Errorf("store: load items: %w", err)
	}
	for rows.Next() {
		var (
			it         adjustment.LineItem
			qty, price string
			listPrice  *string
		)
		if err := rows.Scan(&it.ItemSeqID, &it.ParentItemSeqID, &it.ProductID, &it.ProductPromoID, &qty, &price, &listPrice, &it.IsPromoItem); err != nil {
			rows.Close()
			return order.Stored{}, err
		}
		it.DocumentID = id
		if it.Quantity, err = decimal.NewFromString(qty); err != nil {
			rows.Close()
			return order.Stored{}, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return order.Stored{}, err
		}
		if listPrice != nil {
			lp, err := decimal.NewFromString(*listPrice)
			if err != nil {
				rows.Close()
				return order.Stored{}, err
			}
			it.UnitListPrice = &lp
		}
		doc.Items = append(doc.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return order.Stored{}, err
	}

	rows, err = p.DB.Query(ctx, `SELECT id, COALESCE(item_seq_id, ''), adjustment_type, amount::text, is_manual,
COALESCE(product_promo_id, ''), COALESCE(description, '')
FROM document_adjustments WHERE document_id = $1 ORDER BY item_seq_id NULLS LAST, id`, id)
	if err != nil {
		return order.Stored{}, fmt.Errorf("store: load adjustments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			adj    adjustment.Adjustment
			typ    string
			amount string
		)
		if err := rows.Scan(&adj.AdjustmentID, &adj.ItemSeqID, &typ, &amount, &adj.IsManual, &adj.ProductPromoID, &adj.Description); err != nil {
			return order.Stored{}, err
		}
		adj.Type = adjustment.Type(typ)
		adj.DocumentID = id
		if adj.Amount, err = decimal.NewFromString(amount); err != nil {
			return order.Stored{}, err
		}
		doc.Adjustments = append(doc.Adjustments, adj)
	}
	return doc, rows.Err()
}

func scanSummary(row pgx.Row) (order.Summary, error) {
	var (
		s     order.Summary
		kind  string
		total string
	)
	if err := row.Scan(&s.ID, &kind, &s.SourceDocumentID, &s.Status, &total, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return order.Summary{}, err
	}
	s.Kind = order.Kind(kind)
	gt, err := decimal.NewFromString(total)
	if err != nil {
		return order.Summary{}, fmt.Errorf("store: grand total of %s: %w", s.ID, err)
	}
	s.GrandTotal = gt
	return s, nil
}
