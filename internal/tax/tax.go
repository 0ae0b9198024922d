package tax

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/obs"
)

// ResultSuccess marks a successful tax computation.
const ResultSuccess = "Success"

// ErrCalculatorUnavailable is returned when no tax collaborator is configured or reachable.
var ErrCalculatorUnavailable = errors.New("tax calculator unavailable")

// Request is sent to the tax collaborator.
type Request struct {
	Items               []adjustment.LineItem   `json:"items"`
	ExistingAdjustments []adjustment.Adjustment `json:"existingAdjustments"`
}

// Response is returned by the tax collaborator.
type Response struct {
	ResultMessage  string                  `json:"resultMessage"`
	Message        string                  `json:"message,omitempty"`
	TaxAdjustments []adjustment.Adjustment `json:"taxAdjustments"`
}

// Calculator computes tax adjustments for a set of items.
type Calculator interface {
	Compute(ctx context.Context, req Request) (Response, error)
}

// Outcome is the result of one refresh. Retired and Fresh are meant to be
// merged together in that order.
type Outcome struct {
	Succeeded bool                    `json:"succeeded"`
	Message   string                  `json:"message,omitempty"`
	Retired   []adjustment.Adjustment `json:"retired"`
	Fresh     []adjustment.Adjustment `json:"fresh"`
}

// Refresher retires the current tax rows of a document and asks the
// calculator for new ones.
type Refresher struct {
	Calculator Calculator
	Provider   string
	Logger     zerolog.Logger
}

// Refresh retires live tax rows on items and requests fresh rows for the live
// items. A failed answer leaves Retired and Fresh empty so callers change nothing.
func (r *Refresher) Refresh(ctx context.Context, documentID string, items []adjustment.LineItem, adjs []adjustment.Adjustment) (Outcome, error) {
	if r == nil || r.Calculator == nil {
		return Outcome{}, ErrCalculatorUnavailable
	}
	ctx, span := otel.Tracer("tax").Start(ctx, "tax.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID), attribute.String("tax.provider", r.Provider))
	logger := obs.LoggerFrom(ctx, r.Logger)

	retired := adjustment.RetireStaleTaxAdjustments(items, adjs)
	live := adjustment.LiveItems(items)
	if len(live) == 0 {
		r.record("skipped")
		return Outcome{Succeeded: true, Retired: retired, Fresh: []adjustment.Adjustment{}}, nil
	}
	resp, err := r.Calculator.Compute(ctx, Request{Items: live, ExistingAdjustments: withoutTaxes(adjs)})
	if err != nil {
		span.RecordError(err)
		r.record("error")
		return Outcome{}, fmt.Errorf("tax: compute: %w", err)
	}
	if resp.ResultMessage != ResultSuccess {
		r.record("failed")
		msg := resp.Message
		if strings.TrimSpace(msg) == "" {
			msg = resp.ResultMessage
		}
		logger.Info().Str("document_id", documentID).Str("message", msg).Msg("tax_failed")
		return Outcome{Message: msg, Retired: []adjustment.Adjustment{}, Fresh: []adjustment.Adjustment{}}, nil
	}

	liveSeqs := make(map[string]struct{}, len(live))
	for _, it := range live {
		liveSeqs[it.ItemSeqID] = struct{}{}
	}
	fresh := make([]adjustment.Adjustment, 0, len(resp.TaxAdjustments))
	for _, adj := range resp.TaxAdjustments {
		if !adj.Type.IsTax() {
			logger.Warn().Str("document_id", documentID).Str("type", string(adj.Type)).Msg("tax_row_ignored")
			continue
		}
		if !adj.DocumentLevel() {
			if _, ok := liveSeqs[adj.ItemSeqID]; !ok {
				logger.Warn().Str("document_id", documentID).Str("item_seq", adj.ItemSeqID).Msg("tax_row_ignored")
				continue
			}
		}
		if strings.TrimSpace(adj.AdjustmentID) == "" {
			adj.AdjustmentID = uuid.NewString()
		}
		adj.DocumentID = documentID
		adj.IsDeleted = false
		fresh = append(fresh, adj)
	}
	r.record("success")
	logger.Info().
		Str("document_id", documentID).
		Int("retired", len(retired)).
		Int("fresh", len(fresh)).
		Msg("tax_refreshed")
	return Outcome{Succeeded: true, Retired: retired, Fresh: fresh}, nil
}

func (r *Refresher) record(result string) {
	if obs.TaxRefreshTotal != nil {
		provider := r.Provider
		if provider == "" {
			provider = "unknown"
		}
		obs.TaxRefreshTotal.WithLabelValues(provider, result).Inc()
	}
}

func withoutTaxes(adjs []adjustment.Adjustment) []adjustment.Adjustment {
	out := make([]adjustment.Adjustment, 0, len(adjs))
	for _, adj := range adjs {
		if adj.IsDeleted || adj.Type.IsTax() {
			continue
		}
		out = append(out, adj)
	}
	return out
}
