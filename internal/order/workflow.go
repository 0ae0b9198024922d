package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/events"
	"github.com/noah-isme/backend-erp/internal/obs"
)

// Kind distinguishes orders from quotes.
type Kind string

const (
	KindOrder Kind = "order"
	KindQuote Kind = "quote"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool { return k == KindOrder || k == KindQuote }

// Policy returns the subtotal policy of the kind.
func (k Kind) Policy() adjustment.SubtotalPolicy { return adjustment.PolicyFor(string(k)) }

// Action selects what the persistence collaborator does with a submission.
type Action string

const (
	ActionCreate             Action = "create"
	ActionUpdate             Action = "update"
	ActionCreateDerivedOrder Action = "create_derived_order"
)

// ParseAction normalises a raw action name.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionCreate, ActionUpdate, ActionCreateDerivedOrder:
		return a, true
	}
	return a, false
}

var (
	// ErrEmptyItems rejects a submission with no live items.
	ErrEmptyItems = errors.New("items cannot be empty")
	// ErrInvalidAction is returned when the action does not fit the document.
	ErrInvalidAction = errors.New("invalid submit action")
	// ErrPersisterUnavailable is returned when no persistence collaborator is wired.
	ErrPersisterUnavailable = errors.New("persistence collaborator unavailable")
)

// CollaboratorError carries a failure reported by the persistence collaborator.
// Message is shown to users unchanged.
type CollaboratorError struct {
	Message string
	Err     error
}

func (e *CollaboratorError) Error() string { return e.Message }

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Document is the snapshot a workflow submits.
type Document struct {
	ID          string
	Kind        Kind
	Items       []adjustment.LineItem
	Adjustments []adjustment.Adjustment
}

// Persisted reports whether the document already has a collaborator-side id.
func (d Document) Persisted() bool {
	id := strings.TrimSpace(d.ID)
	return id != "" && id != adjustment.PendingDocumentID
}

// Payload is sent to the persistence collaborator. Items holds the live items,
// RetractedItems the tombstoned ones and Adjustments every adjustment including
// tombstones, so one batch applies additions and retractions together.
type Payload struct {
	DocumentID       string                  `json:"documentId,omitempty"`
	SourceDocumentID string                  `json:"sourceDocumentId,omitempty"`
	Kind             Kind                    `json:"kind"`
	Action           Action                  `json:"action"`
	Items            []adjustment.LineItem   `json:"items"`
	RetractedItems   []adjustment.LineItem   `json:"retractedItems"`
	Adjustments      []adjustment.Adjustment `json:"adjustments"`
	GrandTotal       decimal.Decimal         `json:"grandTotal"`
	SubmittedAt      time.Time               `json:"submittedAt"`
}

// Receipt is the collaborator's answer to a submission.
type Receipt struct {
	DocumentID string                     `json:"documentId"`
	Status     string                     `json:"status"`
	GrandTotal decimal.Decimal            `json:"grandTotal"`
	SubTotals  map[string]decimal.Decimal `json:"subTotals,omitempty"`
}

// Persister stores a submitted document.
type Persister interface {
	Submit(ctx context.Context, payload Payload) (Receipt, error)
}

// EventEmitter publishes domain events.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Workflow validates a document, computes its grand total and hands it to the
// persistence collaborator. It never retries and never changes the document.
type Workflow struct {
	Persister Persister
	Events    EventEmitter
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Submit runs action for doc.
func (w *Workflow) Submit(ctx context.Context, doc Document, action Action) (Receipt, error) {
	live := adjustment.LiveItems(doc.Items)
	if len(live) == 0 {
		recordSubmit(action, "invalid")
		return Receipt{}, ErrEmptyItems
	}
	if err := validateAction(doc, action); err != nil {
		recordSubmit(action, "invalid")
		return Receipt{}, err
	}
	if w == nil || w.Persister == nil {
		return Receipt{}, ErrPersisterUnavailable
	}
	ctx, span := otel.Tracer("order").Start(ctx, "order.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.kind", string(doc.Kind)),
		attribute.String("submit.action", string(action)),
	)
	logger := obs.LoggerFrom(ctx, w.Logger)

	payload := w.assemble(doc, action)
	receipt, err := w.Persister.Submit(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		recordSubmit(action, "failed")
		var collab *CollaboratorError
		if errors.As(err, &collab) {
			logger.Info().Str("document_id", doc.ID).Str("action", string(action)).Str("message", collab.Message).Msg("document_submit_rejected")
			return Receipt{}, err
		}
		return Receipt{}, fmt.Errorf("order: submit %s: %w", action, err)
	}
	if receipt.GrandTotal.IsZero() && !payload.GrandTotal.IsZero() {
		receipt.GrandTotal = payload.GrandTotal
	}
	recordSubmit(action, "success")
	logger.Info().
		Str("document_id", receipt.DocumentID).
		Str("action", string(action)).
		Str("grand_total", payload.GrandTotal.String()).
		Int("items", len(payload.Items)).
		Int("retracted_items", len(payload.RetractedItems)).
		Msg("document_submitted")
	if w.Events != nil {
		if _, evErr := w.Events.Emit(ctx, events.TopicDocumentSubmitted, receipt.DocumentID, map[string]any{
			"documentId":       receipt.DocumentID,
			"sourceDocumentId": payload.SourceDocumentID,
			"kind":             payload.Kind,
			"action":           action,
			"grandTotal":       payload.GrandTotal,
		}); evErr != nil {
			logger.Warn().Err(evErr).Str("document_id", receipt.DocumentID).Msg("document_submitted_event_failed")
		}
	}
	return receipt, nil
}

func validateAction(doc Document, action Action) error {
	switch action {
	case ActionCreate:
		if doc.Persisted() {
			return fmt.Errorf("%w: document %s already exists, submit an update", ErrInvalidAction, doc.ID)
		}
		return nil
	case ActionUpdate:
		if !doc.Persisted() {
			return fmt.Errorf("%w: update requires a persisted document", ErrInvalidAction)
		}
		return nil
	case ActionCreateDerivedOrder:
		if doc.Kind != KindQuote {
			return fmt.Errorf("%w: only quotes can derive an order", ErrInvalidAction)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

func (w *Workflow) assemble(doc Document, action Action) Payload {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := Payload{
		Kind:        doc.Kind,
		Action:      action,
		SubmittedAt: now().UTC(),
	}
	if action == ActionCreateDerivedOrder {
		payload.Kind = KindOrder
		if doc.Persisted() {
			payload.SourceDocumentID = doc.ID
		}
		payload.Items = rebind(adjustment.LiveItems(doc.Items))
		payload.RetractedItems = []adjustment.LineItem{}
		payload.Adjustments = rebindAdjustments(liveAdjustments(doc.Adjustments))
		payload.GrandTotal = adjustment.GrandTotal(payload.Items, payload.Adjustments, KindOrder.Policy())
		return payload
	}
	if doc.Persisted() {
		payload.DocumentID = doc.ID
	}
	payload.Items = adjustment.LiveItems(doc.Items)
	payload.RetractedItems = make([]adjustment.LineItem, 0)
	for _, it := range doc.Items {
		if it.IsDeleted {
			payload.RetractedItems = append(payload.RetractedItems, it)
		}
	}
	payload.Adjustments = append([]adjustment.Adjustment{}, doc.Adjustments...)
	payload.GrandTotal = adjustment.GrandTotal(doc.Items, doc.Adjustments, doc.Kind.Policy())
	return payload
}

func liveAdjustments(adjs []adjustment.Adjustment) []adjustment.Adjustment {
	out := make([]adjustment.Adjustment, 0, len(adjs))
	for _, adj := range adjs {
		if adj.Live() {
			out = append(out, adj)
		}
	}
	return out
}

func rebind(items []adjustment.LineItem) []adjustment.LineItem {
	out := make([]adjustment.LineItem, len(items))
	for i, it := range items {
		it.DocumentID = adjustment.PendingDocumentID
		out[i] = it
	}
	return out
}

func rebindAdjustments(adjs []adjustment.Adjustment) []adjustment.Adjustment {
	out := make([]adjustment.Adjustment, len(adjs))
	for i, adj := range adjs {
		adj.DocumentID = adjustment.PendingDocumentID
		adj.AdjustmentID = ""
		out[i] = adj
	}
	return out
}

func recordSubmit(action Action, result string) {
	if obs.DocumentSubmitTotal != nil {
		obs.DocumentSubmitTotal.WithLabelValues(string(action), result).Inc()
	}
}
