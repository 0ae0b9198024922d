package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/events"
	"github.com/noah-isme/backend-erp/internal/lock"
	"github.com/noah-isme/backend-erp/internal/obs"
	"github.com/noah-isme/backend-erp/internal/order"
	"github.com/noah-isme/backend-erp/internal/promotion"
	"github.com/noah-isme/backend-erp/internal/tax"
)

var (
	// ErrInvalidInput marks malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDraftBusy is returned when another mutation holds the draft.
	ErrDraftBusy = errors.New("draft is being modified")
)

// PromotionRejectedError is returned when an item edit cannot be priced under
// its promotion. The draft is left as it was before the edit.
type PromotionRejectedError struct {
	ItemSeqID   string
	PromotionID string
	Message     string
}

func (e *PromotionRejectedError) Error() string {
	if e.Message == "" {
		return "promotion rejected for item " + e.ItemSeqID
	}
	return e.Message
}

// DraftCommitError is returned by Submit when the collaborator persisted the
// document but the draft could not be bound to it. Receipt is the
// collaborator's answer and must not be submitted again as a create.
type DraftCommitError struct {
	DraftID string
	Receipt order.Receipt
	Err     error
}

func (e *DraftCommitError) Error() string {
	return fmt.Sprintf("document %s persisted but draft %s was not updated: %v", e.Receipt.DocumentID, e.DraftID, e.Err)
}

func (e *DraftCommitError) Unwrap() error { return e.Err }

// Repository stores draft snapshots.
type Repository interface {
	Get(ctx context.Context, id string) (Document, error)
	Save(ctx context.Context, doc Document, expected int64) (Document, error)
	Delete(ctx context.Context, id string) error
}

// Locker serialises mutations of one draft.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// PromotionApplier runs the promotion step.
type PromotionApplier interface {
	Apply(ctx context.Context, in promotion.ApplyInput) (promotion.Result, error)
}

// TaxRefresher runs the tax step.
type TaxRefresher interface {
	Refresh(ctx context.Context, documentID string, items []adjustment.LineItem, adjs []adjustment.Adjustment) (tax.Outcome, error)
}

// Submitter hands a finished document to persistence.
type Submitter interface {
	Submit(ctx context.Context, doc order.Document, action order.Action) (order.Receipt, error)
}

// Service owns draft documents and runs the promotion, tax and submit steps
// against them. One draft is mutated by one caller at a time.
type Service struct {
	Repo       Repository
	Locker     Locker
	LockTTL    time.Duration
	Promotions PromotionApplier
	Taxes      TaxRefresher
	Submitter  Submitter
	Events     order.EventEmitter
	Logger     zerolog.Logger
	Now        func() time.Time
	NewID      func() string
}

// Mutation is a draft after a change, with the outcome of the steps that ran.
type Mutation struct {
	Document  Document          `json:"-"`
	Promotion *promotion.Result `json:"promotion,omitempty"`
	Tax       *tax.Outcome      `json:"tax,omitempty"`
}

// ItemInput describes a new line.
type ItemInput struct {
	ProductID      string
	ProductPromoID string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	UnitListPrice  *decimal.Decimal
}

// ItemPatch describes an edit; nil fields stay unchanged.
type ItemPatch struct {
	Quantity       *decimal.Decimal
	UnitPrice      *decimal.Decimal
	ProductPromoID *string
}

// AdjustmentInput describes a manual adjustment.
type AdjustmentInput struct {
	Type        adjustment.Type
	ItemSeqID   string
	Amount      decimal.Decimal
	Description string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) ready() error {
	if s == nil || s.Repo == nil {
		return errors.New("draft: service not configured")
	}
	return nil
}

// Create starts a draft of kind. documentID names an already persisted
// document the draft will update.
func (s *Service) Create(ctx context.Context, kind order.Kind, documentID string) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	if !kind.Valid() {
		return Document{}, fmt.Errorf("unknown document kind %q: %w", kind, ErrInvalidInput)
	}
	doc := NewDocument(s.newID(), kind, strings.TrimSpace(documentID), s.now())
	saved, err := s.Repo.Save(ctx, doc, 0)
	if err != nil {
		return Document{}, err
	}
	s.emit(ctx, events.TopicDraftCreated, saved.ID, map[string]any{"draftId": saved.ID, "kind": saved.Kind, "documentId": saved.DocumentID})
	return saved, nil
}

// Get loads a draft.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	return s.Repo.Get(ctx, id)
}

// Discard removes a draft.
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.mutate(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		if err := s.Repo.Delete(ctx, id); err != nil {
			return Mutation{}, err
		}
		return Mutation{}, errDiscarded
	})
}

var errDiscarded = errors.New("discarded")

// AddItem adds a line, applies its promotion and refreshes taxes.
func (s *Service) AddItem(ctx context.Context, id string, in ItemInput) (Mutation, error) {
	if err := validateItem(in.ProductID, in.Quantity, in.UnitPrice); err != nil {
		return Mutation{}, err
	}
	var result Mutation
	err := s.mutateAndSave(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		next, item := doc.AddItem(adjustment.LineItem{
			ProductID:      strings.TrimSpace(in.ProductID),
			ProductPromoID: strings.TrimSpace(in.ProductPromoID),
			Quantity:       in.Quantity,
			UnitPrice:      in.UnitPrice,
			UnitListPrice:  in.UnitListPrice,
		})
		return s.applyPromotionAndTaxes(ctx, next, promotion.ApplyInput{Item: item, Items: next.Items, Adjustments: next.Adjustments})
	}, &result)
	return result, err
}

// UpdateItem edits a line and re-applies its promotion, superseding what the
// previous application produced.
func (s *Service) UpdateItem(ctx context.Context, id, seq string, patch ItemPatch) (Mutation, error) {
	var result Mutation
	err := s.mutateAndSave(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		next, item, prev, err := doc.UpdateItem(seq, func(it adjustment.LineItem) adjustment.LineItem {
			if patch.Quantity != nil {
				it.Quantity = *patch.Quantity
			}
			if patch.UnitPrice != nil {
				it.UnitPrice = *patch.UnitPrice
			}
			if patch.ProductPromoID != nil {
				it.ProductPromoID = strings.TrimSpace(*patch.ProductPromoID)
			}
			return it
		})
		if err != nil {
			return Mutation{}, err
		}
		if err := validateItem(item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return Mutation{}, err
		}
		previousPromo := ""
		if prev.ProductPromoID != item.ProductPromoID {
			previousPromo = prev.ProductPromoID
		}
		if !item.HasPromotion() {
			retiredItems, retiredAdjs := promotion.Supersede(item, previousPromo, next.Items, next.Adjustments)
			next = next.Merge(retiredItems, retiredAdjs, nil, nil)
		}
		m, err := s.applyPromotion(ctx, next, promotion.ApplyInput{
			Item:            item,
			Items:           next.Items,
			Adjustments:     next.Adjustments,
			IsEdit:          true,
			PreviousPromoID: previousPromo,
		})
		if err != nil {
			return Mutation{}, err
		}
		// Failed pricing on an edit keeps the stored line and its promotion output.
		if m.Promotion != nil && m.Promotion.Status == promotion.StatusFailed {
			return Mutation{}, &PromotionRejectedError{ItemSeqID: item.ItemSeqID, PromotionID: item.ProductPromoID, Message: m.Promotion.Message}
		}
		return s.refreshTaxes(ctx, m)
	}, &result)
	return result, err
}

// RemoveItem tombstones a line with everything it generated and refreshes taxes.
func (s *Service) RemoveItem(ctx context.Context, id, seq string) (Mutation, error) {
	var result Mutation
	err := s.mutateAndSave(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		next, err := doc.RemoveItem(seq)
		if err != nil {
			return Mutation{}, err
		}
		return s.refreshTaxes(ctx, Mutation{Document: next})
	}, &result)
	return result, err
}

// AddAdjustment records a manual adjustment and refreshes taxes.
func (s *Service) AddAdjustment(ctx context.Context, id string, in AdjustmentInput) (Mutation, error) {
	var result Mutation
	err := s.mutateAndSave(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		next, _, err := doc.AddAdjustment(adjustment.Adjustment{
			Type:        in.Type,
			ItemSeqID:   in.ItemSeqID,
			Amount:      in.Amount,
			Description: strings.TrimSpace(in.Description),
		})
		if err != nil {
			return Mutation{}, err
		}
		if in.Type.IsTax() {
			return Mutation{Document: next}, nil
		}
		return s.refreshTaxes(ctx, Mutation{Document: next})
	}, &result)
	return result, err
}

// RefreshTaxes retires the draft's tax rows and computes new ones.
func (s *Service) RefreshTaxes(ctx context.Context, id string) (Mutation, error) {
	var result Mutation
	err := s.mutateAndSave(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		return s.refreshTaxes(ctx, Mutation{Document: doc})
	}, &result)
	return result, err
}

// Submit sends the draft to persistence. On success the draft adopts the
// persisted id and drops its tombstones; deriving an order leaves the quote
// draft as it was.
func (s *Service) Submit(ctx context.Context, id string, action order.Action) (order.Receipt, error) {
	if s.Submitter == nil {
		return order.Receipt{}, order.ErrPersisterUnavailable
	}
	var receipt order.Receipt
	var commitErr error
	err := s.mutate(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		r, err := s.Submitter.Submit(ctx, doc.ForSubmission(), action)
		if err != nil {
			return Mutation{}, err
		}
		receipt = r
		if action == order.ActionCreateDerivedOrder {
			return Mutation{}, errUnchanged
		}
		next := doc.Committed(r.DocumentID)
		next.UpdatedAt = s.now()
		if _, err := s.Repo.Save(ctx, next, doc.Version); err != nil {
			obs.LoggerFrom(ctx, s.Logger).Error().Err(err).Str("draft_id", id).Str("document_id", r.DocumentID).Msg("draft_commit_failed")
			commitErr = &DraftCommitError{DraftID: id, Receipt: r, Err: err}
		}
		return Mutation{}, errUnchanged
	})
	if err == nil && commitErr != nil {
		err = commitErr
	}
	return receipt, err
}

var errUnchanged = errors.New("unchanged")

func (s *Service) applyPromotionAndTaxes(ctx context.Context, doc Document, in promotion.ApplyInput) (Mutation, error) {
	m, err := s.applyPromotion(ctx, doc, in)
	if err != nil {
		return Mutation{}, err
	}
	return s.refreshTaxes(ctx, m)
}

func (s *Service) applyPromotion(ctx context.Context, doc Document, in promotion.ApplyInput) (Mutation, error) {
	m := Mutation{Document: doc}
	if s.Promotions != nil {
		res, err := s.Promotions.Apply(ctx, in)
		if err != nil {
			return Mutation{}, err
		}
		m.Promotion = &res
		switch res.Status {
		case promotion.StatusSuccess:
			m.Document = doc.Merge(res.RetractedItems, res.RetractedAdjustments, res.Items, res.Adjustments)
			s.emit(ctx, events.TopicPromotionApplied, doc.ID, map[string]any{
				"draftId":     doc.ID,
				"itemSeqId":   in.Item.ItemSeqID,
				"promotionId": in.Item.ProductPromoID,
				"actionKind":  res.ActionKind,
				"items":       len(res.Items),
				"adjustments": len(res.Adjustments),
			})
		case promotion.StatusFailed:
			s.emit(ctx, events.TopicPromotionFailed, doc.ID, map[string]any{
				"draftId":     doc.ID,
				"itemSeqId":   in.Item.ItemSeqID,
				"promotionId": in.Item.ProductPromoID,
				"message":     res.Message,
			})
		}
	}
	return m, nil
}

func (s *Service) refreshTaxes(ctx context.Context, m Mutation) (Mutation, error) {
	if s.Taxes == nil {
		return m, nil
	}
	doc := m.Document
	out, err := s.Taxes.Refresh(ctx, doc.DocumentID, doc.Items, doc.Adjustments)
	if err != nil {
		return Mutation{}, err
	}
	m.Tax = &out
	if out.Succeeded {
		m.Document = doc.Merge(nil, out.Retired, nil, out.Fresh)
		s.emit(ctx, events.TopicTaxesRefreshed, doc.ID, map[string]any{
			"draftId": doc.ID,
			"retired": len(out.Retired),
			"fresh":   len(out.Fresh),
		})
	}
	return m, nil
}

// mutateAndSave runs fn under the draft lock and stores the document it returns.
func (s *Service) mutateAndSave(ctx context.Context, id string, fn func(context.Context, Document) (Mutation, error), result *Mutation) error {
	return s.mutate(ctx, id, func(ctx context.Context, doc Document) (Mutation, error) {
		m, err := fn(ctx, doc)
		if err != nil {
			return Mutation{}, err
		}
		m.Document.UpdatedAt = s.now()
		saved, err := s.Repo.Save(ctx, m.Document, doc.Version)
		if err != nil {
			return Mutation{}, err
		}
		m.Document = saved
		*result = m
		return m, nil
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(context.Context, Document) (Mutation, error)) error {
	if err := s.ready(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("draft id is required: %w", ErrInvalidInput)
	}
	run := func(ctx context.Context) error {
		doc, err := s.Repo.Get(ctx, id)
		if err != nil {
			return err
		}
		_, err = fn(ctx, doc)
		if errors.Is(err, errUnchanged) || errors.Is(err, errDiscarded) {
			return nil
		}
		return err
	}
	if s.Locker == nil {
		return run(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	err := s.Locker.WithLock(ctx, "draft:lock:"+id, ttl, run)
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("%w: %v", ErrDraftBusy, err)
	}
	return err
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		obs.LoggerFrom(ctx, s.Logger).Warn().Err(err).Str("topic", topic).Str("draft_id", aggregateID).Msg("event_emit_failed")
	}
}

func validateItem(productID string, qty, price decimal.Decimal) error {
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if qty.IsNegative() {
		return fmt.Errorf("quantity must not be negative: %w", ErrInvalidInput)
	}
	if price.IsNegative() {
		return fmt.Errorf("unit price must not be negative: %w", ErrInvalidInput)
	}
	return nil
}
