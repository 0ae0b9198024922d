package draft_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-erp/internal/adjustment"
	"github.com/noah-isme/backend-erp/internal/draft"
	"github.com/noah-isme/backend-erp/internal/events"
	"github.com/noah-isme/backend-erp/internal/lock"
	"github.com/noah-isme/backend-erp/internal/order"
	"github.com/noah-isme/backend-erp/internal/promotion"
	"github.com/noah-isme/backend-erp/internal/tax"
)

type memRepo struct {
	mu   sync.Mutex
	docs map[string]draft.Document
}

func newMemRepo() *memRepo { return &memRepo{docs: map[string]draft.Document{}} }

func (m *memRepo) Get(_ context.Context, id string) (draft.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return draft.Document{}, draft.ErrDraftNotFound
	}
	return doc, nil
}

func (m *memRepo) Save(_ context.Context, doc draft.Document, expected int64) (draft.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.docs[doc.ID]; ok && cur.Version != expected {
		return draft.Document{}, draft.ErrVersionConflict
	}
	doc.Version = expected + 1
	m.docs[doc.ID] = doc
	return doc, nil
}

// commitFailRepo fails every save once failSaves is set.
type commitFailRepo struct {
	*memRepo
	failSaves bool
}

func (r *commitFailRepo) Save(ctx context.Context, doc draft.Document, expected int64) (draft.Document, error) {
	if r.failSaves {
		return draft.Document{}, errors.New("redis: connection refused")
	}
	return r.memRepo.Save(ctx, doc, expected)
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

type stubPromotions struct {
	result promotion.Result
	err    error
	calls  []promotion.ApplyInput
}

func (s *stubPromotions) Apply(_ context.Context, in promotion.ApplyInput) (promotion.Result, error) {
	s.calls = append(s.calls, in)
	if !in.Item.HasPromotion() {
		return promotion.Result{Status: promotion.StatusNoPromotion}, nil
	}
	return s.result, s.err
}

type stubTaxes struct {
	outcome tax.Outcome
	err     error
	calls   int
}

func (s *stubTaxes) Refresh(_ context.Context, _ string, _ []adjustment.LineItem, _ []adjustment.Adjustment) (tax.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

type stubSubmitter struct {
	receipt order.Receipt
	err     error
	last    order.Document
}

func (s *stubSubmitter) Submit(_ context.Context, doc order.Document, _ order.Action) (order.Receipt, error) {
	s.last = doc
	return s.receipt, s.err
}

type recordingEvents struct {
	topics []string
}

func (r *recordingEvents) Emit(_ context.Context, topic, _ string, _ any) (events.Event, error) {
	r.topics = append(r.topics, topic)
	return events.Event{Topic: topic}, nil
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, time.Duration, func(context.Context) error) error {
	return lock.ErrLockTimeout
}

func newService(promos *stubPromotions, taxes *stubTaxes, submitter *stubSubmitter) (*draft.Service, *memRepo, *recordingEvents) {
	repo := newMemRepo()
	ev := &recordingEvents{}
	svc := &draft.Service{
		Repo:       repo,
		Promotions: promos,
		Taxes:      taxes,
		Submitter:  submitter,
		Events:     ev,
		Logger:     zerolog.Nop(),
		NewID:      func() string { return "d-1" },
	}
	return svc, repo, ev
}

func TestServiceCreateValidatesKind(t *testing.T) {
	svc, _, ev := newService(&stubPromotions{}, &stubTaxes{}, &stubSubmitter{})
	_, err := svc.Create(context.Background(), order.Kind("invoice"), "")
	require.ErrorIs(t, err, draft.ErrInvalidInput)

	doc, err := svc.Create(context.Background(), order.KindOrder, "")
	require.NoError(t, err)
	require.Equal(t, "d-1", doc.ID)
	require.EqualValues(t, 1, doc.Version)
	require.Equal(t, []string{events.TopicDraftCreated}, ev.topics)
}

func TestServiceAddItemAppliesPromotionAndTaxes(t *testing.T) {
	promos := &stubPromotions{result: promotion.Result{
		Status:     promotion.StatusSuccess,
		ActionKind: promotion.KindProductDiscount,
		Items:      []adjustment.LineItem{},
		Adjustments: []adjustment.Adjustment{
			{AdjustmentID: "p-1", Type: adjustment.TypePromotion, ItemSeqID: "01", Amount: dec("-20"), ProductPromoID: "PR-1"},
		},
	}}
	taxes := &stubTaxes{outcome: tax.Outcome{
		Succeeded: true,
		Fresh:     []adjustment.Adjustment{{AdjustmentID: "t-1", Type: adjustment.TypeSalesTax, ItemSeqID: "01", Amount: dec("18")}},
	}}
	svc, _, ev := newService(promos, taxes, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindQuote, "")
	require.NoError(t, err)

	m, err := svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", ProductPromoID: "PR-1", Quantity: dec("2"), UnitPrice: dec("100")})
	require.NoError(t, err)
	require.NotNil(t, m.Promotion)
	require.Equal(t, promotion.StatusSuccess, m.Promotion.Status)
	require.NotNil(t, m.Tax)
	require.Len(t, m.Document.Adjustments, 2)
	require.EqualValues(t, 2, m.Document.Version)
	require.True(t, m.Document.GrandTotal().Equal(dec("180")))
	require.Equal(t, 1, taxes.calls)
	require.Contains(t, ev.topics, events.TopicPromotionApplied)
	require.Contains(t, ev.topics, events.TopicTaxesRefreshed)
}

func TestServiceAddItemKeepsItemWhenPromotionFails(t *testing.T) {
	promos := &stubPromotions{result: promotion.Result{Status: promotion.StatusFailed, Message: "promotion expired"}}
	svc, _, ev := newService(promos, &stubTaxes{outcome: tax.Outcome{Succeeded: true}}, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)

	m, err := svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", ProductPromoID: "PR-1", Quantity: dec("1"), UnitPrice: dec("10")})
	require.NoError(t, err)
	require.Equal(t, "promotion expired", m.Promotion.Message)
	require.Equal(t, 1, m.Document.LiveItemCount())
	require.Contains(t, ev.topics, events.TopicPromotionFailed)
}

func TestServiceAddItemAbortsOnTransportError(t *testing.T) {
	promos := &stubPromotions{err: promotion.ErrPricingUnavailable}
	svc, repo, _ := newService(promos, &stubTaxes{}, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", ProductPromoID: "PR-1", Quantity: dec("1"), UnitPrice: dec("10")})
	require.ErrorIs(t, err, promotion.ErrPricingUnavailable)

	stored, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.Empty(t, stored.Items)
	require.EqualValues(t, 1, stored.Version)
}

func TestServiceAddItemValidates(t *testing.T) {
	svc, _, _ := newService(&stubPromotions{}, &stubTaxes{}, &stubSubmitter{})
	_, err := svc.AddItem(context.Background(), "d-1", draft.ItemInput{ProductID: "P-1", Quantity: dec("-1"), UnitPrice: dec("1")})
	require.ErrorIs(t, err, draft.ErrInvalidInput)
}

func TestServiceTaxFailureKeepsState(t *testing.T) {
	taxes := &stubTaxes{outcome: tax.Outcome{Succeeded: false, Message: "tax service down"}}
	svc, _, _ := newService(&stubPromotions{}, taxes, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)

	m, err := svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", Quantity: dec("1"), UnitPrice: dec("10")})
	require.NoError(t, err)
	require.False(t, m.Tax.Succeeded)
	require.Equal(t, "tax service down", m.Tax.Message)
	require.Empty(t, m.Document.Adjustments)
}

func TestServiceUpdateItemRemovingPromotionRetractsOutput(t *testing.T) {
	promos := &stubPromotions{result: promotion.Result{
		Status:      promotion.StatusSuccess,
		Adjustments: []adjustment.Adjustment{{AdjustmentID: "p-1", Type: adjustment.TypePromotion, ItemSeqID: "01", Amount: dec("-5"), ProductPromoID: "PR-1"}},
	}}
	svc, _, _ := newService(promos, &stubTaxes{outcome: tax.Outcome{Succeeded: true}}, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", ProductPromoID: "PR-1", Quantity: dec("1"), UnitPrice: dec("10")})
	require.NoError(t, err)

	empty := ""
	m, err := svc.UpdateItem(ctx, "d-1", "01", draft.ItemPatch{ProductPromoID: &empty})
	require.NoError(t, err)
	require.Len(t, m.Document.Adjustments, 1)
	require.True(t, m.Document.Adjustments[0].IsDeleted)
	require.Equal(t, promotion.StatusNoPromotion, m.Promotion.Status)

	last := promos.calls[len(promos.calls)-1]
	require.True(t, last.IsEdit)
	require.Equal(t, "PR-1", last.PreviousPromoID)
}

func TestServiceUpdateMissingItem(t *testing.T) {
	svc, _, _ := newService(&stubPromotions{}, &stubTaxes{}, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)
	_, err = svc.UpdateItem(ctx, "d-1", "09", draft.ItemPatch{})
	require.ErrorIs(t, err, draft.ErrItemNotFound)
}

func TestServiceAddTaxAdjustmentSkipsRefresh(t *testing.T) {
	taxes := &stubTaxes{outcome: tax.Outcome{Succeeded: true}}
	svc, _, _ := newService(&stubPromotions{}, taxes, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)

	_, err = svc.AddAdjustment(ctx, "d-1", draft.AdjustmentInput{Type: adjustment.TypeSalesTax, Amount: dec("3")})
	require.NoError(t, err)
	require.Zero(t, taxes.calls)

	m, err := svc.AddAdjustment(ctx, "d-1", draft.AdjustmentInput{Type: adjustment.TypeOther, Amount: dec("1")})
	require.NoError(t, err)
	require.Equal(t, 1, taxes.calls)
	require.True(t, m.Document.GrandTotal().Equal(dec("4")))
}

func TestServiceSubmitCommitsDraft(t *testing.T) {
	submitter := &stubSubmitter{receipt: order.Receipt{DocumentID: "ORD-7", Status: "created"}}
	svc, repo, _ := newService(&stubPromotions{}, &stubTaxes{outcome: tax.Outcome{Succeeded: true}}, submitter)
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", Quantity: dec("1"), UnitPrice: dec("10")})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-2", Quantity: dec("1"), UnitPrice: dec("10")})
	require.NoError(t, err)
	_, err = svc.RemoveItem(ctx, "d-1", "01")
	require.NoError(t, err)

	receipt, err := svc.Submit(ctx, "d-1", order.ActionCreate)
	require.NoError(t, err)
	require.Equal(t, "ORD-7", receipt.DocumentID)
	require.Len(t, submitter.last.Items, 2)

	stored, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.Equal(t, "ORD-7", stored.DocumentID)
	require.Len(t, stored.Items, 1)
}

func TestServiceSubmitDerivedOrderLeavesDraft(t *testing.T) {
	submitter := &stubSubmitter{receipt: order.Receipt{DocumentID: "ORD-8"}}
	svc, repo, _ := newService(&stubPromotions{}, &stubTaxes{}, submitter)
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindQuote, "Q-1")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "d-1", order.ActionCreateDerivedOrder)
	require.NoError(t, err)
	stored, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.Equal(t, "Q-1", stored.DocumentID)
	require.EqualValues(t, 1, stored.Version)
}

func TestServiceSubmitSurfacesCollaboratorError(t *testing.T) {
	submitter := &stubSubmitter{err: &order.CollaboratorError{Message: "credit limit exceeded"}}
	svc, _, _ := newService(&stubPromotions{}, &stubTaxes{}, submitter)
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "d-1", order.ActionCreate)
	var collab *order.CollaboratorError
	require.True(t, errors.As(err, &collab))
	require.Equal(t, "credit limit exceeded", collab.Message)
}

func TestServiceSubmitReportsUncommittedDraft(t *testing.T) {
	submitter := &stubSubmitter{receipt: order.Receipt{DocumentID: "ORD-5", Status: "created"}}
	svc, repo, _ := newService(&stubPromotions{}, &stubTaxes{}, submitter)
	failing := &commitFailRepo{memRepo: repo}
	svc.Repo = failing
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", Quantity: dec("1"), UnitPrice: dec("10")})
	require.NoError(t, err)

	failing.failSaves = true
	receipt, err := svc.Submit(ctx, "d-1", order.ActionCreate)
	var commit *draft.DraftCommitError
	require.True(t, errors.As(err, &commit))
	require.Equal(t, "ORD-5", receipt.DocumentID)
	require.Equal(t, "ORD-5", commit.Receipt.DocumentID)
	require.Equal(t, "d-1", commit.DraftID)
	require.Contains(t, err.Error(), "connection refused")

	stored, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.Empty(t, stored.DocumentID)
}

func TestServiceBusyDraft(t *testing.T) {
	svc, _, _ := newService(&stubPromotions{}, &stubTaxes{}, &stubSubmitter{})
	svc.Locker = busyLocker{}
	_, err := svc.RefreshTaxes(context.Background(), "d-1")
	require.ErrorIs(t, err, draft.ErrDraftBusy)
}

func TestServiceDiscard(t *testing.T) {
	svc, repo, _ := newService(&stubPromotions{}, &stubTaxes{}, &stubSubmitter{})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)
	require.NoError(t, svc.Discard(ctx, "d-1"))
	_, err = repo.Get(ctx, "d-1")
	require.ErrorIs(t, err, draft.ErrDraftNotFound)
	require.ErrorIs(t, svc.Discard(ctx, "d-1"), draft.ErrDraftNotFound)
}

type catalogStub struct{}

func (catalogStub) ActionKind(context.Context, string) (string, error) {
	return promotion.KindProductDiscount, nil
}

type scriptedPricing struct {
	answers []string
	calls   int
}

func (p *scriptedPricing) ComputeProductDiscount(_ context.Context, req promotion.PricingRequest) (promotion.PricingResponse, error) {
	answer := p.answers[p.calls]
	p.calls++
	if answer != promotion.ResultSuccess {
		return promotion.PricingResponse{ResultMessage: answer, Message: "promotion " + req.PromotionID + " not applicable"}, nil
	}
	return promotion.PricingResponse{
		ResultMessage:  promotion.ResultSuccess,
		GeneratedItems: []adjustment.LineItem{{ItemSeqID: "g1", ProductID: "BONUS", Quantity: dec("1"), UnitPrice: dec("0")}},
		GeneratedAdjustments: []adjustment.Adjustment{
			{Type: adjustment.TypePromotion, ItemSeqID: "", Amount: dec("-5")},
		},
	}, nil
}

func liveChildren(doc draft.Document, parent string) []adjustment.LineItem {
	var out []adjustment.LineItem
	for _, it := range doc.Items {
		if it.Live() && it.ParentItemSeqID == parent {
			out = append(out, it)
		}
	}
	return out
}

func TestServiceRejectedPromotionEditKeepsPreviousOutput(t *testing.T) {
	pricing := &scriptedPricing{answers: []string{promotion.ResultSuccess, "Failed", promotion.ResultSuccess}}
	svc, repo, _ := newService(nil, &stubTaxes{outcome: tax.Outcome{Succeeded: true}}, &stubSubmitter{})
	svc.Promotions = promotion.NewApplicator(catalogStub{}, zerolog.Nop(), promotion.ProductDiscountHandler{Pricing: pricing})
	ctx := context.Background()
	_, err := svc.Create(ctx, order.KindOrder, "")
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "d-1", draft.ItemInput{ProductID: "P-1", ProductPromoID: "PR-A", Quantity: dec("1"), UnitPrice: dec("50")})
	require.NoError(t, err)
	before, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, liveChildren(before, "01"), 1)

	promoB := "PR-B"
	_, err = svc.UpdateItem(ctx, "d-1", "01", draft.ItemPatch{ProductPromoID: &promoB})
	var rejected *draft.PromotionRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "PR-B", rejected.PromotionID)

	after, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.Equal(t, before.Version, after.Version)
	trigger, ok := after.Item("01")
	require.True(t, ok)
	require.Equal(t, "PR-A", trigger.ProductPromoID)

	qty := dec("3")
	m, err := svc.UpdateItem(ctx, "d-1", "01", draft.ItemPatch{Quantity: &qty})
	require.NoError(t, err)
	children := liveChildren(m.Document, "01")
	require.Len(t, children, 1)
	require.Equal(t, "PR-A", children[0].ProductPromoID)

	var livePromoRows int
	for _, adj := range m.Document.Adjustments {
		if adj.Live() && adj.Type == adjustment.TypePromotion {
			livePromoRows++
		}
	}
	require.Equal(t, 1, livePromoRows)
	require.Equal(t, 3, pricing.calls)
}
