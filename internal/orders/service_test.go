package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

type stubOrdersRepo struct {
	orders    map[uuid.UUID]*models.Order
	updateErr error
}

func newStubOrdersRepo(orders ...*models.Order) *stubOrdersRepo {
	repo := &stubOrdersRepo{orders: map[uuid.UUID]*models.Order{}}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (s *stubOrdersRepo) WithTx(*gorm.DB) Repository { return s }

func (s *stubOrdersRepo) Create(_ context.Context, order *models.Order) error {
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrdersRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *o
	return &clone, nil
}

func (s *stubOrdersRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.FindByID(ctx, id)
}

func (s *stubOrdersRepo) ListByBuyer(_ context.Context, buyerID uuid.UUID, _ pagination.Params) ([]models.Order, string, error) {
	var out []models.Order
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, "", nil
}

func (s *stubOrdersRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to enums.OrderStatus, completedAt *time.Time) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	o := s.orders[id]
	if o.Status != from {
		return ErrStatusChanged
	}
	o.Status = to
	o.CompletedAt = completedAt
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubReleaser struct {
	calls   int
	payouts []payloads.SellerPayout
	err     error
}

func (s *stubReleaser) ReleaseTx(context.Context, *gorm.DB, *models.Order) ([]payloads.SellerPayout, error) {
	s.calls++
	return s.payouts, s.err
}

type stubTracker struct {
	published  []StatusUpdate
	publishErr error
}

func (s *stubTracker) Publish(_ context.Context, update StatusUpdate) error {
	s.published = append(s.published, update)
	return s.publishErr
}

func (s *stubTracker) Subscribe(context.Context, uuid.UUID) (<-chan StatusUpdate, error) {
	ch := make(chan StatusUpdate)
	close(ch)
	return ch, nil
}

type fixture struct {
	svc      Service
	repo     *stubOrdersRepo
	outbox   *stubOutbox
	releaser *stubReleaser
	tracker  *stubTracker
	order    *models.Order
	sellerID uuid.UUID
}

func newFixture(t *testing.T, status enums.OrderStatus) *fixture {
	t.Helper()
	seller := uuid.New()
	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		Status:           status,
		ConfirmationCode: "482913",
		Total:            decimal.NewFromInt(1120),
		Items:            []models.OrderItem{{SellerID: seller, UnitPrice: decimal.NewFromInt(1000), Quantity: 1}},
	}
	f := &fixture{
		repo:     newStubOrdersRepo(order),
		outbox:   &stubOutbox{},
		releaser: &stubReleaser{payouts: []payloads.SellerPayout{{SellerID: seller, Amount: decimal.NewFromInt(1000)}}},
		tracker:  &stubTracker{},
		order:    order,
		sellerID: seller,
	}
	svc, err := NewService(f.repo, stubTxRunner{}, f.outbox, f.releaser, f.tracker, nil, logger.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func TestAdvanceStatusMovesForwardAndEmits(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPending)
	ctx := context.Background()

	detail, err := f.svc.AdvanceStatus(ctx, AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusRiderAssigned})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if detail.Status != enums.OrderStatusRiderAssigned || detail.StatusIndex != 1 {
		t.Fatalf("unexpected detail status %s idx=%d", detail.Status, detail.StatusIndex)
	}
	if detail.ConfirmationCode != "" {
		t.Fatal("dispatch view must not expose the confirmation code")
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.EventOrderStatusChanged {
		t.Fatalf("expected one status event, got %+v", f.outbox.events)
	}
	data := f.outbox.events[0].Data.(payloads.OrderStatusChangedEvent)
	if data.From != enums.OrderStatusPending || data.To != enums.OrderStatusRiderAssigned {
		t.Fatalf("unexpected event payload %+v", data)
	}
	if len(f.tracker.published) != 1 || f.tracker.published[0].Index != 1 {
		t.Fatalf("expected live update, got %+v", f.tracker.published)
	}
}

func TestAdvanceStatusRejectsBackwardAndCompleted(t *testing.T) {
	f := newFixture(t, enums.OrderStatusInTransit)
	ctx := context.Background()

	_, err := f.svc.AdvanceStatus(ctx, AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusRiderAssigned})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for backward move, got %v", err)
	}
	_, err = f.svc.AdvanceStatus(ctx, AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusCompleted})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for dispatch completing, got %v", err)
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("rejected transitions must not emit events")
	}
}

func TestAdvanceStatusRejectsSkippedSteps(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPending)
	ctx := context.Background()

	for _, next := range []enums.OrderStatus{enums.OrderStatusInTransit, enums.OrderStatusDelivered} {
		_, err := f.svc.AdvanceStatus(ctx, AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: next, ConfirmationCode: "482913"})
		if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			t.Fatalf("expected state conflict for pending -> %s, got %v", next, err)
		}
	}
	if f.repo.orders[f.order.ID].Status != enums.OrderStatusPending {
		t.Fatal("status must not change on a skipped step")
	}
	if len(f.outbox.events) != 0 || len(f.tracker.published) != 0 {
		t.Fatal("rejected transitions must not emit")
	}
}

func TestAdvanceToDeliveredRequiresCode(t *testing.T) {
	f := newFixture(t, enums.OrderStatusInTransit)
	ctx := context.Background()

	_, err := f.svc.AdvanceStatus(ctx, AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusDelivered, ConfirmationCode: "000000"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for wrong code, got %v", err)
	}
	if f.repo.orders[f.order.ID].Status != enums.OrderStatusInTransit {
		t.Fatal("status must not change on a wrong code")
	}

	if _, err := f.svc.AdvanceStatus(ctx, AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusDelivered, ConfirmationCode: "482913"}); err != nil {
		t.Fatalf("advance with code: %v", err)
	}
	if f.repo.orders[f.order.ID].Status != enums.OrderStatusDelivered {
		t.Fatal("expected delivered")
	}
}

func TestAdvanceSameStatusIsNoop(t *testing.T) {
	f := newFixture(t, enums.OrderStatusRiderAssigned)
	if _, err := f.svc.AdvanceStatus(context.Background(), AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusRiderAssigned}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(f.outbox.events) != 0 || len(f.tracker.published) != 0 {
		t.Fatal("repeating the current status must not emit")
	}
}

func TestConfirmReceiptCompletesAndReleasesFunds(t *testing.T) {
	f := newFixture(t, enums.OrderStatusDelivered)
	ctx := context.Background()

	detail, err := f.svc.ConfirmReceipt(ctx, f.order.ID, f.order.BuyerID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if detail.Status != enums.OrderStatusCompleted || detail.CompletedAt == nil {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if f.releaser.calls != 1 {
		t.Fatalf("expected one release, got %d", f.releaser.calls)
	}
	if len(f.outbox.events) != 2 || f.outbox.events[1].EventType != enums.EventFundsReleased {
		t.Fatalf("expected status and funds events, got %+v", f.outbox.events)
	}

	if _, err := f.svc.ConfirmReceipt(ctx, f.order.ID, f.order.BuyerID); err != nil {
		t.Fatalf("second confirm should be a no-op: %v", err)
	}
	if f.releaser.calls != 1 || len(f.outbox.events) != 2 {
		t.Fatal("second confirm must not release or emit again")
	}
}

func TestConfirmReceiptRejectsNonBuyerAndEarlyConfirm(t *testing.T) {
	f := newFixture(t, enums.OrderStatusDelivered)
	ctx := context.Background()

	if _, err := f.svc.ConfirmReceipt(ctx, f.order.ID, f.sellerID); !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	early := newFixture(t, enums.OrderStatusInTransit)
	if _, err := early.svc.ConfirmReceipt(ctx, early.order.ID, early.order.BuyerID); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestConfirmReceiptRollsBackOnReleaseFailure(t *testing.T) {
	f := newFixture(t, enums.OrderStatusDelivered)
	f.releaser.err = errors.New("ledger down")

	_, err := f.svc.ConfirmReceipt(context.Background(), f.order.ID, f.order.BuyerID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(f.tracker.published) != 0 {
		t.Fatal("failed confirmation must not announce a status")
	}
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPending)
	f.tracker.publishErr = errors.New("redis down")

	if _, err := f.svc.AdvanceStatus(context.Background(), AdvanceStatusInput{OrderID: f.order.ID, ActorID: uuid.New(), Next: enums.OrderStatusRiderAssigned}); err != nil {
		t.Fatalf("publish failure should only be logged: %v", err)
	}
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPending)
	ctx := context.Background()

	detail, err := f.svc.Get(ctx, f.order.ID, Viewer{UserID: f.order.BuyerID, Role: enums.RoleUser})
	if err != nil || detail.ConfirmationCode != "482913" {
		t.Fatalf("buyer should see code, got %+v err=%v", detail, err)
	}
	detail, err = f.svc.Get(ctx, f.order.ID, Viewer{UserID: f.sellerID, Role: enums.RoleUser})
	if err != nil || detail.ConfirmationCode != "" {
		t.Fatalf("seller should see order without code, got %+v err=%v", detail, err)
	}
	if _, err := f.svc.Get(ctx, f.order.ID, Viewer{UserID: uuid.New(), Role: enums.RoleUser}); !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	if _, err := f.svc.Get(ctx, uuid.New(), Viewer{UserID: f.order.BuyerID}); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListRejectsBadCursor(t *testing.T) {
	f := newFixture(t, enums.OrderStatusPending)
	_, err := f.svc.List(context.Background(), f.order.BuyerID, pagination.Params{Cursor: "%%%"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	list, err := f.svc.List(context.Background(), f.order.BuyerID, pagination.Params{})
	if err != nil || len(list.Orders) != 1 || list.Orders[0].TotalItems != 1 {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
}
