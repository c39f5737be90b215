package checkout

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/internal/cart"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

// world is the in-memory state every stub writes to. fakeTx restores it when fn fails.
type world struct {
	carts         map[uuid.UUID]models.CartDocument
	orders        []models.Order
	notifications []models.Notification
	dispatch      []models.DispatchRecord
	sales         []models.SaleRecord
	holds         []uuid.UUID
	events        []outbox.DomainEvent
	failHold      bool
}

func newWorld() *world {
	return &world{carts: map[uuid.UUID]models.CartDocument{}}
}

func (w *world) clone() world {
	out := *w
	out.carts = make(map[uuid.UUID]models.CartDocument, len(w.carts))
	for k, v := range w.carts {
		v.Lines = append([]types.CartLine(nil), v.Lines...)
		out.carts[k] = v
	}
	out.orders = append([]models.Order(nil), w.orders...)
	out.notifications = append([]models.Notification(nil), w.notifications...)
	out.dispatch = append([]models.DispatchRecord(nil), w.dispatch...)
	out.sales = append([]models.SaleRecord(nil), w.sales...)
	out.holds = append([]uuid.UUID(nil), w.holds...)
	out.events = append([]outbox.DomainEvent(nil), w.events...)
	return out
}

type fakeTx struct{ w *world }

func (f fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	snapshot := f.w.clone()
	if err := fn(nil); err != nil {
		*f.w = snapshot
		return err
	}
	return nil
}

type stubCarts struct {
	ensureErr   error
	ensured     int
	invalidated []uuid.UUID
}

func (s *stubCarts) EnsureSynced(context.Context, uuid.UUID) error {
	s.ensured++
	return s.ensureErr
}

func (s *stubCarts) Invalidate(_ context.Context, userID uuid.UUID) {
	s.invalidated = append(s.invalidated, userID)
}

type stubCartRepo struct {
	w         *world
	bumpFirst bool
}

func (s *stubCartRepo) WithTx(*gorm.DB) cart.Repository { return s }

func (s *stubCartRepo) FindByUser(_ context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	doc, ok := s.w.carts[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	doc.Lines = append([]types.CartLine(nil), doc.Lines...)
	return &doc, nil
}

func (s *stubCartRepo) FindByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.CartDocument, error) {
	doc, err := s.FindByUser(ctx, userID)
	if err == nil && s.bumpFirst {
		s.bumpFirst = false
		stored := s.w.carts[userID]
		stored.Version++
		s.w.carts[userID] = stored
	}
	return doc, err
}

func (s *stubCartRepo) Save(_ context.Context, doc *models.CartDocument, expectedVersion int64) error {
	if s.w.carts[doc.UserID].Version != expectedVersion {
		return cart.ErrVersionConflict
	}
	next := *doc
	next.Version = expectedVersion + 1
	s.w.carts[doc.UserID] = next
	doc.Version = next.Version
	return nil
}

type stubOrders struct{ w *world }

func (s *stubOrders) WithTx(*gorm.DB) orders.Repository { return s }

func (s *stubOrders) Create(_ context.Context, order *models.Order) error {
	order.OrderNumber = int64(len(s.w.orders) + 1)
	s.w.orders = append(s.w.orders, *order)
	return nil
}

func (s *stubOrders) FindByID(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrders) FindByIDForUpdate(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrders) ListByBuyer(context.Context, uuid.UUID, pagination.Params) ([]models.Order, string, error) {
	return nil, "", nil
}

func (s *stubOrders) UpdateStatus(context.Context, uuid.UUID, enums.OrderStatus, enums.OrderStatus, *time.Time) error {
	return nil
}

type stubNotifications struct{ w *world }

func (s *stubNotifications) WithTx(*gorm.DB) notifications.Repository { return s }

func (s *stubNotifications) Create(ctx context.Context, n *models.Notification) error {
	return s.CreateMany(ctx, []models.Notification{*n})
}

func (s *stubNotifications) CreateMany(_ context.Context, rows []models.Notification) error {
	s.w.notifications = append(s.w.notifications, rows...)
	return nil
}

func (s *stubNotifications) List(context.Context, notifications.ListQuery) ([]models.Notification, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (s *stubNotifications) MarkRead(context.Context, uuid.UUID, uuid.UUID, time.Time) (notifications.MarkResult, error) {
	return notifications.MarkResult{}, nil
}

func (s *stubNotifications) MarkAllRead(context.Context, uuid.UUID, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubNotifications) DeleteReadBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubRecords struct{ w *world }

func (s *stubRecords) WithTx(*gorm.DB) Repository { return s }

func (s *stubRecords) CreateDispatchRecords(_ context.Context, records []models.DispatchRecord) error {
	s.w.dispatch = append(s.w.dispatch, records...)
	return nil
}

func (s *stubRecords) CreateSaleRecords(_ context.Context, records []models.SaleRecord) error {
	s.w.sales = append(s.w.sales, records...)
	return nil
}

func (s *stubRecords) ListSalesByOrder(context.Context, uuid.UUID) ([]models.SaleRecord, error) {
	return s.w.sales, nil
}

type stubEscrow struct{ w *world }

func (s *stubEscrow) HoldTx(_ context.Context, _ *gorm.DB, order *models.Order) error {
	if s.w.failHold {
		return errors.New("ledger unavailable")
	}
	s.w.holds = append(s.w.holds, order.ID)
	return nil
}

type stubOutbox struct{ w *world }

func (s *stubOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.w.events = append(s.w.events, event)
	return nil
}

type harness struct {
	svc      Service
	w        *world
	carts    *stubCarts
	cartRepo *stubCartRepo
	buyer    uuid.UUID
	sellerA  uuid.UUID
	sellerB  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		w:       newWorld(),
		carts:   &stubCarts{},
		buyer:   uuid.New(),
		sellerA: uuid.New(),
		sellerB: uuid.New(),
	}
	h.cartRepo = &stubCartRepo{w: h.w}
	svc, err := NewService(Deps{
		Tx:            fakeTx{w: h.w},
		Carts:         h.carts,
		CartRepo:      h.cartRepo,
		Orders:        &stubOrders{w: h.w},
		Notifications: &stubNotifications{w: h.w},
		Records:       &stubRecords{w: h.w},
		Escrow:        &stubEscrow{w: h.w},
		Outbox:        &stubOutbox{w: h.w},
		Logger:        logger.Nop(),
	}, config.CheckoutConfig{TaxRate: "0.12", Currency: "NGN", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) seedCart(lines ...types.CartLine) {
	h.w.carts[h.buyer] = models.CartDocument{UserID: h.buyer, Lines: lines, Version: 3, AppliedSeq: 7}
}

func cartLine(seller uuid.UUID, name, price string, qty int, selected bool) types.CartLine {
	return types.CartLine{
		ProductID: uuid.New(),
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
		SellerID:  seller,
		Selected:  selected,
	}
}

func validInput() SubmitInput {
	return SubmitInput{
		Source:        enums.OrderSourceCart,
		Address:       "Moremi Hall, Room 12",
		PaymentMethod: enums.PaymentMethodTransfer,
		Pickup:        &types.GeoPoint{Lat: 6.51, Lng: 3.39},
		Dropoff:       &types.GeoPoint{Lat: 6.52, Lng: 3.40},
	}
}

func TestSubmitCartCheckoutFansOutAndKeepsUnselectedLines(t *testing.T) {
	h := newHarness(t)
	kept := cartLine(h.sellerA, "mug", "200", 1, false)
	h.seedCart(
		cartLine(h.sellerA, "desk lamp", "1000", 2, true),
		cartLine(h.sellerB, "textbook", "500", 1, true),
		kept,
	)

	detail, err := h.svc.Submit(context.Background(), h.buyer, validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !detail.Subtotal.Equal(decimal.NewFromInt(2500)) || !detail.Tax.Equal(decimal.NewFromInt(300)) || !detail.Total.Equal(decimal.NewFromInt(2800)) {
		t.Fatalf("unexpected money %s/%s/%s", detail.Subtotal, detail.Tax, detail.Total)
	}
	if detail.Status != enums.OrderStatusPending || len(detail.ConfirmationCode) != 6 || detail.ConfirmationCode[0] == '0' {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Address != "Moremi Hall, Room 12" || len(detail.Items) != 2 {
		t.Fatalf("unexpected receipt %+v", detail)
	}

	if len(h.w.orders) != 1 || len(h.w.notifications) != 2 || len(h.w.dispatch) != 2 || len(h.w.sales) != 2 {
		t.Fatalf("unexpected fan-out orders=%d notifications=%d dispatch=%d sales=%d",
			len(h.w.orders), len(h.w.notifications), len(h.w.dispatch), len(h.w.sales))
	}
	if h.w.notifications[0].RecipientID != h.sellerA || h.w.notifications[1].RecipientID != h.sellerB {
		t.Fatal("expected one notification per seller in first-seen order")
	}
	if h.w.dispatch[0].Status != enums.DispatchStatusAwaitingRider {
		t.Fatalf("unexpected dispatch status %s", h.w.dispatch[0].Status)
	}
	if len(h.w.holds) != 1 || len(h.w.events) != 1 || h.w.events[0].EventType != enums.EventOrderCreated {
		t.Fatalf("expected escrow hold and order_created event, got holds=%d events=%+v", len(h.w.holds), h.w.events)
	}

	stored := h.w.carts[h.buyer]
	if len(stored.Lines) != 1 || stored.Lines[0].ProductID != kept.ProductID {
		t.Fatalf("expected only the unselected line to remain, got %+v", stored.Lines)
	}
	if stored.Version != 4 || stored.AppliedSeq != 7 {
		t.Fatalf("unexpected cart version %d seq %d", stored.Version, stored.AppliedSeq)
	}
	if h.carts.ensured != 1 || len(h.carts.invalidated) != 1 {
		t.Fatalf("expected sync before and invalidate after, got ensured=%d invalidated=%d", h.carts.ensured, len(h.carts.invalidated))
	}
}

func TestSubmitAllSelectedEmptiesCart(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true))

	if _, err := h.svc.Submit(context.Background(), h.buyer, validInput()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if lines := h.w.carts[h.buyer].Lines; len(lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", lines)
	}
}

func TestSubmitRejectsBlankAddressBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true))
	input := validInput()
	input.Address = "   "

	_, err := h.svc.Submit(context.Background(), h.buyer, input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation || typed.Message() != "address required" {
		t.Fatalf("expected address required, got %v", err)
	}
	if h.carts.ensured != 0 || len(h.w.orders) != 0 || len(h.w.notifications) != 0 {
		t.Fatal("no work may happen before address validation")
	}
}

func TestSubmitRollsBackEverythingOnFailure(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true), cartLine(h.sellerB, "lamp", "100", 1, true))
	h.w.failHold = true

	_, err := h.svc.Submit(context.Background(), h.buyer, validInput())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(h.w.orders) != 0 || len(h.w.notifications) != 0 || len(h.w.dispatch) != 0 || len(h.w.sales) != 0 || len(h.w.events) != 0 {
		t.Fatal("failed checkout must leave no records")
	}
	if stored := h.w.carts[h.buyer]; len(stored.Lines) != 2 || stored.Version != 3 {
		t.Fatalf("cart must be untouched, got %+v", stored)
	}
	if len(h.carts.invalidated) != 0 {
		t.Fatal("cache must not be invalidated on failure")
	}
}

func TestSubmitRejectsUnsyncedCart(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true))
	h.carts.ensureErr = pkgerrors.New(pkgerrors.CodeConflict, "cart has unsynced changes")

	if _, err := h.svc.Submit(context.Background(), h.buyer, validInput()); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(h.w.orders) != 0 {
		t.Fatal("no order may be written for an unsynced cart")
	}
}

func TestSubmitRejectsEmptySelection(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, false))

	if _, err := h.svc.Submit(context.Background(), h.buyer, validInput()); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	other := newHarness(t)
	if _, err := other.svc.Submit(context.Background(), other.buyer, validInput()); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing cart, got %v", err)
	}
}

func TestSubmitRejectsSubCentPriceBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "pen", "10.005", 3, true))

	if _, err := h.svc.Submit(context.Background(), h.buyer, validInput()); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.w.orders) != 0 || len(h.w.events) != 0 {
		t.Fatal("no order may be written for an unstorable price")
	}
}

func TestSubmitCartConflictDuringSaveRollsBack(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true))
	h.cartRepo.bumpFirst = true

	if _, err := h.svc.Submit(context.Background(), h.buyer, validInput()); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(h.w.orders) != 0 {
		t.Fatal("order must roll back on cart conflict")
	}
}

func TestSubmitBuyNowLeavesCartUntouched(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true))
	item := cartLine(h.sellerB, "calculator", "4200", 1, false)
	input := validInput()
	input.Source = enums.OrderSourceBuyNow
	input.BuyNow = &item

	detail, err := h.svc.Submit(context.Background(), h.buyer, input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if detail.Source != enums.OrderSourceBuyNow || len(detail.Items) != 1 || detail.Items[0].SellerID != h.sellerB {
		t.Fatalf("unexpected buy now detail %+v", detail)
	}
	if h.carts.ensured != 0 || len(h.carts.invalidated) != 0 {
		t.Fatal("buy now must not touch the cart")
	}
	if stored := h.w.carts[h.buyer]; len(stored.Lines) != 1 || stored.Version != 3 {
		t.Fatalf("cart must be untouched, got %+v", stored)
	}

	input.BuyNow = nil
	if _, err := h.svc.Submit(context.Background(), h.buyer, input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error without item, got %v", err)
	}
	bad := cartLine(h.sellerB, "calculator", "4200", 0, false)
	input.BuyNow = &bad
	if _, err := h.svc.Submit(context.Background(), h.buyer, input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
}

func TestSubmitUsesCodeSource(t *testing.T) {
	h := newHarness(t)
	h.seedCart(cartLine(h.sellerA, "chair", "7500", 1, true))
	h.svc.(*service).deps.CodeSource = bytes.NewReader(make([]byte, 16))

	detail, err := h.svc.Submit(context.Background(), h.buyer, validInput())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if detail.ConfirmationCode != "100000" {
		t.Fatalf("expected lowest code, got %s", detail.ConfirmationCode)
	}
}

func TestSubmitRejectsUnknownPaymentMethod(t *testing.T) {
	h := newHarness(t)
	input := validInput()
	input.PaymentMethod = "cash"
	if _, err := h.svc.Submit(context.Background(), h.buyer, input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewServiceRejectsBadTaxRate(t *testing.T) {
	w := newWorld()
	_, err := NewService(Deps{
		Tx:            fakeTx{w: w},
		Carts:         &stubCarts{},
		CartRepo:      &stubCartRepo{w: w},
		Orders:        &stubOrders{w: w},
		Notifications: &stubNotifications{w: w},
		Records:       &stubRecords{w: w},
		Escrow:        &stubEscrow{w: w},
		Outbox:        &stubOutbox{w: w},
		Logger:        logger.Nop(),
	}, config.CheckoutConfig{TaxRate: "twelve"})
	if err == nil {
		t.Fatal("expected error for unparsable tax rate")
	}
}
