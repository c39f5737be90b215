package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	orderssvc "github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

type stubOrders struct {
	orderssvc.Service
	listParams pagination.Params
	advance    orderssvc.AdvanceStatusInput
	viewer     orderssvc.Viewer
	updates    chan orderssvc.StatusUpdate
	detail     *orderssvc.OrderDetail
	err        error
}

func (s *stubOrders) List(_ context.Context, _ uuid.UUID, params pagination.Params) (*orderssvc.OrderList, error) {
	s.listParams = params
	return &orderssvc.OrderList{}, s.err
}

func (s *stubOrders) Get(_ context.Context, _ uuid.UUID, viewer orderssvc.Viewer) (*orderssvc.OrderDetail, error) {
	s.viewer = viewer
	return s.detail, s.err
}

func (s *stubOrders) AdvanceStatus(_ context.Context, input orderssvc.AdvanceStatusInput) (*orderssvc.OrderDetail, error) {
	s.advance = input
	return s.detail, s.err
}

func (s *stubOrders) ConfirmReceipt(context.Context, uuid.UUID, uuid.UUID) (*orderssvc.OrderDetail, error) {
	return s.detail, s.err
}

func (s *stubOrders) Track(_ context.Context, _ uuid.UUID, viewer orderssvc.Viewer) (<-chan orderssvc.StatusUpdate, error) {
	s.viewer = viewer
	if s.err != nil {
		return nil, s.err
	}
	return s.updates, nil
}

func TestOrdersListPassesPagination(t *testing.T) {
	svc := &stubOrders{}
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=5&cursor=abc", nil), uuid.New(), enums.RoleUser)
	resp := httptest.NewRecorder()
	OrdersList(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.listParams.Limit != 5 || svc.listParams.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.listParams)
	}
}

func TestOrdersListRejectsOversizedLimit(t *testing.T) {
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=1000", nil), uuid.New(), enums.RoleUser)
	resp := httptest.NewRecorder()
	OrdersList(&stubOrders{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestOrdersGetForbidden(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to this user")}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req = withURLParam(withUser(req, uuid.New(), enums.RoleUser), "orderID", orderID.String())
	resp := httptest.NewRecorder()
	OrdersGet(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestDispatchAdvanceStatus(t *testing.T) {
	orderID := uuid.New()
	actor := uuid.New()
	svc := &stubOrders{detail: &orderssvc.OrderDetail{ID: orderID, Status: enums.OrderStatusDelivered}}

	body := `{"status":"delivered","confirmation_code":"4821"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/orders/"+orderID.String()+"/status", strings.NewReader(body))
	req = withURLParam(withUser(req, actor, enums.RoleDispatch), "orderID", orderID.String())
	resp := httptest.NewRecorder()
	DispatchAdvanceStatus(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.advance.OrderID != orderID || svc.advance.ActorID != actor || svc.advance.Next != enums.OrderStatusDelivered || svc.advance.ConfirmationCode != "4821" {
		t.Fatalf("unexpected advance input %+v", svc.advance)
	}
}

func TestDispatchAdvanceStatusRejections(t *testing.T) {
	orderID := uuid.New()
	cases := []struct {
		name   string
		role   enums.Role
		body   string
		err    error
		status int
	}{
		{name: "buyer role", role: enums.RoleUser, body: `{"status":"in_transit"}`, status: http.StatusForbidden},
		{name: "unknown status", role: enums.RoleDispatch, body: `{"status":"lost"}`, status: http.StatusBadRequest},
		{name: "illegal transition", role: enums.RoleDispatch, body: `{"status":"pending"}`, err: pkgerrors.New(pkgerrors.CodeStateConflict, "cannot move backwards"), status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			req = withURLParam(withUser(req, uuid.New(), tc.role), "orderID", orderID.String())
			resp := httptest.NewRecorder()
			DispatchAdvanceStatus(&stubOrders{err: tc.err}, nil).ServeHTTP(resp, req)
			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.Code)
			}
		})
	}
}

func newTrackingServer(t *testing.T, svc *stubOrders, userID uuid.UUID) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, withUser(req, userID, enums.RoleUser))
		})
	})
	r.Get("/orders/{orderID}/track", OrdersTrack(svc, config.TrackingConfig{PingInterval: time.Second, WriteTimeout: time.Second}, nil, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestOrdersTrackStreamsUpdates(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrders{updates: make(chan orderssvc.StatusUpdate, 2)}
	svc.updates <- orderssvc.StatusUpdate{OrderID: orderID, Status: enums.OrderStatusPending, Index: 0}
	svc.updates <- orderssvc.StatusUpdate{OrderID: orderID, Status: enums.OrderStatusRiderAssigned, Index: 1}
	close(svc.updates)

	srv := newTrackingServer(t, svc, uuid.New())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/orders/" + orderID.String() + "/track"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for want := 0; want < 2; want++ {
		var update orderssvc.StatusUpdate
		if err := conn.ReadJSON(&update); err != nil {
			t.Fatalf("read update %d: %v", want, err)
		}
		if update.Index != want || update.OrderID != orderID {
			t.Fatalf("unexpected update %+v", update)
		}
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestOrdersTrackRejectsBeforeUpgrade(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeForbidden, "order is not visible to this user")}
	srv := newTrackingServer(t, svc, uuid.New())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/orders/" + uuid.NewString() + "/track"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 response, got %+v", resp)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://campusmart.app"})
	req := httptest.NewRequest(http.MethodGet, "http://api.campusmart.app/track", nil)

	req.Header.Set("Origin", "https://campusmart.app")
	if !check(req) {
		t.Fatal("configured origin should pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("foreign origin should be rejected")
	}
	if !originChecker([]string{"*"})(req) {
		t.Fatal("wildcard should allow all")
	}
}
