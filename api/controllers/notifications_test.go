package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	notificationsvc "github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
)

type stubNotifications struct {
	params   notificationsvc.ListParams
	markedID uuid.UUID
	err      error
}

func (s *stubNotifications) List(_ context.Context, params notificationsvc.ListParams) (*notificationsvc.ListResult, error) {
	s.params = params
	return &notificationsvc.ListResult{}, s.err
}

func (s *stubNotifications) MarkRead(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	s.markedID = id
	return s.err
}

func (s *stubNotifications) MarkAllRead(context.Context, uuid.UUID) (int64, error) {
	return 4, s.err
}

func TestNotificationsListParsesFilters(t *testing.T) {
	userID := uuid.New()
	svc := &stubNotifications{}
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=true&limit=10", nil), userID, enums.RoleUser)
	resp := httptest.NewRecorder()
	NotificationsList(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.params.RecipientID != userID || !svc.params.UnreadOnly || svc.params.Limit != 10 {
		t.Fatalf("unexpected params %+v", svc.params)
	}
}

func TestNotificationsListRejectsBadBool(t *testing.T) {
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=maybe", nil), uuid.New(), enums.RoleUser)
	resp := httptest.NewRecorder()
	NotificationsList(&stubNotifications{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestNotificationsMarkRead(t *testing.T) {
	id := uuid.New()
	svc := &stubNotifications{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+id.String()+"/read", nil)
	req = withURLParam(withUser(req, uuid.New(), enums.RoleUser), "notificationID", id.String())
	resp := httptest.NewRecorder()
	NotificationsMarkRead(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || svc.markedID != id {
		t.Fatalf("unexpected result %d %s", resp.Code, svc.markedID)
	}
}

func TestNotificationsMarkReadNotFound(t *testing.T) {
	id := uuid.New()
	svc := &stubNotifications{err: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = withURLParam(withUser(req, uuid.New(), enums.RoleUser), "notificationID", id.String())
	resp := httptest.NewRecorder()
	NotificationsMarkRead(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestNotificationsMarkAllRead(t *testing.T) {
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil), uuid.New(), enums.RoleUser)
	resp := httptest.NewRecorder()
	NotificationsMarkAllRead(&stubNotifications{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"updated":4`) {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}
}
