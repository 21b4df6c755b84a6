package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-companion-backend/internal/domain"
	"github.com/tbourn/go-companion-backend/internal/services"
)

func TestListNotifications_UnreadFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	unreadCalled := false
	svc := stubNotifSvc{
		listUnread: func(_ context.Context, u string) ([]domain.Notification, error) {
			unreadCalled = true
			return []domain.Notification{{ID: "n1", UserID: u}}, nil
		},
		listPage: func(_ context.Context, _ string, _, _ int) ([]domain.Notification, int64, error) {
			t.Fatalf("paginated path must not run with ?unread=true")
			return nil, 0, nil
		},
	}
	h := newStubHandlers(nil, svc, nil)
	r := gin.New()
	r.GET("/notifications", h.ListNotifications)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !unreadCalled {
		t.Fatalf("unread listing failed: code=%d called=%v", w.Code, unreadCalled)
	}
	var resp ListNotificationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Notifications) != 1 || resp.Pagination != nil {
		t.Fatalf("unread response must be unpaginated: %+v", resp)
	}
}

func TestListNotifications_PaginatedDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := stubNotifSvc{
		listPage: func(_ context.Context, _ string, p, ps int) ([]domain.Notification, int64, error) {
			if p != 1 || ps != 20 {
				t.Fatalf("default pagination not applied: %d %d", p, ps)
			}
			return []domain.Notification{{ID: "n1"}, {ID: "n2"}}, 2, nil
		},
	}
	h := newStubHandlers(nil, svc, nil)
	r := gin.New()
	r.GET("/notifications", h.ListNotifications)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ListNotificationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Pagination == nil || resp.Pagination.Total != 2 || resp.Pagination.HasNext {
		t.Fatalf("pagination mismatch: %+v", resp.Pagination)
	}
}

func TestMarkNotificationRead_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(id string, err error) int {
		h := newStubHandlers(nil, stubNotifSvc{markRead: func(context.Context, string, string) error {
			return err
		}}, nil)
		r := gin.New()
		r.PUT("/notifications/:id/read", h.MarkNotificationRead)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/notifications/"+id+"/read", nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	if got := run("not-a-uuid", nil); got != http.StatusBadRequest {
		t.Fatalf("bad id → %d", got)
	}
	if got := run(uuid.NewString(), services.ErrNotificationNotFound); got != http.StatusNotFound {
		t.Fatalf("missing → %d", got)
	}
	if got := run(uuid.NewString(), nil); got != http.StatusNoContent {
		t.Fatalf("success → %d", got)
	}
	if got := run(uuid.NewString(), errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("internal → %d", got)
	}
}

func TestUpdateNotificationDelivery_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotChannel string
	var gotSent bool
	run := func(id, body string, err error) int {
		h := newStubHandlers(nil, stubNotifSvc{updateDel: func(_ context.Context, _, _, ch string, sent bool) error {
			gotChannel, gotSent = ch, sent
			return err
		}}, nil)
		r := gin.New()
		r.PUT("/notifications/:id/delivery", h.UpdateNotificationDelivery)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/notifications/"+id+"/delivery", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w.Code
	}

	id := uuid.NewString()

	if got := run("bogus", `{"channel":"app","sent":true}`, nil); got != http.StatusBadRequest {
		t.Fatalf("bad id → %d", got)
	}
	if got := run(id, `{"sent":true}`, nil); got != http.StatusBadRequest {
		t.Fatalf("missing channel → %d", got)
	}
	if got := run(id, `{"channel":"email","sent":true}`, nil); got != http.StatusNoContent {
		t.Fatalf("success → %d", got)
	}
	if gotChannel != "email" || !gotSent {
		t.Fatalf("args not forwarded: %q %v", gotChannel, gotSent)
	}
	if got := run(id, `{"channel":"carrier_pigeon","sent":true}`, services.ErrUnknownChannel); got != http.StatusBadRequest {
		t.Fatalf("unknown channel → %d", got)
	}
	if got := run(id, `{"channel":"app","sent":true}`, services.ErrNotificationNotFound); got != http.StatusNotFound {
		t.Fatalf("missing notification → %d", got)
	}
}

// The ETag pre-check requires the concrete service; marking a notification
// read invalidates the previously returned tag.
func TestListNotifications_ETagConditional(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)

	if err := db.Create(&domain.User{ID: "u1"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	notif := services.NewNotificationService(db)
	n := &domain.Notification{
		UserID:   "u1",
		Type:     domain.NotificationSystem,
		Title:    "t",
		Message:  "m",
		Priority: domain.PriorityNormal,
	}
	if err := notif.Create(context.Background(), n); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	h := New(stubSessionSvc{}, notif, stubPartnerSvc{})
	r := gin.New()
	r.GET("/notifications", h.ListNotifications)

	get := func(inm string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
		req.Header.Set("X-User-ID", "u1")
		if inm != "" {
			req.Header.Set("If-None-Match", inm)
		}
		r.ServeHTTP(w, req)
		return w
	}

	first := get("")
	if first.Code != http.StatusOK {
		t.Fatalf("first GET = %d", first.Code)
	}
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected an ETag header")
	}

	if w := get(etag); w.Code != http.StatusNotModified {
		t.Fatalf("matching If-None-Match expected 304, got %d", w.Code)
	}

	if err := notif.MarkRead(context.Background(), "u1", n.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if w := get(etag); w.Code != http.StatusOK {
		t.Fatalf("stale If-None-Match expected 200, got %d", w.Code)
	}
}
