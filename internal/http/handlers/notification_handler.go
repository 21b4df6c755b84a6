// Notification HTTP handlers.
//
// This file exposes REST endpoints for the notification store:
//   - GET /notifications                (list, ?unread=true for unread only, ETag support)
//   - PUT /notifications/{id}/read      (mark read, idempotent)
//   - PUT /notifications/{id}/delivery  (record per-channel delivery, monotonic)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
	"github.com/tbourn/go-companion-backend/internal/repo"
	"github.com/tbourn/go-companion-backend/internal/services"
)

//
// DTOs
//

// UpdateDeliveryRequest is the JSON payload for recording a channel delivery.
//
// Sent=false is accepted and ignored: channel delivery is monotonic and a
// delivered channel can never be cleared.
type UpdateDeliveryRequest struct {
	// Channel is one of app, email, push, sms.
	Channel string `json:"channel" binding:"required" example:"email"`
	// Sent records whether the channel delivery happened.
	Sent bool `json:"sent" example:"true"`
}

// ListNotificationsResponse wraps a page of notifications and pagination
// information. Pagination is omitted for unread-only queries, which are
// always returned whole.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    *Pagination           `json:"pagination,omitempty"`
}

// notifDB exposes the concrete service's DB handle for best-effort ETags.
func (h *Handlers) notifDB() *gorm.DB {
	if ns, ok := h.notifSvc.(*services.NotificationService); ok {
		return ns.DB
	}
	return nil
}

//
// Handlers
//

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications
// @Description Returns the user's notifications, newest first. With ?unread=true
// @Description only unread items are returned (unpaginated); otherwise the result
// @Description is paginated. Supports weak ETag via If-None-Match.
// @Tags        Notifications
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"      example(user123)
// @Param       unread         query   bool    false "Only unread notifications"  default(false)
// @Param       page           query   int     false "Page number"                minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"             minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.ListNotificationsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	if db := h.notifDB(); db != nil {
		unreadCount, maxTS, err := repo.NotificationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"notifications:%s:%d:%d"`, uid, unreadCount, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	if c.Query("unread") == "true" {
		items, err := h.notifSvc.ListUnread(ctx, uid)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
			return
		}
		ok(c, http.StatusOK, ListNotificationsResponse{Notifications: items})
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.notifSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification as read
// @Description Marks one of the user's notifications read. Repeating the call
// @Description on an already-read notification succeeds without effect.
// @Tags        Notifications
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Notification ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Router      /notifications/{id}/read [put]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	if err := h.notifSvc.MarkRead(c.Request.Context(), userID(c), id); err != nil {
		switch {
		case errors.Is(err, services.ErrNotificationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// UpdateNotificationDelivery godoc
// @ID          updateNotificationDelivery
// @Summary     Record a channel delivery
// @Description Records that a notification went out through one channel.
// @Description Delivery is monotonic per channel: sent=false never clears a
// @Description delivered channel, and repeated sent=true keeps the original
// @Description timestamp.
// @Tags        Notifications
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"   example(user123)
// @Param       id         path    string  true  "Notification ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateDeliveryRequest  true  "Channel delivery state"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request or unknown channel"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Router      /notifications/{id}/delivery [put]
func (h *Handlers) UpdateNotificationDelivery(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	var req UpdateDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel required")
		return
	}

	err := h.notifSvc.UpdateDelivery(c.Request.Context(), userID(c), id, req.Channel, req.Sent)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotificationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
		case errors.Is(err, services.ErrUnknownChannel):
			fail(c, http.StatusBadRequest, ErrCodeUnknownChannel, "unknown delivery channel: "+req.Channel)
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}
