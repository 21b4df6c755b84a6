// Package services – NotificationService
//
// This file implements the NotificationService, the durable side of the
// delivery pipeline. It validates and creates notification records, exposes
// read-state and per-channel delivery updates, and lists unread items most
// recent first. Real-time fan-out is NOT performed here: callers that want a
// live event publish one themselves through the router, so a component is
// never surprised by a second delivery path it did not ask for.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
	"github.com/tbourn/go-companion-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// validPriorities is the closed set accepted by Create.
var validPriorities = map[string]struct{}{
	domain.PriorityLow:    {},
	domain.PriorityNormal: {},
	domain.PriorityHigh:   {},
	domain.PriorityUrgent: {},
}

// NotificationService implements the use-cases around durable notifications.
type NotificationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{DB: db}
}

// Create validates and persists a notification. Defaults: read=false, every
// delivery channel unsent, priority "normal" when blank, type "system" when
// blank. A missing recipient is rejected with ErrMissingRecipient; an
// unrecognized priority with ErrInvalidPriority.
func (s *NotificationService) Create(ctx context.Context, n *domain.Notification) error {
	if strings.TrimSpace(n.UserID) == "" {
		return ErrMissingRecipient
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if _, ok := validPriorities[n.Priority]; !ok {
		return ErrInvalidPriority
	}
	if n.Type == "" {
		n.Type = domain.NotificationSystem
	}
	return repo.CreateNotification(ctx, s.DB, n)
}

// MarkRead marks a notification as read for its recipient. Calling it on an
// already-read notification is a successful no-op (idempotent).
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if err := repo.MarkRead(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

// UpdateDelivery records the delivery state of one channel. Channels are
// monotonic: sent=false can never clear a delivered channel and is treated as
// a successful no-op. Unknown channel names yield ErrUnknownChannel; missing
// notifications yield ErrNotificationNotFound.
func (s *NotificationService) UpdateDelivery(ctx context.Context, userID, id, channel string, sent bool) error {
	if !repo.KnownChannel(channel) {
		return ErrUnknownChannel
	}
	// Validate ownership first so foreign notifications read as missing.
	if _, err := repo.GetNotification(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	if !sent {
		return nil
	}
	if err := repo.MarkDelivered(ctx, s.DB, id, channel); err != nil {
		switch {
		case errors.Is(err, repo.ErrUnknownChannel):
			return ErrUnknownChannel
		case errors.Is(err, gorm.ErrRecordNotFound):
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

// ListUnread returns the user's unread notifications, most recent first.
func (s *NotificationService) ListUnread(ctx context.Context, userID string) ([]domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "ListUnread",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.ListUnread(ctx, s.DB, userID)
}

// ListPage returns a page of the user's notifications (read and unread),
// most recent first, along with the total count.
func (s *NotificationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountNotifications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, nil
	}

	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}
