// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Notification model and its per-channel delivery record.
//
// Delivery monotonicity is enforced here: MarkDelivered only ever moves a
// channel from unsent to sent (the UPDATE is guarded on the current value),
// and requests to "unsend" are rejected before reaching the database.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
)

// ErrUnknownChannel is returned when a delivery update names a channel other
// than app, email, push, or sms.
var ErrUnknownChannel = errors.New("unknown delivery channel")

// deliveryColumns maps a channel name to its (sent, sent_at) column pair.
var deliveryColumns = map[string][2]string{
	domain.ChannelApp:   {"app_sent", "app_sent_at"},
	domain.ChannelEmail: {"email_sent", "email_sent_at"},
	domain.ChannelPush:  {"push_sent", "push_sent_at"},
	domain.ChannelSMS:   {"sms_sent", "sms_sent_at"},
}

// KnownChannel reports whether name is a recognized delivery channel.
func KnownChannel(name string) bool {
	_, ok := deliveryColumns[name]
	return ok
}

// CreateNotification inserts a notification row. The ID is generated when
// absent; Read and all delivery channels default to unsent regardless of what
// the caller put in the struct.
func CreateNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Read = false
	n.Delivery = domain.DeliveryStatus{}
	return db.WithContext(ctx).Create(n).Error
}

// GetNotification fetches a notification by ID scoped to its recipient.
func GetNotification(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Notification, error) {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkRead sets the read flag for a notification owned by userID. Marking an
// already-read notification is a successful no-op; a missing or foreign
// notification yields ErrNotFound.
func MarkRead(ctx context.Context, db *gorm.DB, id, userID string) error {
	n, err := GetNotification(ctx, db, id, userID)
	if err != nil {
		return err
	}
	if n.Read {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("read", true).Error
}

// MarkDelivered records that a notification went out through the named
// channel. The UPDATE is guarded on the channel still being unsent, so the
// first delivery wins and SentAt is never overwritten; repeating the call is
// a no-op. Unknown channels yield ErrUnknownChannel; missing notifications
// yield ErrNotFound.
func MarkDelivered(ctx context.Context, db *gorm.DB, id, channel string) error {
	cols, ok := deliveryColumns[channel]
	if !ok {
		return ErrUnknownChannel
	}

	var count int64
	if err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}

	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Where(cols[0]+" = ?", false).
		Updates(map[string]any{
			cols[0]: true,
			cols[1]: time.Now().UTC(),
		}).Error
}

// ListUnread returns a user's unread notifications, most recent first.
func ListUnread(ctx context.Context, db *gorm.DB, userID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("user_id = ? AND read = ?", userID, false).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountNotifications returns the total number of notifications for a user.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListNotificationsPage returns a page of a user's notifications (read and
// unread), most recent first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
