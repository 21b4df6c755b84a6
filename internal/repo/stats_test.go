package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-companion-backend/internal/domain"
)

func newStatsRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("stats_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(&domain.ChatSession{}, &domain.Notification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSessionsStats_EmptyAndPopulated(t *testing.T) {
	db := newStatsRepoDB(t)
	ctx := context.Background()

	count, maxAt, err := SessionsStats(ctx, db, "u1")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("empty stats: count=%d maxAt=%v err=%v", count, maxAt, err)
	}

	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	for i, ts := range []time.Time{t1, t2} {
		s := domain.ChatSession{ID: fmt.Sprintf("s%d", i), UserID: "u1", CreatedAt: ts, UpdatedAt: ts}
		if err := db.Create(&s).Error; err != nil {
			t.Fatalf("seed s%d: %v", i, err)
		}
	}

	count, maxAt, err = SessionsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("SessionsStats: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("stats mismatch: count=%d maxAt=%v", count, maxAt)
	}
}

func TestNotificationsStats_UnreadCountAndMaxUpdated(t *testing.T) {
	db := newStatsRepoDB(t)
	ctx := context.Background()

	unread, maxAt, err := NotificationsStats(ctx, db, "u1")
	if err != nil || unread != 0 || maxAt != nil {
		t.Fatalf("empty stats: unread=%d maxAt=%v err=%v", unread, maxAt, err)
	}

	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	rows := []domain.Notification{
		{ID: "n0", UserID: "u1", Type: domain.NotificationSystem, Title: "t", Message: "m", Priority: domain.PriorityNormal, Read: true, CreatedAt: t1, UpdatedAt: t2},
		{ID: "n1", UserID: "u1", Type: domain.NotificationSystem, Title: "t", Message: "m", Priority: domain.PriorityNormal, CreatedAt: t1, UpdatedAt: t1},
	}
	for _, n := range rows {
		if err := db.Create(&n).Error; err != nil {
			t.Fatalf("seed %s: %v", n.ID, err)
		}
	}

	unread, maxAt, err = NotificationsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("NotificationsStats: %v", err)
	}
	// n0 is read, so unread counts only n1; maxAt still spans all rows.
	if unread != 1 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("stats mismatch: unread=%d maxAt=%v", unread, maxAt)
	}
}
