package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-companion-backend/internal/domain"
)

func newSessionRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("session_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateSession_Error_NoTable(t *testing.T) {
	db := newSessionRepoDB(t /* no migrations */)
	s, err := CreateSession(context.Background(), db, "u1", domain.SessionContext{})
	if err == nil || s != nil {
		t.Fatalf("expected error creating without table, got session=%v err=%v", s, err)
	}
}

func TestCreateSession_Success_PersistsSnapshot(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})

	snap := domain.SessionContext{
		CycleDay:    15,
		Stage:       "ovulation",
		Symptoms:    []string{"cramps"},
		Medications: []string{"Gonal-F"},
	}
	s, err := CreateSession(context.Background(), db, "u1", snap)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID == "" || s.UserID != "u1" {
		t.Fatalf("unexpected session fields: %+v", s)
	}
	if s.DistressDetected || s.EscalationSent {
		t.Fatalf("new session must start with flags cleared: %+v", s)
	}
	// round-trip: the JSON-serialized snapshot survives intact
	var got domain.ChatSession
	if err := db.First(&got, "id = ?", s.ID).Error; err != nil {
		t.Fatalf("load created session: %v", err)
	}
	if got.Context.CycleDay != 15 || got.Context.Stage != "ovulation" {
		t.Fatalf("snapshot round-trip mismatch: %+v", got.Context)
	}
	if len(got.Context.Medications) != 1 || got.Context.Medications[0] != "Gonal-F" {
		t.Fatalf("medications round-trip mismatch: %+v", got.Context.Medications)
	}
}

func TestGetSession_ScopedToOwner(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})
	ctx := context.Background()

	s, err := CreateSession(ctx, db, "u1", domain.SessionContext{CycleDay: 1})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if got, err := GetSession(ctx, db, s.ID, "u1"); err != nil || got.ID != s.ID {
		t.Fatalf("GetSession owner: got=%v err=%v", got, err)
	}
	// Someone else's ID looks exactly like a missing row.
	if _, err := GetSession(ctx, db, s.ID, "u2"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound for foreign owner, got %v", err)
	}
	if _, err := GetSession(ctx, db, "nope", "u1"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound for missing id, got %v", err)
	}
}

func TestListSessionsPage_OrderAndCount(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})
	ctx := context.Background()

	t1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s := domain.ChatSession{
			ID:        fmt.Sprintf("s%d", i),
			UserID:    "u1",
			CreatedAt: t1.Add(time.Duration(i) * time.Hour),
		}
		if err := db.Create(&s).Error; err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}
	// foreign user's row must not leak in
	if err := db.Create(&domain.ChatSession{ID: "sx", UserID: "u2", CreatedAt: t1}).Error; err != nil {
		t.Fatalf("seed sx: %v", err)
	}

	total, err := CountSessions(ctx, db, "u1")
	if err != nil || total != 5 {
		t.Fatalf("CountSessions = %d, %v", total, err)
	}

	page, err := ListSessionsPage(ctx, db, "u1", 1, 2)
	if err != nil {
		t.Fatalf("ListSessionsPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 sessions on page, got %d", len(page))
	}
	// Descending by CreatedAt: offset 1 skips s4, so the page is s3, s2.
	if page[0].ID != "s3" || page[1].ID != "s2" {
		t.Fatalf("unexpected page order: %s, %s", page[0].ID, page[1].ID)
	}
}

func TestDeleteSession_SoftDeleteAndOwnership(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})
	ctx := context.Background()

	s, err := CreateSession(ctx, db, "u1", domain.SessionContext{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := DeleteSession(ctx, db, s.ID, "u2"); err != gorm.ErrRecordNotFound {
		t.Fatalf("foreign delete expected ErrRecordNotFound, got %v", err)
	}
	if err := DeleteSession(ctx, db, s.ID, "u1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	// gone from normal queries…
	if _, err := GetSession(ctx, db, s.ID, "u1"); err != gorm.ErrRecordNotFound {
		t.Fatalf("deleted session still visible: %v", err)
	}
	// …but the row survives (soft delete)
	var raw domain.ChatSession
	if err := db.Unscoped().First(&raw, "id = ?", s.ID).Error; err != nil {
		t.Fatalf("soft-deleted row missing entirely: %v", err)
	}
	if !raw.DeletedAt.Valid {
		t.Fatalf("expected DeletedAt to be set")
	}
	// double delete
	if err := DeleteSession(ctx, db, s.ID, "u1"); err != gorm.ErrRecordNotFound {
		t.Fatalf("second delete expected ErrRecordNotFound, got %v", err)
	}
}

func TestMarkDistressDetected_Idempotent(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})
	ctx := context.Background()

	s, err := CreateSession(ctx, db, "u1", domain.SessionContext{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := MarkDistressDetected(ctx, db, s.ID); err != nil {
			t.Fatalf("MarkDistressDetected #%d: %v", i+1, err)
		}
	}
	got, err := GetSession(ctx, db, s.ID, "u1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.DistressDetected {
		t.Fatalf("expected DistressDetected=true")
	}
}

func TestMarkEscalated_FirstCallWins(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})
	ctx := context.Background()

	s, err := CreateSession(ctx, db, "u1", domain.SessionContext{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	won, err := MarkEscalated(ctx, db, s.ID)
	if err != nil || !won {
		t.Fatalf("first MarkEscalated: won=%v err=%v", won, err)
	}
	won, err = MarkEscalated(ctx, db, s.ID)
	if err != nil || won {
		t.Fatalf("second MarkEscalated should lose: won=%v err=%v", won, err)
	}
	// unknown session is a silent loss, not an error
	won, err = MarkEscalated(ctx, db, "nope")
	if err != nil || won {
		t.Fatalf("missing session should lose: won=%v err=%v", won, err)
	}
}

func TestMarkEscalated_ConcurrentSingleWinner(t *testing.T) {
	db := newSessionRepoDB(t, &domain.ChatSession{})
	ctx := context.Background()

	s, err := CreateSession(ctx, db, "u1", domain.SessionContext{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := MarkEscalated(ctx, db, s.ID)
			if err != nil {
				t.Errorf("MarkEscalated: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}
