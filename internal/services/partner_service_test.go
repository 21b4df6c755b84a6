package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
)

func newPartnerService(db *gorm.DB, pub EventPublisher) *PartnerService {
	return NewPartnerService(db, &NotificationService{DB: db}, pub)
}

// ---------- Link() ----------

func TestPartnerService_Link_Symmetric(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	seedUser(t, db, "u1", "Ana", nil)
	seedUser(t, db, "u2", "Ben", nil)

	pub := &capturePublisher{}
	svc := newPartnerService(db, pub)
	if err := svc.Link(context.Background(), "u1", "u2"); err != nil {
		t.Fatalf("link: %v", err)
	}

	var a, b domain.User
	db.First(&a, "id = ?", "u1")
	db.First(&b, "id = ?", "u2")
	if a.PartnerID == nil || *a.PartnerID != "u2" {
		t.Fatalf("u1 partner = %v", a.PartnerID)
	}
	if b.PartnerID == nil || *b.PartnerID != "u1" {
		t.Fatalf("u2 partner = %v", b.PartnerID)
	}

	var notifs []domain.Notification
	db.Where("user_id = ? AND type = ?", "u2", domain.NotificationPartnerLink).Find(&notifs)
	if len(notifs) != 1 {
		t.Fatalf("link notifications = %d, want 1", len(notifs))
	}
	if evs := pub.byType("notification"); len(evs) != 1 || evs[0].UserID != "u2" {
		t.Fatalf("events = %+v, want one to u2", evs)
	}
}

func TestPartnerService_Link_Self(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	seedUser(t, db, "u1", "Ana", nil)
	svc := newPartnerService(db, nil)
	if err := svc.Link(context.Background(), "u1", "u1"); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("expected ErrSelfLink, got %v", err)
	}
}

func TestPartnerService_Link_UnknownUsers(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	seedUser(t, db, "u1", "Ana", nil)
	svc := newPartnerService(db, nil)

	if err := svc.Link(context.Background(), "u1", uuid.NewString()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for missing partner, got %v", err)
	}
	if err := svc.Link(context.Background(), uuid.NewString(), "u1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for missing caller, got %v", err)
	}
}

func TestPartnerService_Link_AlreadyLinked(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	seedUser(t, db, "u1", "Ana", nil)
	seedUser(t, db, "u2", "Ben", nil)
	seedUser(t, db, "u3", "Cem", nil)

	svc := newPartnerService(db, nil)
	if err := svc.Link(context.Background(), "u1", "u2"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := svc.Link(context.Background(), "u1", "u3"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked for linked caller, got %v", err)
	}
	if err := svc.Link(context.Background(), "u3", "u2"); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked for linked target, got %v", err)
	}
}

// ---------- Unlink() ----------

func TestPartnerService_Unlink(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	seedUser(t, db, "u1", "Ana", nil)
	seedUser(t, db, "u2", "Ben", nil)

	svc := newPartnerService(db, nil)
	if err := svc.Unlink(context.Background(), "u1"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked before linking, got %v", err)
	}

	if err := svc.Link(context.Background(), "u1", "u2"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := svc.Unlink(context.Background(), "u1"); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	var a, b domain.User
	db.First(&a, "id = ?", "u1")
	db.First(&b, "id = ?", "u2")
	if a.PartnerID != nil || b.PartnerID != nil {
		t.Fatalf("links remain: %v / %v", a.PartnerID, b.PartnerID)
	}

	var count int64
	db.Model(&domain.Notification{}).
		Where("user_id = ? AND type = ?", "u2", domain.NotificationPartnerUnlink).
		Count(&count)
	if count != 1 {
		t.Fatalf("unlink notifications = %d, want 1", count)
	}
}

// ---------- Summary() ----------

func TestPartnerService_Summary_GatedOnSubjectOptIn(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	seedUser(t, db, "u1", "Ana", nil)
	seedUser(t, db, "u2", "Ben", nil)

	svc := newPartnerService(db, nil)
	if _, err := svc.Summary(context.Background(), "u2"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked, got %v", err)
	}

	if err := svc.Link(context.Background(), "u1", "u2"); err != nil {
		t.Fatalf("link: %v", err)
	}
	// Ana has not opted in yet.
	if _, err := svc.Summary(context.Background(), "u2"); !errors.Is(err, ErrSharingDisabled) {
		t.Fatalf("expected ErrSharingDisabled, got %v", err)
	}

	if err := svc.SetSharing(context.Background(), "u1", true); err != nil {
		t.Fatalf("set sharing: %v", err)
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Create(&domain.CycleEntry{ID: uuid.NewString(), UserID: "u1", StartDate: start}).Error; err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	if err := db.Create(&domain.Medication{ID: uuid.NewString(), UserID: "u1", Name: "Gonal-F", Active: true}).Error; err != nil {
		t.Fatalf("seed med: %v", err)
	}

	orig := nowFunc
	nowFunc = func() time.Time { return start.AddDate(0, 0, 7) } // day 8
	defer func() { nowFunc = orig }()

	sum, err := svc.Summary(context.Background(), "u2")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.UserID != "u1" || sum.CycleDay != 8 || sum.Stage != "follicular" {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.Medications) != 1 || sum.Medications[0] != "Gonal-F" {
		t.Fatalf("medications = %v", sum.Medications)
	}

	// The gate checks the subject's opt-in, not the viewer's.
	if err := svc.SetSharing(context.Background(), "u2", false); err != nil {
		t.Fatalf("set sharing: %v", err)
	}
	if _, err := svc.Summary(context.Background(), "u2"); err != nil {
		t.Fatalf("viewer opt-out must not block viewing: %v", err)
	}
	if err := svc.SetSharing(context.Background(), "u1", false); err != nil {
		t.Fatalf("set sharing: %v", err)
	}
	if _, err := svc.Summary(context.Background(), "u2"); !errors.Is(err, ErrSharingDisabled) {
		t.Fatalf("expected ErrSharingDisabled after subject opt-out, got %v", err)
	}
}

func TestPartnerService_SetSharing_UnknownUser(t *testing.T) {
	db := newSvcDB(t, allModels()...)
	svc := newPartnerService(db, nil)
	if err := svc.SetSharing(context.Background(), uuid.NewString(), true); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
