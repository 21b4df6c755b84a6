// Package services – PartnerService
//
// This file implements PartnerService: partner linking, the sharing opt-in,
// and the privacy-gated partner summary. Linking is symmetric and performed
// in a single transaction so the two users can never disagree about being
// linked. The summary gate checks the opt-in of the person whose data is
// viewed, not the viewer's; the distress escalation path deliberately does
// not go through this gate (see EscalationGate).
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
	"github.com/tbourn/go-companion-backend/internal/realtime"
	"github.com/tbourn/go-companion-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PartnerSummary is the privacy-gated view a linked partner gets of the
// other user's current treatment context.
type PartnerSummary struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	CycleDay    int      `json:"cycle_day"`
	Stage       string   `json:"stage"`
	Medications []string `json:"medications"`
}

// PartnerService manages the partner link and what flows across it.
type PartnerService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Notifications records the link/unlink notifications for the partner.
	Notifications *NotificationService
	// Publisher fans link events out to live connections. May be nil.
	Publisher EventPublisher
}

// NewPartnerService constructs a PartnerService.
func NewPartnerService(db *gorm.DB, ns *NotificationService, pub EventPublisher) *PartnerService {
	return &PartnerService{DB: db, Notifications: ns, Publisher: pub}
}

// Link connects userID and partnerID symmetrically. Both users must exist
// and be unlinked; a user cannot link to themselves. The partner receives a
// partner_link notification and, if connected, a live event.
func (s *PartnerService) Link(ctx context.Context, userID, partnerID string) error {
	tr := otel.Tracer("services/PartnerService")
	ctx, span := tr.Start(ctx, "Link",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("partner.id", partnerID),
		),
	)
	defer span.End()

	if userID == partnerID {
		return ErrSelfLink
	}

	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	partner, err := repo.GetUser(ctx, s.DB, partnerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.PartnerID != nil || partner.PartnerID != nil {
		return ErrAlreadyLinked
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetPartner(ctx, tx, userID, &partnerID); err != nil {
			return err
		}
		return repo.SetPartner(ctx, tx, partnerID, &userID)
	})
	if err != nil {
		return err
	}

	name := user.DisplayName
	if name == "" {
		name = "Your partner"
	}
	n := &domain.Notification{
		UserID:   partnerID,
		SenderID: &userID,
		Type:     domain.NotificationPartnerLink,
		Title:    "You are now linked",
		Message:  name + " linked with you as a partner.",
		Priority: domain.PriorityNormal,
	}
	if err := s.Notifications.Create(ctx, n); err != nil {
		return err
	}
	if s.Publisher != nil {
		s.Publisher.Publish(partnerID, realtime.EventNotification, n)
	}
	return nil
}

// Unlink severs the link from both sides in one transaction. The former
// partner receives a partner_unlink notification.
func (s *PartnerService) Unlink(ctx context.Context, userID string) error {
	tr := otel.Tracer("services/PartnerService")
	ctx, span := tr.Start(ctx, "Unlink",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.PartnerID == nil || *user.PartnerID == "" {
		return ErrNotLinked
	}
	partnerID := *user.PartnerID

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetPartner(ctx, tx, userID, nil); err != nil {
			return err
		}
		return repo.SetPartner(ctx, tx, partnerID, nil)
	})
	if err != nil {
		return err
	}

	n := &domain.Notification{
		UserID:   partnerID,
		SenderID: &userID,
		Type:     domain.NotificationPartnerUnlink,
		Title:    "Partner link removed",
		Message:  "Your partner link has been removed.",
		Priority: domain.PriorityNormal,
	}
	if err := s.Notifications.Create(ctx, n); err != nil {
		return err
	}
	if s.Publisher != nil {
		s.Publisher.Publish(partnerID, realtime.EventNotification, n)
	}
	return nil
}

// SetSharing flips the viewer-facing opt-in on the caller's own record.
func (s *PartnerService) SetSharing(ctx context.Context, userID string, enabled bool) error {
	err := repo.SetShareWithPartner(ctx, s.DB, userID, enabled)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

// Summary returns the linked partner's current treatment context, gated on
// that partner's sharing opt-in. The viewer must be linked, and the person
// being viewed must have sharing enabled.
func (s *PartnerService) Summary(ctx context.Context, viewerID string) (*PartnerSummary, error) {
	tr := otel.Tracer("services/PartnerService")
	ctx, span := tr.Start(ctx, "Summary",
		trace.WithAttributes(attribute.String("user.id", viewerID)),
	)
	defer span.End()

	viewer, err := repo.GetUser(ctx, s.DB, viewerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if viewer.PartnerID == nil || *viewer.PartnerID == "" {
		return nil, ErrNotLinked
	}

	subject, err := repo.GetUser(ctx, s.DB, *viewer.PartnerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotLinked
		}
		return nil, err
	}
	if !subject.ShareWithPartner {
		return nil, ErrSharingDisabled
	}

	out := &PartnerSummary{
		UserID:      subject.ID,
		DisplayName: subject.DisplayName,
		CycleDay:    1,
		Medications: []string{},
	}
	entry, err := repo.LatestCycleEntry(ctx, s.DB, subject.ID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		out.CycleDay = cycleDay(entry.StartDate, nowFunc())
		out.Stage = stageForCycleDay(out.CycleDay)
	}
	meds, err := repo.ActiveMedicationNames(ctx, s.DB, subject.ID)
	if err != nil {
		return nil, err
	}
	if meds != nil {
		out.Medications = meds
	}
	return out, nil
}
