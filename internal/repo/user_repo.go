// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model
// and the mutual partner-link relation.
//
// Partner-link invariant: the relation is always mutually consistent or
// absent on both sides. SetPartner writes a single row; callers that link or
// unlink two users must wrap both writes in one transaction (see
// services.PartnerService), so a crash can never leave a one-directional
// link behind.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateUser inserts a new User row. The ID is a randomly generated UUID
// unless the caller supplies one (tests seed fixed IDs).
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(u).Error
}

// GetUser fetches a user by ID, or ErrNotFound if missing.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetPartner updates a single user's partner pointer. Pass nil to clear it.
// Returns ErrNotFound when the user row does not exist.
func SetPartner(ctx context.Context, db *gorm.DB, userID string, partnerID *string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("partner_id", partnerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetShareWithPartner toggles the routine data-sharing opt-in for a user.
func SetShareWithPartner(ctx context.Context, db *gorm.DB, userID string, enabled bool) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("share_with_partner", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LatestCycleEntry returns the most recent cycle entry for a user by start
// date, or (nil, nil) when the user has never logged a cycle.
func LatestCycleEntry(ctx context.Context, db *gorm.DB, userID string) (*domain.CycleEntry, error) {
	var ce domain.CycleEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_date desc").
		First(&ce).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &ce, nil
}

// ActiveMedicationNames returns the names of a user's active medications,
// ordered by name for deterministic snapshots.
func ActiveMedicationNames(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var names []string
	err := db.WithContext(ctx).
		Model(&domain.Medication{}).
		Where("user_id = ? AND active = ?", userID, true).
		Order("name asc").
		Pluck("name", &names).Error
	return names, err
}
