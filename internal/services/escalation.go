// Package services – EscalationGate
//
// This file implements the escalation gate: the idempotent guard that turns a
// distress-classified message into at most one urgent partner alert per chat
// session. The check-and-set itself lives in the repo layer as a guarded
// UPDATE (repo.MarkEscalated); the gate owns everything that happens after
// winning that race: partner resolution, the urgent notification record, and
// the real-time alert.
//
// Two deliberate asymmetries, both from the product's safety posture:
//   - The partner privacy opt-in is NOT consulted. Privacy gates routine
//     data sharing, not emergencies.
//   - Failure after the flip leaves the session escalated. A lost alert is
//     recoverable from the operator log; a duplicate urgent alert is not.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/domain"
	"github.com/tbourn/go-companion-backend/internal/realtime"
	"github.com/tbourn/go-companion-backend/internal/repo"
)

// EventPublisher is the slice of the real-time router the gate needs.
// Publishing is best-effort and fire-and-forget; implementations must never
// block on slow clients.
type EventPublisher interface {
	Publish(userID, eventType string, payload any)
}

// DistressAlertPayload is the real-time event body sent to the partner's
// connections. It mirrors the persisted notification so the client can render
// the alert without a follow-up fetch.
type DistressAlertPayload struct {
	NotificationID string `json:"notification_id"`
	SessionID      string `json:"session_id"`
	FromUserID     string `json:"from_user_id"`
	FromName       string `json:"from_name"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
}

// EscalationGate coordinates the at-most-once partner alert for a session.
type EscalationGate struct {
	// DB is the GORM handle used for the check-and-set and partner lookup.
	DB *gorm.DB
	// Notifications persists the urgent distress-signal record.
	Notifications *NotificationService
	// Publisher fans the alert out to the partner's live connections.
	// May be nil in tests; publishing is then skipped.
	Publisher EventPublisher
}

// NewEscalationGate constructs an EscalationGate.
func NewEscalationGate(db *gorm.DB, ns *NotificationService, pub EventPublisher) *EscalationGate {
	return &EscalationGate{DB: db, Notifications: ns, Publisher: pub}
}

// TryEscalate attempts the false→true transition of the session's escalation
// guard. It returns false (with no side effects) when the session already
// escalated. When this call wins the transition it resolves the owner's
// linked partner and delivers the urgent alert; a user without a partner
// still ends up escalated so later messages cannot re-trigger the gate.
//
// Post-flip failures (notification insert, partner lookup) are logged for
// operator reconciliation and reported as an error, but the session remains
// escalated — the gate never retries an urgent alert.
func (g *EscalationGate) TryEscalate(ctx context.Context, session *domain.ChatSession, user *domain.User) (bool, error) {
	won, err := repo.MarkEscalated(ctx, g.DB, session.ID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	session.EscalationSent = true

	if user.PartnerID == nil || *user.PartnerID == "" {
		log.Warn().
			Str("session_id", session.ID).
			Str("user_id", user.ID).
			Msg("distress escalation: no linked partner, alert skipped")
		return true, nil
	}
	partnerID := *user.PartnerID

	name := user.DisplayName
	if name == "" {
		name = "Your partner"
	}
	n := &domain.Notification{
		UserID:   partnerID,
		SenderID: &user.ID,
		Type:     domain.NotificationDistressSignal,
		Title:    "Urgent: your partner may need support",
		Message:  fmt.Sprintf("%s sent messages that suggest they are in serious distress. Please check in with them now.", name),
		Priority: domain.PriorityUrgent,
	}
	if err := g.Notifications.Create(ctx, n); err != nil {
		// Deliberate one-way tolerance: the session stays escalated even
		// though the alert was lost. Operators reconcile from this log line.
		log.Error().
			Err(err).
			Str("session_id", session.ID).
			Str("user_id", user.ID).
			Str("partner_id", partnerID).
			Msg("distress escalation: notification create failed after guard flip")
		return true, err
	}

	if g.Publisher != nil {
		g.Publisher.Publish(partnerID, realtime.EventDistressAlert, DistressAlertPayload{
			NotificationID: n.ID,
			SessionID:      session.ID,
			FromUserID:     user.ID,
			FromName:       name,
			Title:          n.Title,
			Message:        n.Message,
			Priority:       n.Priority,
		})
	}

	log.Info().
		Str("session_id", session.ID).
		Str("user_id", user.ID).
		Str("partner_id", partnerID).
		Str("notification_id", n.ID).
		Msg("distress escalation delivered")
	return true, nil
}
