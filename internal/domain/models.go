// Package domain defines the persistence models for users, chat sessions,
// messages, and notifications. These types are mapped with GORM and form the
// core data layer of the companion application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Notification types.
const (
	NotificationCycleReminder      = "cycle_reminder"
	NotificationMedicationReminder = "medication_reminder"
	NotificationPartnerLink        = "partner_link"
	NotificationPartnerUnlink      = "partner_unlink"
	NotificationCommunity          = "community"
	NotificationDistressSignal     = "distress_signal"
	NotificationSystem             = "system"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Delivery channels tracked per notification.
const (
	ChannelApp   = "app"
	ChannelEmail = "email"
	ChannelPush  = "push"
	ChannelSMS   = "sms"
)

// User represents an account. Partner linking is a mutual, at-most-one
// relation: when two users are linked, each row's PartnerID points at the
// other, and both are set (or cleared) in a single transaction.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - DisplayName: short name shown in notifications.
//   - PartnerID: linked partner, nil when unlinked; mutual by invariant.
//   - ShareWithPartner: opt-in for routine partner data views. Distress
//     escalation ignores this flag deliberately.
type User struct {
	ID               string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	DisplayName      string         `json:"display_name"       gorm:"type:varchar(64);not null;default:''"`
	PartnerID        *string        `json:"partner_id,omitempty" gorm:"type:char(36);index"`
	ShareWithPartner bool           `json:"share_with_partner" gorm:"not null;default:false"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// CycleEntry records the start of a menstrual cycle. Only the most recent
// entry matters to this core: it drives the cycle-day arithmetic captured in
// a session's context snapshot.
type CycleEntry struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index:idx_user_cycles"`
	StartDate time.Time `json:"start_date" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for CycleEntry.
func (CycleEntry) TableName() string { return "cycle_entries" }

// Medication is a named treatment for a user. Active medication names are
// snapshotted into new chat sessions and shown on the partner summary view.
type Medication struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:char(36);not null;index:idx_user_meds"`
	Name      string    `json:"name"    gorm:"type:varchar(128);not null"`
	Active    bool      `json:"active"  gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Medication.
func (Medication) TableName() string { return "medications" }

// SessionContext is the snapshot captured when a chat session is created.
// It is stored as JSON on the session and never recomputed afterwards.
type SessionContext struct {
	CycleDay    int      `json:"cycle_day"`
	Stage       string   `json:"stage"`
	Symptoms    []string `json:"symptoms,omitempty"`
	Medications []string `json:"medications,omitempty"`
}

// ChatSession represents a conversation owned by a user.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the session owner; indexed for retrieval.
//   - Context: immutable context snapshot (serialized JSON).
//   - DistressDetected: set once any message in the session classifies as
//     distress; never reset.
//   - EscalationSent: the escalation gate's guard. Transitions false→true at
//     most once per session, via an atomic check-and-set in the repo layer.
//   - DeletedAt: soft deletion marker (owner-initiated delete).
type ChatSession struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID           string         `json:"user_id"           gorm:"type:char(36);not null;index:idx_user_sessions"`
	Context          SessionContext `json:"context"           gorm:"serializer:json"`
	DistressDetected bool           `json:"distress_detected" gorm:"not null;default:false"`
	EscalationSent   bool           `json:"escalation_sent"   gorm:"not null;default:false"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                 gorm:"index"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// Message is a single utterance within a chat session, authored either by
// the "user" or the "assistant". Messages are immutable once appended.
//
// Fields:
//   - Emotion: classifier label ("neutral", "sad", "distressed", ...).
//   - DistressLevel: 0–10 heuristic severity score.
//   - Meta: free-form metadata (serialized JSON), e.g. fallback markers.
type Message struct {
	ID            string            `json:"id"             gorm:"type:char(36);primaryKey"`
	SessionID     string            `json:"session_id"     gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Role          string            `json:"role"           gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content       string            `json:"content"        gorm:"type:text;not null"`
	Emotion       string            `json:"emotion"        gorm:"type:varchar(24);not null;default:'neutral'"`
	DistressLevel int               `json:"distress_level" gorm:"not null;default:0;check:distress_level BETWEEN 0 AND 10"`
	Meta          map[string]string `json:"meta,omitempty" gorm:"serializer:json"`
	CreatedAt     time.Time         `json:"created_at"     gorm:"index:idx_session_msgs,priority:2"`

	// Session is the parent conversation. Messages are cascade-deleted
	// if their session is removed.
	Session ChatSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ChannelStatus tracks delivery through a single channel. Once Sent flips to
// true it is never reset for that notification (monotonic).
type ChannelStatus struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at,omitempty"`
}

// DeliveryStatus groups per-channel delivery state. Embedded into
// Notification with column prefixes (app_sent, email_sent, ...).
type DeliveryStatus struct {
	App   ChannelStatus `json:"app"   gorm:"embedded;embeddedPrefix:app_"`
	Email ChannelStatus `json:"email" gorm:"embedded;embeddedPrefix:email_"`
	Push  ChannelStatus `json:"push"  gorm:"embedded;embeddedPrefix:push_"`
	SMS   ChannelStatus `json:"sms"   gorm:"embedded;embeddedPrefix:sms_"`
}

// Notification is a durable record of something a user should be told.
// It is created by any component needing to inform a user, mutated only to
// mark it read or advance delivery status, and deleted only by explicit user
// action.
//
// Fields:
//   - UserID: recipient; always required.
//   - SenderID: originating user, optional (system notifications have none).
//   - Priority: low|normal|high|urgent.
//   - ActionURL: optional deep link for the client.
//   - ExpiresAt: optional expiry after which clients may hide it.
//   - Delivery: per-channel sent/sentAt record.
type Notification struct {
	ID        string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"              gorm:"type:char(36);not null;index:idx_user_notifications,priority:1"`
	SenderID  *string        `json:"sender_id,omitempty"  gorm:"type:char(36)"`
	Type      string         `json:"type"                 gorm:"type:varchar(32);not null"`
	Title     string         `json:"title"                gorm:"type:varchar(255);not null"`
	Message   string         `json:"message"              gorm:"type:text;not null"`
	Read      bool           `json:"read"                 gorm:"not null;default:false"`
	Priority  string         `json:"priority"             gorm:"type:varchar(16);not null;default:'normal';check:priority IN ('low','normal','high','urgent')"`
	ActionURL *string        `json:"action_url,omitempty" gorm:"type:varchar(512)"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Delivery  DeliveryStatus `json:"delivery"             gorm:"embedded"`
	CreatedAt time.Time      `json:"created_at"           gorm:"index:idx_user_notifications,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"                    gorm:"index"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
