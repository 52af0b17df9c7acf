package models

import "time"

type DigestFrequency string

const (
	DigestNever  DigestFrequency = "never"
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

func (d DigestFrequency) Valid() bool {
	switch d {
	case DigestNever, DigestDaily, DigestWeekly:
		return true
	}
	return false
}

// Notification is one per-recipient record produced by fan-out. Rows are
// created even when the recipient's preferences mute a delivery channel, so
// in-app badge counts stay truthful; preferences only gate email delivery.
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RecipientID   uint `gorm:"not null;uniqueIndex:idx_notif_message_recipient;index:idx_notif_recipient" json:"recipient_id"`
	RecipientRole Role `gorm:"type:varchar(20);not null;uniqueIndex:idx_notif_message_recipient;index:idx_notif_recipient" json:"recipient_role"`

	Title string `gorm:"size:255;not null" json:"title"`
	Body  string `gorm:"type:text" json:"body"`

	// MessageID is part of the fan-out idempotency key: retried expansions
	// collide on (message, recipient) instead of duplicating rows.
	MessageID      *uint `gorm:"uniqueIndex:idx_notif_message_recipient" json:"message_id"`
	ConversationID *uint `gorm:"index" json:"conversation_id"`

	Urgent   bool `gorm:"default:false" json:"urgent"`
	Reminder bool `gorm:"default:false" json:"reminder"`
	Digest   bool `gorm:"default:false" json:"digest"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}

func (n *Notification) Recipient() Principal {
	return Principal{ID: n.RecipientID, Role: n.RecipientRole}
}

// NotificationPreference holds one principal's delivery toggles. Created
// lazily with defaults on first access and mutated only by its owner.
type NotificationPreference struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	UpdatedAt time.Time `json:"-"`

	UserID   uint `gorm:"not null;uniqueIndex:idx_pref_principal" json:"user_id"`
	UserRole Role `gorm:"type:varchar(20);not null;uniqueIndex:idx_pref_principal" json:"user_role"`

	// Channels.
	BrowserEnabled bool `gorm:"default:true" json:"browser_enabled"`
	EmailEnabled   bool `gorm:"default:true" json:"email_enabled"`
	SoundEnabled   bool `gorm:"default:true" json:"sound_enabled"`

	// Categories.
	MentionsEnabled   bool `gorm:"default:true" json:"mentions_enabled"`
	RepliesEnabled    bool `gorm:"default:true" json:"replies_enabled"`
	ImportanceEnabled bool `gorm:"default:true" json:"importance_enabled"`

	DigestFrequency DigestFrequency `gorm:"type:varchar(20);not null;default:'never'" json:"digest_frequency"`
}

// DefaultPreferences is the lazily-created row for a principal that has
// never touched its settings.
func DefaultPreferences(p Principal) *NotificationPreference {
	return &NotificationPreference{
		UserID:            p.ID,
		UserRole:          p.Role,
		BrowserEnabled:    true,
		EmailEnabled:      true,
		SoundEnabled:      true,
		MentionsEnabled:   true,
		RepliesEnabled:    true,
		ImportanceEnabled: true,
		DigestFrequency:   DigestNever,
	}
}

// EmailDeliverable reports whether a notification may leave through the
// email channel under these preferences. Digest-only recipients keep their
// rows for badge counts but are excluded from immediate email.
func (p *NotificationPreference) EmailDeliverable(n *Notification) bool {
	if !p.EmailEnabled {
		return false
	}
	if p.DigestFrequency != DigestNever {
		return false
	}
	if n.Urgent {
		return true
	}
	return p.ImportanceEnabled
}
