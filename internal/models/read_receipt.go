package models

import "time"

// ReadReceipt records that one participant has viewed one message. At most
// one receipt exists per (message, principal); the sender never gets one.
type ReadReceipt struct {
	ID uint `gorm:"primarykey" json:"-"`

	MessageID uint `gorm:"not null;uniqueIndex:idx_receipt_principal" json:"message_id"`
	// ConversationID is denormalized so unread recomputation stays a single
	// indexed query.
	ConversationID uint `gorm:"not null;index" json:"conversation_id"`

	UserID   uint `gorm:"not null;uniqueIndex:idx_receipt_principal" json:"user_id"`
	UserRole Role `gorm:"type:varchar(20);not null;uniqueIndex:idx_receipt_principal" json:"user_role"`

	ReadAt time.Time `gorm:"not null" json:"read_at"`
}

// ReadStatus is the roll-up a sender sees for delivery confirmation.
type ReadStatus struct {
	MessageID         uint  `json:"message_id"`
	TotalParticipants int64 `json:"total_participants"` // excluding the sender
	ReadByCount       int64 `json:"read_by_count"`
	AllRead           bool  `json:"all_read"`
}
