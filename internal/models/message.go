package models

import (
	"time"
)

type Importance string

const (
	ImportanceNormal    Importance = "normal"
	ImportanceImportant Importance = "important"
	ImportanceUrgent    Importance = "urgent"
)

func (i Importance) Valid() bool {
	switch i {
	case ImportanceNormal, ImportanceImportant, ImportanceUrgent:
		return true
	}
	return false
}

// MaxMessageBodyLength is the hard ceiling on a message body.
const MaxMessageBodyLength = 10000

// Message is one immutable entry in a conversation's ledger. Ordering within
// a conversation is by the append-only primary key.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ConversationID uint `gorm:"not null;index" json:"conversation_id"`

	SenderID   uint   `gorm:"not null;index" json:"sender_id"`
	SenderRole Role   `gorm:"type:varchar(20);not null" json:"sender_role"`
	SenderName string `gorm:"size:150" json:"sender_name"`

	Body            string     `gorm:"type:text;not null" json:"body"`
	Importance      Importance `gorm:"type:varchar(20);not null;default:'normal'" json:"importance"`
	ParentMessageID *uint      `gorm:"index" json:"parent_message_id"`
	IsAnnouncement  bool       `gorm:"default:false" json:"is_announcement"`
	RequiresAck     bool       `gorm:"default:false" json:"requires_ack"`

	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments"`
}

func (m *Message) Sender() Principal {
	return Principal{ID: m.SenderID, Role: m.SenderRole}
}

// Attachment references a stored file belonging to a message. The blob
// itself lives in the external file store; only the key is kept here.
// Attachments are created in the same transaction as their message.
type Attachment struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	MessageID uint   `gorm:"not null;index" json:"message_id"`
	FileName  string `gorm:"size:255;not null" json:"file_name"`
	// StoragePath is the object key in the file store.
	StoragePath string `gorm:"size:512;not null" json:"-"`
	// URL is filled at read time with a presigned download link.
	URL string `gorm:"-" json:"url,omitempty"`
}

type MessageResponse struct {
	ID              uint         `json:"id"`
	ConversationID  uint         `json:"conversation_id"`
	SenderID        uint         `json:"sender_id"`
	SenderRole      Role         `json:"sender_role"`
	SenderName      string       `json:"sender_name"`
	Body            string       `json:"body"`
	Importance      Importance   `json:"importance"`
	ParentMessageID *uint        `json:"parent_message_id"`
	IsAnnouncement  bool         `json:"is_announcement"`
	RequiresAck     bool         `json:"requires_ack"`
	Attachments     []Attachment `json:"attachments"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (m *Message) ToResponse() MessageResponse {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	return MessageResponse{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		SenderRole:      m.SenderRole,
		SenderName:      DisplayName(m.SenderName, m.SenderRole),
		Body:            m.Body,
		Importance:      m.Importance,
		ParentMessageID: m.ParentMessageID,
		IsAnnouncement:  m.IsAnnouncement,
		RequiresAck:     m.RequiresAck,
		Attachments:     attachments,
		CreatedAt:       m.CreatedAt,
	}
}
