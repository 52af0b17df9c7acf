package repository

import (
	"time"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

// ConversationRepositoryInterface defines the contract for conversation and
// participant storage.
type ConversationRepositoryInterface interface {
	Create(conv *models.Conversation, participants []models.Participant) error
	FindByID(id uint) (*models.Conversation, error)
	FindParticipant(conversationID uint, p models.Principal) (*models.Participant, error)
	ListParticipants(conversationID uint) ([]models.Participant, error)
	CountOtherParticipants(conversationID uint, sender models.Principal) (int64, error)
	AddParticipant(part *models.Participant) error
	UpdateParticipant(part *models.Participant) error
	SetFolder(conversationID uint, p models.Principal, folder models.Folder) error
	// RemoveParticipantAndMaybeReclaim deletes the caller's participant row
	// and, when it was the last one, the conversation with all dependent
	// data. Returns the orphaned attachment storage keys for blob cleanup.
	RemoveParticipantAndMaybeReclaim(conversationID uint, p models.Principal) (reclaimed bool, storageKeys []string, err error)
	ListByFolder(p models.Principal, folder models.Folder, limit int) ([]models.ConversationListRow, error)
	ParticipantsVersion(conversationID uint) (int64, error)
}

// MessageRepositoryInterface defines the contract for the append-only
// message ledger.
type MessageRepositoryInterface interface {
	// CreateWithUnread appends the message with its attachments and bumps
	// unread counters for every other non-removed participant, atomically.
	CreateWithUnread(msg *models.Message) error
	FindByID(id uint) (*models.Message, error)
	ListSince(conversationID uint, sinceID uint, limit int) ([]models.Message, error)
	LatestMessageID(conversationID uint) (uint, error)
	LatestInboundMessageID(conversationID uint, p models.Principal) (uint, error)
}

// ReceiptRepositoryInterface defines the contract for read-receipt storage
// and the unread roll-ups derived from it.
type ReceiptRepositoryInterface interface {
	// Upsert inserts the receipt if absent. Returns false when it already
	// existed (idempotent re-read).
	Upsert(receipt *models.ReadReceipt) (bool, error)
	CountForMessage(messageID uint) (int64, error)
	// RecomputeUnread recounts inbound messages without a receipt and stores
	// the result on the participant row.
	RecomputeUnread(conversationID uint, p models.Principal) (int, error)
	// MarkConversationRead receipts every unread inbound message, sets
	// last_read_at and zeroes unread_count in a single transaction.
	MarkConversationRead(conversationID uint, p models.Principal, now time.Time) (int64, error)
	// ResetLatestReceipt clears last_read_at and removes the receipt for the
	// most recent inbound message only, then recomputes unread_count.
	ResetLatestReceipt(conversationID uint, p models.Principal) error
}

// NotificationRepositoryInterface defines the contract for notification and
// preference storage.
type NotificationRepositoryInterface interface {
	// CreateBatch inserts the rows, silently skipping (message, recipient)
	// pairs already present so retried fan-out stays idempotent. Returns the
	// number actually inserted.
	CreateBatch(notifications []models.Notification) (int64, error)
	FindByID(id uint) (*models.Notification, error)
	CountUnread(p models.Principal) (int64, error)
	ListUnread(p models.Principal, limit int) ([]models.Notification, error)
	// UnreadState returns the highest notification id and the unread count
	// for a principal; the delivery validator is derived from both.
	UnreadState(p models.Principal) (maxID uint, count int64, err error)
	MarkRead(id uint, p models.Principal, now time.Time) error
	MarkAllRead(p models.Principal, now time.Time) (int64, error)
	// MarkReadByMessage clears the recipient's notification for a message
	// when the message itself is read.
	MarkReadByMessage(messageID uint, p models.Principal, now time.Time) error
	// MarkReadByConversation clears the recipient's notifications for a
	// whole conversation when it is marked read.
	MarkReadByConversation(conversationID uint, p models.Principal, now time.Time) error
	GetPreferences(p models.Principal) (*models.NotificationPreference, error)
	SavePreferences(pref *models.NotificationPreference) error
}
