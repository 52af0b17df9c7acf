package service

import (
	"log"
	"time"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
)

type ReceiptService struct {
	receiptRepo repository.ReceiptRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	convRepo    repository.ConversationRepositoryInterface
	notifRepo   repository.NotificationRepositoryInterface
}

func NewReceiptService(
	receiptRepo repository.ReceiptRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	convRepo repository.ConversationRepositoryInterface,
	notifRepo repository.NotificationRepositoryInterface,
) *ReceiptService {
	return &ReceiptService{
		receiptRepo: receiptRepo,
		messageRepo: messageRepo,
		convRepo:    convRepo,
		notifRepo:   notifRepo,
	}
}

// MarkRead records that p has viewed a message. Idempotent: a second call
// changes nothing. The sender of a message never gets a receipt; marking
// one's own message is a no-op.
func (s *ReceiptService) MarkRead(p models.Principal, messageID uint) error {
	msg, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	part, err := s.convRepo.FindParticipant(msg.ConversationID, p)
	if err != nil {
		if notFound(err) {
			return ErrNotAuthorized
		}
		return err
	}
	if part.Removed() {
		return ErrNotAuthorized
	}
	if msg.Sender().Is(p) {
		return nil
	}

	now := time.Now()
	inserted, err := s.receiptRepo.Upsert(&models.ReadReceipt{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		UserID:         p.ID,
		UserRole:       p.Role,
		ReadAt:         now,
	})
	if err != nil {
		return err
	}
	if inserted {
		if _, err := s.receiptRepo.RecomputeUnread(msg.ConversationID, p); err != nil {
			return err
		}
	}
	// Reading the message also clears its notification for this recipient.
	if err := s.notifRepo.MarkReadByMessage(messageID, p, now); err != nil {
		log.Printf("notification clear failed for message %d, %s: %v", messageID, p, err)
	}
	return nil
}

// MarkConversationRead receipts every unread inbound message and updates
// last_read_at and unread_count, all in one transaction.
func (s *ReceiptService) MarkConversationRead(conversationID uint, p models.Principal) error {
	part, err := s.convRepo.FindParticipant(conversationID, p)
	if err != nil {
		if notFound(err) {
			return ErrNotAuthorized
		}
		return err
	}
	if part.Removed() {
		return ErrNotAuthorized
	}

	now := time.Now()
	if _, err := s.receiptRepo.MarkConversationRead(conversationID, p, now); err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	if err := s.notifRepo.MarkReadByConversation(conversationID, p, now); err != nil {
		log.Printf("notification clear failed for conversation %d, %s: %v", conversationID, p, err)
	}
	return nil
}

// MarkUnread resets the participant's read marker: last_read_at is cleared
// and only the receipt for the most recent inbound message is removed,
// mirroring mailbox semantics. Historical receipts stay; if the latest
// inbound message was never read the call only clears the marker, so
// unread_count rises by at most one.
func (s *ReceiptService) MarkUnread(p models.Principal, conversationID uint) error {
	part, err := s.convRepo.FindParticipant(conversationID, p)
	if err != nil {
		if notFound(err) {
			return ErrNotAuthorized
		}
		return err
	}
	if part.Removed() {
		return ErrNotAuthorized
	}
	err = s.receiptRepo.ResetLatestReceipt(conversationID, p)
	if err != nil && notFound(err) {
		return ErrNotFound
	}
	return err
}

// ReadStatus rolls up how many of the non-sender participants have read a
// message, for sender-side delivery confirmation.
func (s *ReceiptService) ReadStatus(p models.Principal, messageID uint) (*models.ReadStatus, error) {
	msg, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	part, err := s.convRepo.FindParticipant(msg.ConversationID, p)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if part.Removed() {
		return nil, ErrNotAuthorized
	}

	total, err := s.convRepo.CountOtherParticipants(msg.ConversationID, msg.Sender())
	if err != nil {
		return nil, err
	}
	readBy, err := s.receiptRepo.CountForMessage(messageID)
	if err != nil {
		return nil, err
	}
	return &models.ReadStatus{
		MessageID:         messageID,
		TotalParticipants: total,
		ReadByCount:       readBy,
		AllRead:           total > 0 && readBy >= total,
	}, nil
}
