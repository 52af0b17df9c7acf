package service

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
)

// FanoutEnqueuer hands a freshly appended message to notification fan-out.
type FanoutEnqueuer interface {
	EnqueueMessageFanout(ctx context.Context, messageID uint) error
}

// StreamNotifier wakes open delivery streams after a state change. Purely a
// latency optimization: streams re-read the ledger on their own interval.
type StreamNotifier interface {
	ConversationChanged(conversationID uint)
}

type MessageService struct {
	messageRepo repository.MessageRepositoryInterface
	convRepo    repository.ConversationRepositoryInterface
	authorizer  *Authorizer
	fanout      FanoutEnqueuer
	streams     StreamNotifier
}

func NewMessageService(
	messageRepo repository.MessageRepositoryInterface,
	convRepo repository.ConversationRepositoryInterface,
	authorizer *Authorizer,
	fanout FanoutEnqueuer,
	streams StreamNotifier,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		authorizer:  authorizer,
		fanout:      fanout,
		streams:     streams,
	}
}

type AttachmentInput struct {
	FileName    string `json:"file_name"`
	StoragePath string `json:"-"`
}

type AppendInput struct {
	ConversationID  uint              `json:"conversation_id"`
	Body            string            `json:"body"`
	Importance      models.Importance `json:"importance"`
	ParentMessageID *uint             `json:"parent_message_id"`
	RequiresAck     bool              `json:"requires_ack"`
	Attachments     []AttachmentInput `json:"-"`
}

// Append validates and appends one message (with its attachments) to a
// conversation's ledger, bumps the other participants' unread counters in
// the same transaction, then hands the message to notification fan-out.
func (s *MessageService) Append(ctx context.Context, sender models.Principal, senderName string, input AppendInput) (*models.Message, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, ErrInvalidArgument
	}
	if utf8.RuneCountInString(body) > models.MaxMessageBodyLength {
		return nil, ErrInvalidArgument
	}
	importance := input.Importance
	if importance == "" {
		importance = models.ImportanceNormal
	}
	if !importance.Valid() {
		return nil, ErrInvalidArgument
	}

	conv, err := s.convRepo.FindByID(input.ConversationID)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	part, err := s.convRepo.FindParticipant(conv.ID, sender)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if !s.authorizer.Can(sender, ActionSendMessage, conv, part) {
		return nil, ErrNotAuthorized
	}

	if input.ParentMessageID != nil {
		parent, err := s.messageRepo.FindByID(*input.ParentMessageID)
		if err != nil {
			if notFound(err) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if parent.ConversationID != conv.ID {
			return nil, ErrNotFound
		}
	}

	attachments := make([]models.Attachment, 0, len(input.Attachments))
	for _, a := range input.Attachments {
		if a.FileName == "" || a.StoragePath == "" {
			return nil, ErrInvalidArgument
		}
		attachments = append(attachments, models.Attachment{
			FileName:    a.FileName,
			StoragePath: a.StoragePath,
		})
	}

	msg := &models.Message{
		ConversationID:  conv.ID,
		SenderID:        sender.ID,
		SenderRole:      sender.Role,
		SenderName:      senderName,
		Body:            body,
		Importance:      importance,
		ParentMessageID: input.ParentMessageID,
		IsAnnouncement:  conv.Kind == models.KindAnnouncement,
		RequiresAck:     input.RequiresAck,
		Attachments:     attachments,
	}

	if err := s.messageRepo.CreateWithUnread(msg); err != nil {
		return nil, err
	}

	// The message is the primary artifact. Fan-out runs at-least-once on
	// the task queue; an enqueue failure is logged, never surfaced.
	if s.fanout != nil {
		if err := s.fanout.EnqueueMessageFanout(ctx, msg.ID); err != nil {
			log.Printf("fan-out enqueue failed for message %d: %v", msg.ID, err)
		}
	}
	if s.streams != nil {
		s.streams.ConversationChanged(conv.ID)
	}

	return s.messageRepo.FindByID(msg.ID)
}

// ListSince returns the messages of a conversation newer than sinceID in
// ascending id order. This is the primitive both delivery transports read.
func (s *MessageService) ListSince(p models.Principal, conversationID uint, sinceID uint, limit int) ([]models.Message, error) {
	part, err := s.convRepo.FindParticipant(conversationID, p)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if part.Removed() {
		return nil, ErrNotAuthorized
	}
	return s.messageRepo.ListSince(conversationID, sinceID, limit)
}
