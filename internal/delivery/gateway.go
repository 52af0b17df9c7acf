// Package delivery exposes conversation and notification changes to clients
// through two transports sharing one authoritative "changes since" query: a
// long-lived websocket stream and a validator-checked conditional poll.
package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
)

// Gateway answers the authoritative state query both transports derive
// from, so a stream client and a poll client can never observe mutually
// inconsistent snapshots.
type Gateway struct {
	convRepo    repository.ConversationRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	notifRepo   repository.NotificationRepositoryInterface
}

func NewGateway(
	convRepo repository.ConversationRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	notifRepo repository.NotificationRepositoryInterface,
) *Gateway {
	return &Gateway{convRepo: convRepo, messageRepo: messageRepo, notifRepo: notifRepo}
}

type ConversationSnapshot struct {
	Messages            []models.MessageResponse `json:"messages"`
	LatestMessageID     uint                     `json:"latest_message_id"`
	UnreadCount         int                      `json:"unread_count"`
	ParticipantsVersion int64                    `json:"-"`
	Validator           string                   `json:"validator"`
}

type NotificationSnapshot struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unread_count"`
	LatestID      uint                  `json:"latest_id"`
	Validator     string                `json:"validator"`
}

// ConversationChanges returns messages newer than sinceID plus the state
// validator. Participation is re-checked on every call, so a removal
// mid-session is observed by the next stream iteration or poll.
func (g *Gateway) ConversationChanges(p models.Principal, conversationID uint, sinceID uint) (*ConversationSnapshot, error) {
	part, err := g.convRepo.FindParticipant(conversationID, p)
	if err != nil {
		return nil, service.ErrNotAuthorized
	}
	if part.Removed() {
		return nil, service.ErrNotAuthorized
	}

	messages, err := g.messageRepo.ListSince(conversationID, sinceID, 0)
	if err != nil {
		return nil, err
	}
	latest, err := g.messageRepo.LatestMessageID(conversationID)
	if err != nil {
		return nil, err
	}
	version, err := g.convRepo.ParticipantsVersion(conversationID)
	if err != nil {
		return nil, err
	}

	responses := make([]models.MessageResponse, len(messages))
	for i := range messages {
		responses[i] = messages[i].ToResponse()
	}

	return &ConversationSnapshot{
		Messages:            responses,
		LatestMessageID:     latest,
		UnreadCount:         part.UnreadCount,
		ParticipantsVersion: version,
		Validator:           Validator("conv", conversationID, latest, version, part.UnreadCount),
	}, nil
}

// NotificationChanges returns the principal's unread notifications plus the
// state validator.
func (g *Gateway) NotificationChanges(p models.Principal, limit int) (*NotificationSnapshot, error) {
	notifications, err := g.notifRepo.ListUnread(p, limit)
	if err != nil {
		return nil, err
	}
	maxID, count, err := g.notifRepo.UnreadState(p)
	if err != nil {
		return nil, err
	}
	return &NotificationSnapshot{
		Notifications: notifications,
		UnreadCount:   count,
		LatestID:      maxID,
		Validator:     Validator("notif", p.Role, p.ID, maxID, count),
	}, nil
}

// Validator derives the opaque ETag-equivalent from the state markers. The
// client echoes it back verbatim; equality means "unchanged".
func Validator(parts ...interface{}) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v|", part)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
