package repository

import (
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) CreateWithUnread(msg *models.Message) error {
	return Transact(r.db, func(tx *gorm.DB) error {
		// Attachments ride along through the association, same transaction.
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Participant{}).
			Where("conversation_id = ? AND folder <> ? AND NOT (user_id = ? AND user_role = ?)",
				msg.ConversationID, models.FolderTrashed, msg.SenderID, msg.SenderRole).
			UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
	})
}

func (r *MessageRepository) FindByID(id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.Preload("Attachments").First(&msg, id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepository) ListSince(conversationID uint, sinceID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var messages []models.Message
	err := r.db.Preload("Attachments").
		Where("conversation_id = ? AND id > ?", conversationID, sinceID).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) LatestMessageID(conversationID uint) (uint, error) {
	var id uint
	err := r.db.Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	return id, err
}

func (r *MessageRepository) LatestInboundMessageID(conversationID uint, p models.Principal) (uint, error) {
	var id uint
	err := r.db.Model(&models.Message{}).
		Where("conversation_id = ? AND NOT (sender_id = ? AND sender_role = ?)", conversationID, p.ID, p.Role).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	return id, err
}
