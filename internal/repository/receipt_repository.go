package repository

import (
	"time"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) Upsert(receipt *models.ReadReceipt) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "user_role"}},
		DoNothing: true,
	}).Create(receipt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ReceiptRepository) CountForMessage(messageID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.ReadReceipt{}).Where("message_id = ?", messageID).Count(&count).Error
	return count, err
}

func (r *ReceiptRepository) RecomputeUnread(conversationID uint, p models.Principal) (int, error) {
	var count int
	err := r.db.Raw(`
		UPDATE participants SET unread_count = (
			SELECT COUNT(*) FROM messages m
			WHERE m.conversation_id = participants.conversation_id
				AND NOT (m.sender_id = participants.user_id AND m.sender_role = participants.user_role)
				AND NOT EXISTS (
					SELECT 1 FROM read_receipts rr
					WHERE rr.message_id = m.id
						AND rr.user_id = participants.user_id
						AND rr.user_role = participants.user_role
				)
		), updated_at = NOW()
		WHERE conversation_id = ? AND user_id = ? AND user_role = ?
		RETURNING unread_count
	`, conversationID, p.ID, p.Role).Scan(&count).Error
	return count, err
}

func (r *ReceiptRepository) MarkConversationRead(conversationID uint, p models.Principal, now time.Time) (int64, error) {
	var created int64
	err := Transact(r.db, func(tx *gorm.DB) error {
		res := tx.Exec(`
			INSERT INTO read_receipts (message_id, conversation_id, user_id, user_role, read_at)
			SELECT m.id, m.conversation_id, ?, ?, ?
			FROM messages m
			WHERE m.conversation_id = ?
				AND NOT (m.sender_id = ? AND m.sender_role = ?)
			ON CONFLICT (message_id, user_id, user_role) DO NOTHING
		`, p.ID, p.Role, now, conversationID, p.ID, p.Role)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected

		upd := tx.Model(&models.Participant{}).
			Where("conversation_id = ? AND user_id = ? AND user_role = ?", conversationID, p.ID, p.Role).
			Updates(map[string]interface{}{
				"unread_count": 0,
				"last_read_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (r *ReceiptRepository) ResetLatestReceipt(conversationID uint, p models.Principal) error {
	return Transact(r.db, func(tx *gorm.DB) error {
		var latestInbound uint
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND NOT (sender_id = ? AND sender_role = ?)", conversationID, p.ID, p.Role).
			Select("COALESCE(MAX(id), 0)").
			Scan(&latestInbound).Error; err != nil {
			return err
		}

		if latestInbound > 0 {
			if err := tx.Where("message_id = ? AND user_id = ? AND user_role = ?", latestInbound, p.ID, p.Role).
				Delete(&models.ReadReceipt{}).Error; err != nil {
				return err
			}
		}

		res := tx.Exec(`
			UPDATE participants SET last_read_at = NULL, unread_count = (
				SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = participants.conversation_id
					AND NOT (m.sender_id = participants.user_id AND m.sender_role = participants.user_role)
					AND NOT EXISTS (
						SELECT 1 FROM read_receipts rr
						WHERE rr.message_id = m.id
							AND rr.user_id = participants.user_id
							AND rr.user_role = participants.user_role
					)
			), updated_at = NOW()
			WHERE conversation_id = ? AND user_id = ? AND user_role = ?
		`, conversationID, p.ID, p.Role)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
