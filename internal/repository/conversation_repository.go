package repository

import (
	"strings"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(conv *models.Conversation, participants []models.Participant) error {
	return Transact(r.db, func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ConversationID = conv.ID
		}
		return tx.Create(&participants).Error
	})
}

func (r *ConversationRepository) FindByID(id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.First(&conv, id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepository) FindParticipant(conversationID uint, p models.Principal) (*models.Participant, error) {
	var part models.Participant
	err := r.db.
		Where("conversation_id = ? AND user_id = ? AND user_role = ?", conversationID, p.ID, p.Role).
		First(&part).Error
	if err != nil {
		return nil, err
	}
	return &part, nil
}

func (r *ConversationRepository) ListParticipants(conversationID uint) ([]models.Participant, error) {
	var parts []models.Participant
	err := r.db.Where("conversation_id = ?", conversationID).Order("id ASC").Find(&parts).Error
	return parts, err
}

func (r *ConversationRepository) CountOtherParticipants(conversationID uint, sender models.Principal) (int64, error) {
	var count int64
	err := r.db.Model(&models.Participant{}).
		Where("conversation_id = ? AND NOT (user_id = ? AND user_role = ?)", conversationID, sender.ID, sender.Role).
		Count(&count).Error
	return count, err
}

func (r *ConversationRepository) AddParticipant(part *models.Participant) error {
	return r.db.Create(part).Error
}

func (r *ConversationRepository) UpdateParticipant(part *models.Participant) error {
	return r.db.Save(part).Error
}

func (r *ConversationRepository) SetFolder(conversationID uint, p models.Principal, folder models.Folder) error {
	res := r.db.Model(&models.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND user_role = ?", conversationID, p.ID, p.Role).
		Update("folder", folder)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ConversationRepository) RemoveParticipantAndMaybeReclaim(conversationID uint, p models.Principal) (bool, []string, error) {
	var reclaimed bool
	var storageKeys []string
	err := Transact(r.db, func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ? AND user_id = ? AND user_role = ?", conversationID, p.ID, p.Role).
			Delete(&models.Participant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var remaining int64
		if err := tx.Model(&models.Participant{}).Where("conversation_id = ?", conversationID).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		// Last participant gone: reclaim the conversation's data.
		reclaimed = true
		if err := tx.Raw(`
			SELECT a.storage_path FROM attachments a
			JOIN messages m ON m.id = a.message_id
			WHERE m.conversation_id = ?
		`, conversationID).Scan(&storageKeys).Error; err != nil {
			return err
		}

		if err := tx.Exec(`
			DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)
		`, conversationID).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.ReadReceipt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, conversationID).Error
	})
	if err != nil {
		return false, nil, err
	}
	return reclaimed, storageKeys, nil
}

func (r *ConversationRepository) ListByFolder(p models.Principal, folder models.Folder, limit int) ([]models.ConversationListRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	query := strings.TrimSpace(`
SELECT
	c.id AS conversation_id,
	c.title AS title,
	c.kind AS kind,
	pa.unread_count AS unread_count,
	COALESCE(lm.id, 0) AS last_message_id,
	COALESCE(lm.body, '') AS last_body,
	COALESCE(lm.sender_name, '') AS last_sender_name,
	COALESCE(lm.created_at, c.created_at) AS last_activity
FROM participants pa
JOIN conversations c ON c.id = pa.conversation_id
LEFT JOIN LATERAL (
	SELECT m.id, m.body, m.sender_name, m.created_at
	FROM messages m
	WHERE m.conversation_id = c.id
	ORDER BY m.id DESC
	LIMIT 1
) lm ON true
WHERE pa.user_id = ? AND pa.user_role = ? AND pa.folder = ?
ORDER BY last_activity DESC, c.id DESC
LIMIT ?
`)

	var rows []models.ConversationListRow
	if err := r.db.Raw(query, p.ID, p.Role, folder, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ParticipantsVersion is an opaque monotonic-ish value that changes whenever
// the participant set of a conversation changes (rows added, removed, or
// flags/folders updated). The delivery gateway folds it into its validator.
func (r *ConversationRepository) ParticipantsVersion(conversationID uint) (int64, error) {
	var row struct {
		Cnt   int64 `gorm:"column:cnt"`
		Epoch int64 `gorm:"column:epoch"`
	}
	err := r.db.Raw(`
		SELECT COUNT(*) AS cnt,
			COALESCE(MAX(EXTRACT(EPOCH FROM updated_at))::bigint, 0) AS epoch
		FROM participants WHERE conversation_id = ?
	`, conversationID).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Cnt<<32 ^ row.Epoch, nil
}
