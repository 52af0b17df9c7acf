package repository

import (
	"time"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) CreateBatch(notifications []models.Notification) (int64, error) {
	if len(notifications) == 0 {
		return 0, nil
	}
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "recipient_id"}, {Name: "recipient_role"}},
		DoNothing: true,
	}).Create(&notifications)
	return res.RowsAffected, res.Error
}

func (r *NotificationRepository) FindByID(id uint) (*models.Notification, error) {
	var n models.Notification
	err := r.db.First(&n, id).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) CountUnread(p models.Principal) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND recipient_role = ? AND is_read = false", p.ID, p.Role).
		Count(&count).Error
	return count, err
}

func (r *NotificationRepository) ListUnread(p models.Principal, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var notifications []models.Notification
	err := r.db.
		Where("recipient_id = ? AND recipient_role = ? AND is_read = false", p.ID, p.Role).
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

func (r *NotificationRepository) UnreadState(p models.Principal) (uint, int64, error) {
	var row struct {
		MaxID uint  `gorm:"column:max_id"`
		Cnt   int64 `gorm:"column:cnt"`
	}
	err := r.db.Raw(`
		SELECT COALESCE(MAX(id), 0) AS max_id,
			COUNT(*) FILTER (WHERE is_read = false) AS cnt
		FROM notifications
		WHERE recipient_id = ? AND recipient_role = ?
	`, p.ID, p.Role).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.MaxID, row.Cnt, nil
}

func (r *NotificationRepository) MarkRead(id uint, p models.Principal, now time.Time) error {
	res := r.db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND recipient_role = ?", id, p.ID, p.Role).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(p models.Principal, now time.Time) (int64, error) {
	res := r.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND recipient_role = ? AND is_read = false", p.ID, p.Role).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	return res.RowsAffected, res.Error
}

func (r *NotificationRepository) MarkReadByMessage(messageID uint, p models.Principal, now time.Time) error {
	return r.db.Model(&models.Notification{}).
		Where("message_id = ? AND recipient_id = ? AND recipient_role = ? AND is_read = false", messageID, p.ID, p.Role).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

func (r *NotificationRepository) MarkReadByConversation(conversationID uint, p models.Principal, now time.Time) error {
	return r.db.Model(&models.Notification{}).
		Where("conversation_id = ? AND recipient_id = ? AND recipient_role = ? AND is_read = false", conversationID, p.ID, p.Role).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

func (r *NotificationRepository) GetPreferences(p models.Principal) (*models.NotificationPreference, error) {
	// Lazily created with defaults on first access.
	pref := models.DefaultPreferences(p)
	err := r.db.
		Where("user_id = ? AND user_role = ?", p.ID, p.Role).
		FirstOrCreate(pref).Error
	if err != nil {
		return nil, err
	}
	return pref, nil
}

func (r *NotificationRepository) SavePreferences(pref *models.NotificationPreference) error {
	return r.db.Save(pref).Error
}
