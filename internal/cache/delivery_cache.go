package cache

import (
	"fmt"
	"time"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// TTL constants for different cache types
const (
	FolderListTTL  = 2 * time.Minute
	UnreadCountTTL = 1 * time.Minute
)

// DeliveryCache keeps the hot list views out of Postgres: per-folder
// conversation lists and unread notification counts. Every mutation path
// invalidates; TTLs only bound the damage of a missed invalidation.
type DeliveryCache struct {
	redis *RedisCache
}

func NewDeliveryCache(redis *RedisCache) *DeliveryCache {
	return &DeliveryCache{redis: redis}
}

func folderListKey(p models.Principal, folder models.Folder) string {
	return fmt.Sprintf("folder:%s:%d:%s", p.Role, p.ID, folder)
}

func unreadNotifKey(p models.Principal) string {
	return fmt.Sprintf("notifcount:%s:%d", p.Role, p.ID)
}

// GetFolderList retrieves a cached folder listing
func (dc *DeliveryCache) GetFolderList(p models.Principal, folder models.Folder) ([]models.ConversationListRow, bool) {
	if dc == nil || dc.redis == nil {
		return nil, false
	}
	data, err := dc.redis.Get(folderListKey(p, folder))
	if err != nil || data == nil {
		return nil, false
	}

	var rows []models.ConversationListRow
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// SetFolderList caches a folder listing
func (dc *DeliveryCache) SetFolderList(p models.Principal, folder models.Folder, rows []models.ConversationListRow) error {
	if dc == nil || dc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(rows)
	if err != nil {
		return err
	}
	return dc.redis.Set(folderListKey(p, folder), data, FolderListTTL)
}

// InvalidateFolders drops every folder listing for a principal. Folder
// actions move rows between listings, so all of them go at once.
func (dc *DeliveryCache) InvalidateFolders(p models.Principal) error {
	if dc == nil || dc.redis == nil {
		return nil
	}
	return dc.redis.DeletePattern(fmt.Sprintf("folder:%s:%d:*", p.Role, p.ID))
}

// GetUnreadNotifications retrieves a cached unread notification count
func (dc *DeliveryCache) GetUnreadNotifications(p models.Principal) (int64, bool) {
	if dc == nil || dc.redis == nil {
		return 0, false
	}
	data, err := dc.redis.Get(unreadNotifKey(p))
	if err != nil || data == nil {
		return 0, false
	}

	var count int64
	if err := msgpack.Unmarshal(data, &count); err != nil {
		return 0, false
	}
	return count, true
}

// SetUnreadNotifications caches an unread notification count
func (dc *DeliveryCache) SetUnreadNotifications(p models.Principal, count int64) error {
	if dc == nil || dc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(count)
	if err != nil {
		return err
	}
	return dc.redis.Set(unreadNotifKey(p), data, UnreadCountTTL)
}

// InvalidateUnreadNotifications removes a cached unread count
func (dc *DeliveryCache) InvalidateUnreadNotifications(p models.Principal) error {
	if dc == nil || dc.redis == nil {
		return nil
	}
	return dc.redis.Delete(unreadNotifKey(p))
}
