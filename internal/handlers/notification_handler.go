package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/cache"
	"github.com/telio-letalle/Pronote-sub002/internal/delivery"
	"github.com/telio-letalle/Pronote-sub002/internal/httpx"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
)

type NotificationHandler struct {
	notificationService *service.NotificationService
	gateway             *delivery.Gateway
	deliveryCache       *cache.DeliveryCache
}

func NewNotificationHandler(
	notificationService *service.NotificationService,
	gateway *delivery.Gateway,
	deliveryCache *cache.DeliveryCache,
) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		gateway:             gateway,
		deliveryCache:       deliveryCache,
	}
}

// GetNotifications serves the unread list with the state validator as an
// ETag, so clients poll with If-None-Match and usually get a bodyless 304.
func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	snapshot, err := h.gateway.NotificationChanges(p, limit)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.SetUnreadNotifications(p, snapshot.UnreadCount)

	c.Set(fiber.HeaderETag, snapshot.Validator)
	if match := c.Get(fiber.HeaderIfNoneMatch); match != "" && match == snapshot.Validator {
		return c.SendStatus(fiber.StatusNotModified)
	}
	return c.JSON(snapshot)
}

// GetUnreadCount is the cheap badge endpoint, cached briefly.
func (h *NotificationHandler) GetUnreadCount(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	if count, ok := h.deliveryCache.GetUnreadNotifications(p); ok {
		return c.JSON(fiber.Map{"unread_count": count})
	}

	count, err := h.notificationService.CountUnread(p)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.SetUnreadNotifications(p, count)

	return c.JSON(fiber.Map{"unread_count": count})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	notificationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_notification", "Invalid notification id")
	}

	if err := h.notificationService.MarkNotificationRead(p, notificationID); err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.InvalidateUnreadNotifications(p)

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	marked, err := h.notificationService.MarkAllRead(p)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.InvalidateUnreadNotifications(p)

	return c.JSON(fiber.Map{"marked": marked})
}

func (h *NotificationHandler) GetPreferences(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	pref, err := h.notificationService.Preferences(p)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	return c.JSON(pref)
}

// UpdatePreferences applies a partial update; unknown keys are rejected.
func (h *NotificationHandler) UpdatePreferences(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	var patch map[string]interface{}
	if err := c.BodyParser(&patch); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	pref, err := h.notificationService.UpdatePreferences(p, patch)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	return c.JSON(pref)
}
