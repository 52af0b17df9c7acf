package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/cache"
	"github.com/telio-letalle/Pronote-sub002/internal/httpx"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
	"github.com/telio-letalle/Pronote-sub002/internal/validation"
)

type ConversationHandler struct {
	conversationService *service.ConversationService
	receiptService      *service.ReceiptService
	deliveryCache       *cache.DeliveryCache
}

func NewConversationHandler(
	conversationService *service.ConversationService,
	receiptService *service.ReceiptService,
	deliveryCache *cache.DeliveryCache,
) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		receiptService:      receiptService,
		deliveryCache:       deliveryCache,
	}
}

// ListConversations returns the caller's conversations in one folder,
// most recent activity first.
func (h *ConversationHandler) ListConversations(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	folder := models.Folder(c.Query("folder", string(models.FolderInbox)))
	if !folder.Valid() {
		return httpx.BadRequest(c, "invalid_folder", "Unknown folder")
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	if rows, ok := h.deliveryCache.GetFolderList(p, folder); ok {
		if len(rows) > limit {
			rows = rows[:limit]
		}
		return c.JSON(fiber.Map{"conversations": rows, "count": len(rows)})
	}

	rows, err := h.conversationService.List(p, folder, limit)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	if rows == nil {
		rows = []models.ConversationListRow{}
	}
	_ = h.deliveryCache.SetFolderList(p, folder, rows)

	return c.JSON(fiber.Map{"conversations": rows, "count": len(rows)})
}

func (h *ConversationHandler) CreateConversation(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	var input service.CreateConversationInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	input.Title = validation.TrimAndLimit(input.Title, 255)
	if input.Audience.ClassName != "" && !validation.ValidateClassName(input.Audience.ClassName) {
		return httpx.BadRequest(c, "invalid_class", "Invalid class name")
	}

	conv, err := h.conversationService.Create(c.Context(), p, httpx.LocalDisplayName(c), input)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.InvalidateFolders(p)

	return c.Status(fiber.StatusCreated).JSON(conv)
}

// ApplyAction applies one folder or read-state action to a conversation:
// archive, unarchive, delete, restore, delete_permanently, mark_read or
// mark_unread.
func (h *ConversationHandler) ApplyAction(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	action := c.Params("action")
	if action == "mark_unread" {
		if err := h.receiptService.MarkUnread(p, conversationID); err != nil {
			return httpx.FromServiceError(c, err)
		}
		_ = h.deliveryCache.InvalidateFolders(p)
		return c.JSON(fiber.Map{"status": "ok"})
	}

	folderAction := models.FolderAction(action)
	if !folderAction.Valid() {
		return httpx.BadRequest(c, "invalid_action", "Unknown action")
	}
	if err := h.conversationService.SetFolder(c.Context(), conversationID, p, folderAction); err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.InvalidateFolders(p)

	return c.JSON(fiber.Map{"status": "ok"})
}

type bulkInput struct {
	IDs    []uint `json:"ids"`
	Action string `json:"action"`
}

// BulkAction applies one action to many conversations. Failing ids are
// skipped; the response reports how many succeeded.
func (h *ConversationHandler) BulkAction(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	var input bulkInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	// ids may also arrive comma-separated in the query string.
	if len(input.IDs) == 0 {
		if ids, ok := validation.ParseIDList(c.Query("ids")); ok {
			input.IDs = ids
		}
	}

	if input.Action == "mark_unread" {
		succeeded := 0
		for _, id := range input.IDs {
			if id == 0 {
				continue
			}
			if err := h.receiptService.MarkUnread(p, id); err == nil {
				succeeded++
			}
		}
		_ = h.deliveryCache.InvalidateFolders(p)
		return c.JSON(fiber.Map{"succeeded": succeeded, "requested": len(input.IDs)})
	}

	succeeded, err := h.conversationService.Bulk(c.Context(), p, input.IDs, models.FolderAction(input.Action))
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.InvalidateFolders(p)

	return c.JSON(fiber.Map{"succeeded": succeeded, "requested": len(input.IDs)})
}

func (h *ConversationHandler) ListParticipants(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	participants, err := h.conversationService.Participants(p, conversationID)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}

	return c.JSON(fiber.Map{"participants": participants, "count": len(participants)})
}

func (h *ConversationHandler) AddParticipant(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	var input service.ParticipantInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	if err := h.conversationService.AddParticipant(p, conversationID, input); err != nil {
		return httpx.FromServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok"})
}

type targetInput struct {
	UserID uint        `json:"user_id"`
	Role   models.Role `json:"role"`
}

func (t targetInput) principal() (models.Principal, bool) {
	if t.UserID == 0 || !t.Role.Valid() {
		return models.Principal{}, false
	}
	return models.Principal{ID: t.UserID, Role: t.Role}, true
}

func (h *ConversationHandler) RemoveParticipant(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	var input targetInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	target, ok := input.principal()
	if !ok {
		return httpx.BadRequest(c, "invalid_target", "user_id and role are required")
	}

	if err := h.conversationService.RemoveParticipant(p, conversationID, target); err != nil {
		return httpx.FromServiceError(c, err)
	}
	_ = h.deliveryCache.InvalidateFolders(target)

	return c.JSON(fiber.Map{"status": "ok"})
}

type moderatorInput struct {
	targetInput
	Moderator bool `json:"moderator"`
}

func (h *ConversationHandler) SetModerator(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	var input moderatorInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	target, ok := input.principal()
	if !ok {
		return httpx.BadRequest(c, "invalid_target", "user_id and role are required")
	}

	if err := h.conversationService.SetModerator(p, conversationID, target, input.Moderator); err != nil {
		return httpx.FromServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

type replyInput struct {
	targetInput
	CanReply bool `json:"can_reply"`
}

func (h *ConversationHandler) GrantReply(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	var input replyInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	target, ok := input.principal()
	if !ok {
		return httpx.BadRequest(c, "invalid_target", "user_id and role are required")
	}

	if err := h.conversationService.GrantReply(p, conversationID, target, input.CanReply); err != nil {
		return httpx.FromServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
