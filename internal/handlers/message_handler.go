package handlers

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/delivery"
	"github.com/telio-letalle/Pronote-sub002/internal/httpx"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
	"github.com/telio-letalle/Pronote-sub002/internal/storage"
	"github.com/telio-letalle/Pronote-sub002/internal/validation"
)

const (
	maxAttachmentsPerMessage = 5
	maxAttachmentBytes       = 10 << 20
	presignedURLExpiry       = 15 * time.Minute
)

type MessageHandler struct {
	messageService *service.MessageService
	receiptService *service.ReceiptService
	gateway        *delivery.Gateway
	fileStore      *storage.FileStore
}

func NewMessageHandler(
	messageService *service.MessageService,
	receiptService *service.ReceiptService,
	gateway *delivery.Gateway,
	fileStore *storage.FileStore,
) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		receiptService: receiptService,
		gateway:        gateway,
		fileStore:      fileStore,
	}
}

type attachmentUpload struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"` // base64
}

type sendMessageInput struct {
	service.AppendInput
	Attachments []attachmentUpload `json:"attachments"`
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	var input sendMessageInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	if input.ConversationID == 0 {
		return httpx.BadRequest(c, "missing_conversation", "conversation_id is required")
	}
	input.Body = validation.TrimBody(input.Body)
	if !validation.MessageBodyOK(input.Body, models.MaxMessageBodyLength) {
		return httpx.BadRequest(c, "invalid_body", "Message body is empty or too long")
	}
	if len(input.Attachments) > maxAttachmentsPerMessage {
		return httpx.BadRequest(c, "too_many_attachments", "Too many attachments")
	}

	// Attachments are uploaded to the file store before the message row
	// exists; a failed append leaves orphan objects, never broken rows.
	for _, upload := range input.Attachments {
		if upload.FileName == "" || upload.Data == "" {
			return httpx.BadRequest(c, "invalid_attachment", "file_name and data are required")
		}
		if h.fileStore == nil {
			return httpx.BadRequest(c, "attachments_unavailable", "Attachments are not enabled")
		}
		data, err := base64.StdEncoding.DecodeString(upload.Data)
		if err != nil {
			return httpx.BadRequest(c, "invalid_attachment", "Attachment data must be base64")
		}
		if len(data) == 0 || len(data) > maxAttachmentBytes {
			return httpx.BadRequest(c, "invalid_attachment", "Attachment size out of range")
		}
		key, err := h.fileStore.Store(c.Context(), upload.FileName, bytes.NewReader(data), int64(len(data)), upload.ContentType)
		if err != nil {
			return httpx.Internal(c, "attachment_upload_failed")
		}
		input.AppendInput.Attachments = append(input.AppendInput.Attachments, service.AttachmentInput{
			FileName:    upload.FileName,
			StoragePath: key,
		})
	}

	msg, err := h.messageService.Append(c.Context(), p, httpx.LocalDisplayName(c), input.AppendInput)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}

	response := msg.ToResponse()
	h.presign(c, response.Attachments)
	return c.Status(fiber.StatusCreated).JSON(response)
}

// GetMessages serves the conditional poll: messages newer than since_id
// plus the state validator as an ETag. A matching If-None-Match short
// circuits to 304 with no body.
func (h *MessageHandler) GetMessages(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	conversationID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_conversation", "Invalid conversation id")
	}

	var sinceID uint
	if sinceStr := c.Query("since_id"); sinceStr != "" {
		since, err := strconv.ParseUint(sinceStr, 10, 32)
		if err != nil {
			return httpx.BadRequest(c, "invalid_since_id", "Invalid since_id")
		}
		sinceID = uint(since)
	}

	snapshot, err := h.gateway.ConversationChanges(p, conversationID, sinceID)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}

	c.Set(fiber.HeaderETag, snapshot.Validator)
	if match := c.Get(fiber.HeaderIfNoneMatch); match != "" && match == snapshot.Validator {
		return c.SendStatus(fiber.StatusNotModified)
	}

	for i := range snapshot.Messages {
		h.presign(c, snapshot.Messages[i].Attachments)
	}
	return c.JSON(snapshot)
}

func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	messageID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}

	if err := h.receiptService.MarkRead(p, messageID); err != nil {
		return httpx.FromServiceError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// GetReadStatus reports how many of the other participants have read a
// message, for the sender's delivery confirmation view.
func (h *MessageHandler) GetReadStatus(c *fiber.Ctx) error {
	p := httpx.LocalPrincipal(c)

	messageID, err := paramID(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}

	status, err := h.receiptService.ReadStatus(p, messageID)
	if err != nil {
		return httpx.FromServiceError(c, err)
	}
	return c.JSON(status)
}

// presign fills time-limited download URLs. Best-effort: an attachment
// without a URL is still listed by name.
func (h *MessageHandler) presign(c *fiber.Ctx, attachments []models.Attachment) {
	if h.fileStore == nil {
		return
	}
	for i := range attachments {
		url, err := h.fileStore.PresignedURL(c.Context(), attachments[i].StoragePath, presignedURLExpiry)
		if err != nil {
			continue
		}
		attachments[i].URL = url
	}
}
