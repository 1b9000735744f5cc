package handlers

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailsync/interfaces"
)

type AttachmentsHandler struct {
	attachments interfaces.EmailAttachmentRepository
	storage     interfaces.StorageService
}

func NewAttachmentsHandler(attachments interfaces.EmailAttachmentRepository, storage interfaces.StorageService) *AttachmentsHandler {
	return &AttachmentsHandler{attachments: attachments, storage: storage}
}

// Download streams stored attachment content. Inline rewritten images point here
// when the bucket has no public url.
func (h *AttachmentsHandler) Download() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		attachment, err := h.attachments.GetByID(ctx, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if attachment == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		if h.storage == nil || attachment.StorageKey == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment content not stored"})
			return
		}

		data, err := h.storage.Download(ctx, attachment.StorageKey)
		if err != nil {
			respondError(c, err)
			return
		}

		disposition := "attachment"
		if attachment.IsInline {
			disposition = "inline"
		}
		c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": attachment.Filename}))

		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(http.StatusOK, contentType, data)
	}
}
