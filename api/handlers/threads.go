package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
)

type ThreadsHandler struct {
	threads interfaces.ThreadService
}

func NewThreadsHandler(threads interfaces.ThreadService) *ThreadsHandler {
	return &ThreadsHandler{threads: threads}
}

type linkRequest struct {
	ReferenceType string `json:"referenceType" binding:"required"`
	ReferenceID   string `json:"referenceId" binding:"required"`
}

func (h *ThreadsHandler) Link() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request linkRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		thread, err := h.threads.Link(c.Request.Context(), c.Param("id"), request.ReferenceType, request.ReferenceID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, thread)
	}
}

func (h *ThreadsHandler) Unlink() gin.HandlerFunc {
	return func(c *gin.Context) {
		thread, err := h.threads.Unlink(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, thread)
	}
}

func (h *ThreadsHandler) ListByReference() gin.HandlerFunc {
	return func(c *gin.Context) {
		referenceType := c.Query("referenceType")
		referenceID := c.Query("referenceId")
		if referenceType == "" || referenceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "referenceType and referenceId are required"})
			return
		}

		threads, err := h.threads.ListByReference(c.Request.Context(), referenceType, referenceID)
		if err != nil {
			respondError(c, err)
			return
		}
		if threads == nil {
			threads = []*models.EmailThread{}
		}
		c.JSON(http.StatusOK, gin.H{"threads": threads})
	}
}
