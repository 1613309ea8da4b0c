package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
)

// ConversationHandler manages the REST surface over conversations.
type ConversationHandler struct {
	convRepo repositories.ConversationRepository
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler. The emitter may be nil.
func NewConversationHandler(convRepo repositories.ConversationRepository, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, audit: audit}
}

// DeleteConversation removes a conversation and cascades to all its messages.
// Only a participant may delete.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt64("userID")
	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	if err := h.convRepo.DeleteConversationCascade(c.Request.Context(), conversationID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete conversation"})
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.Record{
		Level:          "INFO",
		Text:           fmt.Sprintf("conversation %d deleted", conversationID),
		RequestID:      requestIDFromContext(c),
		UserID:         userIDFromContext(c),
		ConversationID: &conversationID,
	})

	c.Status(http.StatusNoContent)
}
