package handler

import (
	"net/http"

	"instanext/internal/middleware"
	"instanext/internal/service"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	messaging service.MessagingService
	log       logger.Logger
}

func NewMessageHandler(messaging service.MessagingService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messaging: messaging,
		log:       log,
	}
}

type SendMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

// ListConversations отдает диалоги текущего пользователя, свежие первыми.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthenticated)
		return
	}

	conversations, err := h.messaging.ListConversations(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversations)
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthenticated)
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid send request", "error", err, "user_id", userID)
		_ = c.Error(apperrors.ErrInvalidArgument)
		return
	}

	message, err := h.messaging.Send(c.Request.Context(), userID, req.RecipientID, req.Text)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": message})
}

// History отдает переписку с пользователем :userId.
func (h *MessageHandler) History(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.ErrUnauthenticated)
		return
	}

	conversation, err := h.messaging.History(c.Request.Context(), userID, c.Param("userId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}
