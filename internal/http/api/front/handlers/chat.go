package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sitesmith-dev/sitesmith/internal/chat"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// ChatHandler exposes the assistant endpoints.
type ChatHandler struct {
	db      *gorm.DB
	service *chat.Service
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(db *gorm.DB, service *chat.Service) *ChatHandler {
	return &ChatHandler{db: db, service: service}
}

// Models lists the model catalog.
func (h *ChatHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": chat.Models()})
}

// sendRequest defines the request body for a chat message.
type sendRequest struct {
	ConversationID uint64 `json:"conversation_id"`
	Model          string `json:"model"`
	Message        string `json:"message"`
}

// Send forwards a prompt to the assistant, charging the token engine.
func (h *ChatHandler) Send(c *gin.Context) {
	user := getUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body sendRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing message"})
		return
	}
	if body.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing model"})
		return
	}

	result, denied, errSend := h.service.Send(c.Request.Context(), user, body.ConversationID, body.Model, body.Message)
	if denied != nil {
		// Out of tokens for the active bucket: the SPA shows an upgrade
		// or purchase prompt from this payload.
		c.JSON(http.StatusPaymentRequired, denied)
		return
	}
	if errSend != nil {
		switch {
		case errors.Is(errSend, chat.ErrUnknownModel):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model"})
		case errors.Is(errSend, chat.ErrModelRestricted):
			c.JSON(http.StatusForbidden, gin.H{"error": "model requires a premium or paid plan"})
		case errors.Is(errSend, chat.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "assistant request failed"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// Conversations lists the user's conversations, most recent first.
func (h *ChatHandler) Conversations(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var rows []models.Conversation
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(100).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query conversations failed"})
		return
	}

	items := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		items = append(items, gin.H{
			"id":         row.ID,
			"title":      row.Title,
			"model":      row.Model,
			"created_at": row.CreatedAt,
			"updated_at": row.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Conversation returns one conversation with its messages.
func (h *ChatHandler) Conversation(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	var conversation models.Conversation
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conversation).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query conversation failed"})
		return
	}

	var messages []models.ChatMessage
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("conversation_id = ?", conversation.ID).
		Order("id ASC").
		Find(&messages).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query messages failed"})
		return
	}

	items := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		items = append(items, gin.H{
			"id":             msg.ID,
			"role":           msg.Role,
			"content":        msg.Content,
			"tokens_charged": msg.TokensCharged,
			"created_at":     msg.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       conversation.ID,
		"title":    conversation.Title,
		"model":    conversation.Model,
		"messages": items,
	})
}
