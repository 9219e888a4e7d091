package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"github.com/sitesmith-dev/sitesmith/internal/tokens"
	"gorm.io/gorm"
)

// TokensHandler exposes balance and ledger endpoints.
type TokensHandler struct {
	db     *gorm.DB
	engine *tokens.Engine
}

// NewTokensHandler constructs a TokensHandler.
func NewTokensHandler(db *gorm.DB, engine *tokens.Engine) *TokensHandler {
	return &TokensHandler{db: db, engine: engine}
}

// Balance applies pending rollovers and returns the current entitlement.
func (h *TokensHandler) Balance(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entitlement, user, errBalance := h.engine.Balance(c.Request.Context(), userID)
	if errBalance != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query balance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tier":              user.Tier,
		"can_use":           entitlement.CanUse,
		"tokens_available":  entitlement.TokensAvailable,
		"token_source":      entitlement.TokenSource,
		"tokens_remaining":  user.TokensRemaining,
		"total_tokens_used": user.TotalTokensUsed,
		"free_tokens_used":  user.FreeTokensUsedThisMonth,
		"free_reset_date":   user.FreeTokensResetDate,
	})
}

// transactionDTO defines the ledger response payload.
type transactionDTO struct {
	ID          uint64                 `json:"id"`
	Kind        models.TransactionKind `json:"kind"`
	Amount      int64                  `json:"amount"`
	Description string                 `json:"description"`
	Model       string                 `json:"model,omitempty"`
	ExternalRef string                 `json:"external_ref,omitempty"`
	CreatedAt   string                 `json:"created_at"`
}

// Transactions lists the user's ledger entries, newest first.
func (h *TokensHandler) Transactions(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.TokenTransaction{}).Where("user_id = ?", userID)
	if kind := c.Query("kind"); kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count transactions failed"})
		return
	}

	var rows []models.TokenTransaction
	if errFind := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query transactions failed"})
		return
	}

	items := make([]transactionDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, transactionDTO{
			ID:          row.ID,
			Kind:        row.Kind,
			Amount:      row.Amount,
			Description: row.Description,
			Model:       row.Model,
			ExternalRef: row.ExternalRef,
			CreatedAt:   row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
