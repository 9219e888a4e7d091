package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sitesmith-dev/sitesmith/internal/payments"
)

// BillingHandler exposes token pack purchase endpoints.
type BillingHandler struct {
	service *payments.Service
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(service *payments.Service) *BillingHandler {
	return &BillingHandler{service: service}
}

// Packs lists the purchasable token packs.
func (h *BillingHandler) Packs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packs": h.service.Packs()})
}

// checkoutRequest defines the request body for checkout creation.
type checkoutRequest struct {
	PackID string `json:"pack_id"`
}

// CreateCheckout starts a Stripe checkout session for a token pack.
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	user := getUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body checkoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	sessionID, url, errCreate := h.service.CreateCheckoutSession(user, body.PackID)
	if errCreate != nil {
		if errors.Is(errCreate, payments.ErrUnknownPack) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown token pack"})
			return
		}
		log.WithError(errCreate).Error("create checkout session failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "url": url})
}

// Webhook receives Stripe event deliveries. Authentication is the webhook
// signature, not a user JWT.
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read payload failed"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if errHandle := h.service.HandleWebhook(c.Request.Context(), payload, signature); errHandle != nil {
		log.WithError(errHandle).Warn("stripe webhook rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook rejected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
