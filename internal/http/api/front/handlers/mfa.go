package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sitesmith-dev/sitesmith/internal/security"
	"github.com/sitesmith-dev/sitesmith/internal/settings"
	"gorm.io/gorm"
)

// MFAHandler handles TOTP enrolment and removal.
type MFAHandler struct {
	db *gorm.DB
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{db: db}
}

// pendingTOTPPrefix marks a stored secret that has not been confirmed yet.
const pendingTOTPPrefix = "pending:"

// Status reports whether MFA is enabled for the current user.
func (h *MFAHandler) Status(c *gin.Context) {
	user := getUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	secret := strings.TrimSpace(user.TOTPSecret)
	c.JSON(http.StatusOK, gin.H{
		"totp_enabled": secret != "" && !strings.HasPrefix(secret, pendingTOTPPrefix),
	})
}

// PrepareTOTP generates a new secret and provisioning URL. The secret stays
// pending until ConfirmTOTP proves the authenticator was enrolled.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	user := getUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	secret, url, errGen := security.GenerateTOTPSecret(
		settings.StringValue(settings.SiteNameKey, settings.DefaultSiteName),
		user.Username,
	)
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate totp secret failed"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(user).Updates(map[string]any{
		"totp_secret": pendingTOTPPrefix + secret,
		"updated_at":  time.Now().UTC(),
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store totp secret failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"secret": secret, "url": url})
}

// confirmTOTPRequest defines the body for TOTP confirmation and disabling.
type confirmTOTPRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP verifies a code against the pending secret and activates MFA.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	user := getUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	secret := strings.TrimSpace(user.TOTPSecret)
	if !strings.HasPrefix(secret, pendingTOTPPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no pending totp enrolment"})
		return
	}
	secret = strings.TrimPrefix(secret, pendingTOTPPrefix)

	var body confirmTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !security.ValidateTOTP(body.Code, secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(user).Updates(map[string]any{
		"totp_secret": secret,
		"updated_at":  time.Now().UTC(),
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enable totp failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DisableTOTP removes MFA after verifying a current code.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	user := getUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	secret := strings.TrimSpace(user.TOTPSecret)
	if secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mfa not enabled"})
		return
	}

	var body confirmTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !strings.HasPrefix(secret, pendingTOTPPrefix) && !security.ValidateTOTP(body.Code, secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(user).Updates(map[string]any{
		"totp_secret": "",
		"updated_at":  time.Now().UTC(),
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable totp failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
