package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sitesmith-dev/sitesmith/internal/models"
)

// getUserID returns the authenticated user ID from the request context.
func getUserID(c *gin.Context) uint64 {
	value, ok := c.Get("userID")
	if !ok {
		return 0
	}
	id, ok := value.(uint64)
	if !ok {
		return 0
	}
	return id
}

// getUser returns the authenticated user loaded by the auth middleware.
func getUser(c *gin.Context) *models.User {
	value, ok := c.Get("user")
	if !ok {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
