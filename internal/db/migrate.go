package db

import (
	"fmt"

	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for all application models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.TokenTransaction{},
		&models.Conversation{},
		&models.ChatMessage{},
		&models.Setting{},
	)
}
