package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation groups chat messages for one website-building session.
type Conversation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"` // Owning user record.

	Title string `gorm:"type:text;not null"` // Display title, derived from the first prompt.
	Model string `gorm:"type:text;not null"` // Model used for this conversation.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last activity timestamp.
}

// ChatMessage stores a single message within a conversation.
type ChatMessage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64        `gorm:"not null;index"`            // Owning conversation ID.
	Conversation   *Conversation `gorm:"foreignKey:ConversationID"` // Owning conversation record.

	Role    string `gorm:"type:text;not null"` // Message role: user or assistant.
	Content string `gorm:"type:text;not null"` // Message body.

	TokensCharged int64 `gorm:"not null;default:0"` // Tokens deducted for this exchange.

	Meta datatypes.JSON `gorm:"type:jsonb"` // Provider metadata (finish reason, usage counts).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (ChatMessage) TableName() string {
	return "chat_messages"
}
