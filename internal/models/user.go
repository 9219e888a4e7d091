package models

import "time"

// SubscriptionTier determines which balance bucket a deduction draws from.
type SubscriptionTier string

// Subscription tiers supported by the billing engine.
const (
	// TierFree grants a monthly allowance of free tokens.
	TierFree SubscriptionTier = "free"
	// TierPremiumMonthly grants a daily token allowance.
	TierPremiumMonthly SubscriptionTier = "premium_monthly"
	// TierPaidTokens draws from a purchased token balance.
	TierPaidTokens SubscriptionTier = "paid_tokens"
)

// User represents an end-user account and its token balances.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text;index"`                // Contact email.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Disabled bool `gorm:"not null;default:false"` // Blocks sign-in when true.

	TOTPSecret string `gorm:"type:text"` // TOTP secret for MFA, empty when disabled.

	Tier SubscriptionTier `gorm:"type:text;not null;default:'free';index"` // Active subscription tier.

	TokensRemaining         int64     `gorm:"not null;default:0"` // Purchased token balance.
	TotalTokensUsed         int64     `gorm:"not null;default:0"` // Lifetime tokens consumed.
	FreeTokensUsedThisMonth int64     `gorm:"not null;default:0"` // Free-tier usage since last monthly reset.
	FreeTokensResetDate     time.Time `gorm:"not null"`           // Next monthly rollover boundary.

	DailyTokenLimit *int64     // Remaining daily allowance, premium tier only.
	LastDailyReset  *time.Time // Date of the last daily rollover, premium tier only.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
