package models

import "time"

// TransactionKind classifies a ledger entry.
type TransactionKind string

// Transaction kinds recorded in the ledger.
const (
	// TransactionPurchase credits tokens bought through a payment provider.
	TransactionPurchase TransactionKind = "purchase"
	// TransactionUsage debits tokens consumed by a request.
	TransactionUsage TransactionKind = "usage"
	// TransactionBonus credits tokens granted without payment.
	TransactionBonus TransactionKind = "bonus"
)

// TokenTransaction is an immutable ledger entry for a balance change.
// Rows are only ever inserted, never updated or deleted.
type TokenTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Account the entry belongs to.
	User   *User  `gorm:"foreignKey:UserID"` // Associated user record.

	Kind   TransactionKind `gorm:"type:text;not null;index"` // Entry classification.
	Amount int64           `gorm:"not null"`                 // Signed token amount, negative for usage.

	Description string `gorm:"type:text"`       // Free-text description.
	Model       string `gorm:"type:text"`       // Model identifier for usage entries.
	ExternalRef string `gorm:"type:text;index"` // External payment reference, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

// TableName overrides the default table name.
func (TokenTransaction) TableName() string {
	return "token_transactions"
}
