package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/sitesmith-dev/sitesmith/internal/db"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Caps holds the configurable allowance ceilings.
type Caps struct {
	MonthlyFreeCap  int64 // Free-tier tokens per calendar month.
	DailyPremiumCap int64 // Premium-tier tokens per calendar day.
}

// Engine performs entitlement checks, lazy resets, deductions, and credits
// against user accounts. All mutating calls run inside a transaction that
// locks the account row, so concurrent calls on one account serialize.
type Engine struct {
	conn *gorm.DB
	caps Caps
	now  func() time.Time
}

// NewEngine constructs an Engine over the given connection.
func NewEngine(conn *gorm.DB, caps Caps) *Engine {
	return &Engine{
		conn: conn,
		caps: caps,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// errRolledBack aborts a transaction after a business-rule failure. The
// Result captured by the closure already carries the reason.
var errRolledBack = errors.New("tokens: rolled back")

// lockForUpdate adds a row lock on dialects that support it. SQLite has a
// single writer and serializes transactions on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if db.IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// loadUserForUpdate fetches and locks the account row.
func loadUserForUpdate(tx *gorm.DB, userID uint64) (*models.User, error) {
	var user models.User
	if errFind := lockForUpdate(tx).First(&user, userID).Error; errFind != nil {
		return nil, errFind
	}
	return &user, nil
}

// Balance applies any due rollovers and returns the account's current
// entitlement together with the refreshed account snapshot.
func (e *Engine) Balance(ctx context.Context, userID uint64) (Entitlement, *models.User, error) {
	now := e.now()

	var user *models.User
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, errLoad := loadUserForUpdate(tx, userID)
		if errLoad != nil {
			return errLoad
		}
		refreshed, errReset := e.applyResets(tx, loaded, now)
		if errReset != nil {
			return errReset
		}
		user = refreshed
		return nil
	})
	if errTx != nil {
		return Entitlement{}, nil, errTx
	}
	return e.EntitlementFor(user), user, nil
}

// transactionExists reports whether a ledger entry with the external
// reference already exists, used to make payment credits idempotent. It
// must run inside a transaction that already holds the account row lock,
// so that concurrent replays of the same reference serialize on the lock
// and the second one sees the first one's entry.
func transactionExists(tx *gorm.DB, externalRef string) (bool, error) {
	if externalRef == "" {
		return false, nil
	}
	var count int64
	errCount := tx.Model(&models.TokenTransaction{}).
		Where("external_ref = ?", externalRef).
		Count(&count).Error
	if errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}
