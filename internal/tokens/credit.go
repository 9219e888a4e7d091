package tokens

import (
	"context"
	"errors"

	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// Credit adds amount tokens to the account's purchased balance and appends
// a purchase or bonus ledger entry. externalRef carries the payment
// provider reference when the credit comes from a confirmed payment; a
// non-empty ref makes the credit idempotent across webhook replays.
func (e *Engine) Credit(ctx context.Context, userID uint64, amount int64, kind models.TransactionKind, description, externalRef string) Result {
	if amount <= 0 {
		return failure(ReasonInvalidArgument, "amount must be a positive token amount")
	}
	if kind != models.TransactionPurchase && kind != models.TransactionBonus {
		return failure(ReasonInvalidArgument, "kind must be purchase or bonus")
	}

	var res Result
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLoad := loadUserForUpdate(tx, userID)
		if errLoad != nil {
			if errors.Is(errLoad, gorm.ErrRecordNotFound) {
				res = failure(ReasonAccountNotFound, "account not found")
				return errRolledBack
			}
			return errLoad
		}

		// The replay check runs under the row lock: a concurrent delivery
		// of the same reference blocks on loadUserForUpdate until this
		// transaction commits, then finds the entry and returns early.
		if exists, errCheck := transactionExists(tx, externalRef); errCheck != nil {
			return errCheck
		} else if exists {
			res = Result{Success: true, TokenSource: SourcePurchased}
			return errRolledBack
		}

		if errUpdate := tx.Model(user).
			Update("tokens_remaining", gorm.Expr("tokens_remaining + ?", amount)).
			Error; errUpdate != nil {
			return errUpdate
		}

		entry := models.TokenTransaction{
			UserID:      user.ID,
			Kind:        kind,
			Amount:      amount,
			Description: description,
			ExternalRef: externalRef,
		}
		if errLedger := tx.Create(&entry).Error; errLedger != nil {
			return errLedger
		}

		res = Result{
			Success:         true,
			TokenSource:     SourcePurchased,
			RemainingTokens: int64Ptr(user.TokensRemaining + amount),
		}
		return nil
	})

	if errTx != nil && !errors.Is(errTx, errRolledBack) {
		return failure(ReasonPersistenceFailure, "storage error, retry the request")
	}
	return res
}
