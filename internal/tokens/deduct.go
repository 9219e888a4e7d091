package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// Deduct consumes cost tokens from the account's active bucket and appends
// a usage ledger entry. Buckets are mutually exclusive: a call charges the
// tier's bucket or fails, it never falls back to another bucket and never
// performs a partial deduction.
func (e *Engine) Deduct(ctx context.Context, userID uint64, cost int64, model, description string) Result {
	if cost <= 0 {
		return failure(ReasonInvalidArgument, "cost must be a positive token amount")
	}

	now := e.now()

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

		user, errReset := e.applyResets(tx, user, now)
		if errReset != nil {
			return errReset
		}

		switch user.Tier {
		case models.TierPremiumMonthly:
			return e.deductPremium(tx, user, cost, model, description, &res)
		case models.TierFree:
			return e.deductFree(tx, user, cost, model, description, &res)
		default:
			return e.deductPurchased(tx, user, cost, model, description, &res)
		}
	})

	if errTx != nil && !errors.Is(errTx, errRolledBack) {
		return failure(ReasonPersistenceFailure, "storage error, retry the request")
	}
	return res
}

// deductPremium charges the daily allowance bucket.
func (e *Engine) deductPremium(tx *gorm.DB, user *models.User, cost int64, model, description string, res *Result) error {
	allowance := e.EntitlementFor(user).TokensAvailable
	if allowance <= 0 {
		*res = failure(ReasonDailyLimitReached, "daily token limit reached, allowance resets tomorrow")
		return errRolledBack
	}
	if cost > allowance {
		out := failure(ReasonDailyLimitExceeded, fmt.Sprintf("request needs %d tokens but only %d remain today", cost, allowance))
		out.RemainingTokens = int64Ptr(allowance)
		*res = out
		return errRolledBack
	}

	remaining := allowance - cost
	if errUpdate := tx.Model(user).Update("daily_token_limit", remaining).Error; errUpdate != nil {
		return errUpdate
	}
	if errLedger := appendUsage(tx, user.ID, cost, model, description); errLedger != nil {
		return errLedger
	}

	*res = Result{
		Success:         true,
		TokenSource:     SourcePremiumDaily,
		RemainingTokens: int64Ptr(remaining),
	}
	return nil
}

// deductFree charges the monthly free allowance bucket.
func (e *Engine) deductFree(tx *gorm.DB, user *models.User, cost int64, model, description string, res *Result) error {
	freeLeft := e.caps.MonthlyFreeCap - user.FreeTokensUsedThisMonth
	if freeLeft < 0 {
		freeLeft = 0
	}

	switch {
	case freeLeft >= cost:
		if errUpdate := tx.Model(user).
			Update("free_tokens_used_this_month", gorm.Expr("free_tokens_used_this_month + ?", cost)).
			Error; errUpdate != nil {
			return errUpdate
		}
		if errLedger := appendUsage(tx, user.ID, cost, model, description+" (free tier)"); errLedger != nil {
			return errLedger
		}
		*res = Result{
			Success:         true,
			TokenSource:     SourceFreeMonthly,
			RemainingTokens: int64Ptr(freeLeft - cost),
			FreeTokensLeft:  int64Ptr(freeLeft - cost),
		}
		return nil
	case freeLeft > 0:
		out := failure(ReasonInsufficientFreeTokens, fmt.Sprintf("request needs %d tokens but only %d free tokens remain this month", cost, freeLeft))
		out.FreeTokensLeft = int64Ptr(freeLeft)
		*res = out
		return errRolledBack
	default:
		out := failure(ReasonFreeQuotaExhausted, "free monthly quota exhausted")
		out.FreeTokensLeft = int64Ptr(0)
		*res = out
		return errRolledBack
	}
}

// deductPurchased charges the purchased balance bucket.
func (e *Engine) deductPurchased(tx *gorm.DB, user *models.User, cost int64, model, description string, res *Result) error {
	if user.TokensRemaining < cost {
		out := failure(ReasonInsufficientPurchasedTokens, fmt.Sprintf("request needs %d tokens but only %d remain", cost, user.TokensRemaining))
		out.RemainingTokens = int64Ptr(user.TokensRemaining)
		*res = out
		return errRolledBack
	}

	if errUpdate := tx.Model(user).Updates(map[string]any{
		"tokens_remaining":  gorm.Expr("tokens_remaining - ?", cost),
		"total_tokens_used": gorm.Expr("total_tokens_used + ?", cost),
	}).Error; errUpdate != nil {
		return errUpdate
	}
	if errLedger := appendUsage(tx, user.ID, cost, model, description); errLedger != nil {
		return errLedger
	}

	*res = Result{
		Success:         true,
		TokenSource:     SourcePurchased,
		RemainingTokens: int64Ptr(user.TokensRemaining - cost),
	}
	return nil
}

// appendUsage inserts the immutable usage ledger entry for a deduction.
func appendUsage(tx *gorm.DB, userID uint64, cost int64, model, description string) error {
	entry := models.TokenTransaction{
		UserID:      userID,
		Kind:        models.TransactionUsage,
		Amount:      -cost,
		Description: description,
		Model:       model,
	}
	return tx.Create(&entry).Error
}
